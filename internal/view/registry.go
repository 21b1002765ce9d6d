// Package view は画像バッファを表示用ハンドルとして公開し、その解放を管理します。
package view

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnknownHandle は未発行または解放済みのハンドルを解放しようとした場合に返ります。
var ErrUnknownHandle = errors.New("view: unknown or already released handle")

// Handle はバッファを表示用に参照する不透明な識別子です。
type Handle string

// String はハンドル文字列を返します。
func (h Handle) String() string {
	return string(h)
}

// URL は表示用エンドポイントのパスを返します。
func (h Handle) URL() string {
	if h == "" {
		return ""
	}
	return "/api/views/" + string(h)
}

// Provider はハンドルの発行と解放を行います。
// Release は Acquire で得たハンドル毎にちょうど1回だけ呼び出します。
type Provider interface {
	Acquire(data []byte) Handle
	Release(h Handle) error
}

// Stats は発行・解放の累計です。
type Stats struct {
	Acquired int64
	Released int64
	Live     int
}

type entry struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// Registry はワークスペース単位のハンドル台帳です。
type Registry struct {
	mu       sync.RWMutex
	entries  map[Handle]*entry
	acquired atomic.Int64
	released atomic.Int64
	logger   zerolog.Logger
}

// NewRegistry は空の台帳を作成します。
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[Handle]*entry),
		logger:  logger.With().Str("component", "view").Logger(),
	}
}

// Acquire は呼び出し毎に新しいハンドルを発行します。同じバッファでも別のハンドルになります。
func (r *Registry) Acquire(data []byte) Handle {
	h := Handle(uuid.NewString())
	e := &entry{
		data:        data,
		contentType: mimetype.Detect(data).String(),
		createdAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	r.entries[h] = e
	r.mu.Unlock()

	r.acquired.Add(1)
	return h
}

// Release はハンドルを無効化します。二重解放は不具合として ErrUnknownHandle を返します。
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	_, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Error().Str("handle", h.String()).Msg("release of unknown view handle")
		return ErrUnknownHandle
	}
	r.released.Add(1)
	return nil
}

// Open はハンドルが指すバッファと Content-Type を返します。
func (r *Registry) Open(h Handle) ([]byte, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, "", false
	}
	return e.data, e.contentType, true
}

// Live は未解放のハンドル数を返します。
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats は発行・解放の累計を返します。
func (r *Registry) Stats() Stats {
	return Stats{
		Acquired: r.acquired.Load(),
		Released: r.released.Load(),
		Live:     r.Live(),
	}
}
