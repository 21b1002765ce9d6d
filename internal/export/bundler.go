// Package export は完了済みジョブの成果物を1つのアーカイブにまとめて提供します。
package export

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/apperrors"
	"github.com/asif420570/Image-compressor/internal/jobs"
)

// DefaultPrefix はアーカイブ内のファイル名に付ける既定の接頭辞です。
const DefaultPrefix = "compressed_"

// ArchiveFilename はダウンロード時のファイル名です。
const ArchiveFilename = "compressed_images.zip"

var (
	// ErrBusy はまとめ処理の実行中に再度要求された場合に返ります。
	ErrBusy = apperrors.Busy(apperrors.CodeExportBusy, "エクスポートを処理中です。完了までお待ちください。")
	// ErrNothingToExport は完了済みのジョブが1件も無い場合に返ります。
	ErrNothingToExport = apperrors.Conflict(apperrors.CodeNothingToExport, "エクスポートできる画像がありません。")
)

// JobSource はエクスポート対象のジョブ一覧を提供します。
type JobSource interface {
	Jobs() []jobs.Job
}

// MetricsRecorder はエクスポートのメトリクスを記録します（任意）。
type MetricsRecorder interface {
	RecordExport(ctx context.Context, success bool, entries int, durationSeconds float64)
}

// Archive はまとめ処理の成果物です。
type Archive struct {
	Filename string
	Data     []byte
	Entries  int
}

// Bundler は Store 上の done ジョブを収集し、Archiver に渡します。同時に1件しか処理しません。
type Bundler struct {
	source   JobSource
	archiver Archiver
	prefix   string
	busy     atomic.Bool
	metrics  MetricsRecorder
	logger   zerolog.Logger
}

// BundlerConfig は Bundler の依存をまとめたものです。
type BundlerConfig struct {
	Source   JobSource
	Archiver Archiver
	Prefix   string
	Metrics  MetricsRecorder
	Logger   zerolog.Logger
}

// NewBundler は Bundler を作成します。Archiver 未指定時は zip を使います。
func NewBundler(cfg BundlerConfig) *Bundler {
	archiver := cfg.Archiver
	if archiver == nil {
		archiver = NewZipArchiver()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bundler{
		source:   cfg.Source,
		archiver: archiver,
		prefix:   prefix,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With().Str("component", "bundler").Logger(),
	}
}

// Busy はまとめ処理の実行中かを返します。
func (b *Bundler) Busy() bool {
	return b.busy.Load()
}

// ExportAll は呼び出し時点の done ジョブをまとめたアーカイブを返します。
func (b *Bundler) ExportAll(ctx context.Context) (*Archive, error) {
	r, err := b.Reserve()
	if err != nil {
		return nil, err
	}
	return r.Bundle(ctx)
}

// Reserve は処理中フラグを立て、その時点の done ジョブを確定させます。
// 返された Reservation は Bundle か Cancel のどちらかを必ず1回呼び出します。
func (b *Bundler) Reserve() (*Reservation, error) {
	if !b.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	var entries []Entry
	var total int64
	for _, job := range b.source.Jobs() {
		if job.Status != jobs.StatusDone || !job.HasResult() {
			continue
		}
		entries = append(entries, Entry{Name: b.prefix + job.Source.Name, Data: job.Result.Data})
		total += int64(len(job.Result.Data))
	}
	if len(entries) == 0 {
		b.busy.Store(false)
		return nil, ErrNothingToExport
	}
	return &Reservation{bundler: b, entries: entries, totalBytes: total}, nil
}

// Reservation は確定済みのエクスポート対象です。
type Reservation struct {
	bundler    *Bundler
	entries    []Entry
	totalBytes int64
	done       atomic.Bool
}

// Entries は格納するファイル数を返します。
func (r *Reservation) Entries() int {
	return len(r.entries)
}

// TotalBytes は格納する成果物の合計サイズを返します。
func (r *Reservation) TotalBytes() int64 {
	return r.totalBytes
}

// Bundle はアーカイブを生成し、処理中フラグを下ろします。
// 失敗した場合は BUNDLING_FAILED のエラーを1つだけ返し、アーカイブは返しません。
func (r *Reservation) Bundle(ctx context.Context) (*Archive, error) {
	if !r.done.CompareAndSwap(false, true) {
		return nil, apperrors.Internal(apperrors.CodeBundlingFailed, "エクスポートは既に処理済みです。", nil)
	}
	b := r.bundler
	defer b.busy.Store(false)

	start := time.Now()
	data, err := b.archiver.Archive(ctx, r.entries)
	elapsed := time.Since(start)
	if b.metrics != nil {
		b.metrics.RecordExport(ctx, err == nil, len(r.entries), elapsed.Seconds())
	}
	if err != nil {
		b.logger.Error().Err(err).Int("entries", len(r.entries)).Msg("bundling failed")
		return nil, apperrors.Internal(apperrors.CodeBundlingFailed, "アーカイブの作成に失敗しました。", err)
	}

	b.logger.Info().
		Int("entries", len(r.entries)).
		Int("archiveBytes", len(data)).
		Dur("elapsed", elapsed).
		Msg("export bundled")
	return &Archive{Filename: ArchiveFilename, Data: data, Entries: len(r.entries)}, nil
}

// Cancel はアーカイブを生成せずに処理中フラグを下ろします。
func (r *Reservation) Cancel() {
	if r.done.CompareAndSwap(false, true) {
		r.bundler.busy.Store(false)
	}
}
