package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix  = "export:"
	archiveKeySuffix = ":archive"
)

// Status は非同期エクスポートの状態です。
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "error"
)

// ErrorInfo は失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record は非同期エクスポートの現在状態です。
type Record struct {
	ExportID    string     `json:"exportId"`
	Scope       string     `json:"-"`
	Status      Status     `json:"status"`
	Entries     int        `json:"entries"`
	Size        int64      `json:"size,omitempty"`
	Filename    string     `json:"filename,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
}

// storedRecord は Scope も含めて保存するための表現です。
type storedRecord struct {
	Record
	Scope string `json:"scope"`
}

// ErrRecordNotFound は記録が存在しないか期限切れの場合に返ります。
var ErrRecordNotFound = errors.New("export record not found")

// Store はエクスポートの記録とアーカイブ本体を保存します。
type Store interface {
	Get(ctx context.Context, exportID string) (*Record, error)
	Upsert(ctx context.Context, record *Record) error
	Update(ctx context.Context, exportID string, mutate func(*Record)) error
	PutArchive(ctx context.Context, exportID string, data []byte) error
	Archive(ctx context.Context, exportID string) ([]byte, error)
}

// RedisStore は記録を Redis に TTL 付きで保存します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get は記録を取得します。
func (s *RedisStore) Get(ctx context.Context, exportID string) (*Record, error) {
	if exportID == "" {
		return nil, fmt.Errorf("exportID is required")
	}
	data, err := s.rdb.Get(ctx, recordKey(exportID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeRecord(data)
}

// Upsert は記録を保存します（存在しない場合は作成）。
func (s *RedisStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	stamp(record, s.ttl)
	payload, err := encodeRecord(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, recordKey(record.ExportID), payload, s.ttl).Err()
}

// Update は記録を楽観ロックで部分更新します。
func (s *RedisStore) Update(ctx context.Context, exportID string, mutate func(*Record)) error {
	key := recordKey(exportID)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrRecordNotFound
				}
				return err
			}
			record, err := decodeRecord(data)
			if err != nil {
				return err
			}
			mutate(record)
			record.UpdatedAt = time.Now().UTC()
			payload, err := encodeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, redis.KeepTTL)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

// PutArchive はアーカイブ本体を記録と同じ期限で保存します。
func (s *RedisStore) PutArchive(ctx context.Context, exportID string, data []byte) error {
	return s.rdb.Set(ctx, archiveKey(exportID), data, s.ttl).Err()
}

// Archive はアーカイブ本体を取得します。
func (s *RedisStore) Archive(ctx context.Context, exportID string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, archiveKey(exportID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return data, nil
}

// MemoryStore はプロセス内に記録を保持します。期限切れの記録は参照時に削除します。
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	records  map[string]*storedRecord
	archives map[string][]byte
	now      func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		records:  make(map[string]*storedRecord),
		archives: make(map[string][]byte),
		now:      time.Now,
	}
}

// Get は記録のコピーを返します。
func (s *MemoryStore) Get(_ context.Context, exportID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.liveLocked(exportID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	record := stored.Record
	record.Scope = stored.Scope
	return &record, nil
}

// Upsert は記録を保存します。
func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(record, s.ttl)
	s.records[record.ExportID] = &storedRecord{Record: *record, Scope: record.Scope}
	return nil
}

// Update は記録を部分更新します。
func (s *MemoryStore) Update(_ context.Context, exportID string, mutate func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.liveLocked(exportID)
	if !ok {
		return ErrRecordNotFound
	}
	record := stored.Record
	record.Scope = stored.Scope
	mutate(&record)
	record.UpdatedAt = s.now().UTC()
	s.records[exportID] = &storedRecord{Record: record, Scope: stored.Scope}
	return nil
}

// PutArchive はアーカイブ本体を保存します。
func (s *MemoryStore) PutArchive(_ context.Context, exportID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(exportID); !ok {
		return ErrRecordNotFound
	}
	s.archives[exportID] = data
	return nil
}

// Archive はアーカイブ本体を返します。
func (s *MemoryStore) Archive(_ context.Context, exportID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveLocked(exportID); !ok {
		return nil, ErrRecordNotFound
	}
	data, ok := s.archives[exportID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return data, nil
}

func (s *MemoryStore) liveLocked(exportID string) (*storedRecord, bool) {
	stored, ok := s.records[exportID]
	if !ok {
		return nil, false
	}
	if !stored.ExpiresAt.IsZero() && !s.now().Before(stored.ExpiresAt) {
		delete(s.records, exportID)
		delete(s.archives, exportID)
		return nil, false
	}
	return stored, true
}

func stamp(record *Record, ttl time.Duration) {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
}

func encodeRecord(record *Record) ([]byte, error) {
	return json.Marshal(storedRecord{Record: *record, Scope: record.Scope})
}

func decodeRecord(data []byte) (*Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	record := stored.Record
	record.Scope = stored.Scope
	return &record, nil
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

func archiveKey(id string) string {
	return recordKeyPrefix + id + archiveKeySuffix
}
