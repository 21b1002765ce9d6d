package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/apperrors"
)

var errExportNotFound = apperrors.NotFound(apperrors.CodeExportNotFound, "エクスポートが見つからないか、有効期限が切れています。")

// Service は大きなエクスポートをバックグラウンドで生成し、結果を Store に残します。
type Service struct {
	store  Store
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewService は Service を作成します。
func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// Start は確定済みの対象から非同期にアーカイブを生成します。
// 記録は running で作成され、完了時に done / error へ更新されます。
func (s *Service) Start(ctx context.Context, scope string, res *Reservation) (*Record, error) {
	record := &Record{
		ExportID: uuid.NewString(),
		Scope:    scope,
		Status:   StatusRunning,
		Entries:  res.Entries(),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		res.Cancel()
		return nil, apperrors.Internal("", "エクスポートの登録に失敗しました。", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.Background(), record.ExportID, res)
	}()
	return record, nil
}

func (s *Service) run(ctx context.Context, exportID string, res *Reservation) {
	logger := s.logger.With().Str("exportId", exportID).Logger()

	archive, err := res.Bundle(ctx)
	if err == nil {
		err = s.store.PutArchive(ctx, exportID, archive.Data)
	}
	if err != nil {
		logger.Error().Err(err).Msg("export failed")
		updateErr := s.store.Update(ctx, exportID, func(record *Record) {
			record.Status = StatusFailed
			record.Error = &ErrorInfo{
				Code:    apperrors.CodeBundlingFailed,
				Message: "アーカイブの作成に失敗しました。",
			}
		})
		if updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to record export failure")
		}
		return
	}

	if err := s.store.Update(ctx, exportID, func(record *Record) {
		record.Status = StatusDone
		record.Size = int64(len(archive.Data))
		record.Filename = archive.Filename
		record.DownloadURL = fmt.Sprintf("/api/exports/%s/download", exportID)
		record.Error = nil
	}); err != nil {
		logger.Error().Err(err).Msg("failed to record export result")
	}
}

// Get は scope が所有する記録を返します。他のセッションの記録は存在しないものとして扱います。
func (s *Service) Get(ctx context.Context, scope, exportID string) (*Record, error) {
	record, err := s.store.Get(ctx, exportID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, errExportNotFound
		}
		return nil, apperrors.Internal("", "エクスポート情報の取得に失敗しました。", err)
	}
	if record.Scope != scope {
		return nil, errExportNotFound
	}
	return record, nil
}

// OpenArchive は完了済みエクスポートのアーカイブ本体を返します。
func (s *Service) OpenArchive(ctx context.Context, scope, exportID string) (*Record, []byte, error) {
	record, err := s.Get(ctx, scope, exportID)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != StatusDone {
		return nil, nil, apperrors.Conflict(apperrors.CodeExportNotReady, "エクスポートはまだ完了していません。")
	}
	data, err := s.store.Archive(ctx, exportID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil, errExportNotFound
		}
		return nil, nil, apperrors.Internal("", "アーカイブの取得に失敗しました。", err)
	}
	return record, data, nil
}

// Wait はバックグラウンドの生成処理がすべて終わるまで待ちます。
func (s *Service) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
