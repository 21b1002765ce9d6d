package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"
)

// Entry はアーカイブに格納する1ファイルです。
type Entry struct {
	Name string
	Data []byte
}

// Archiver は複数のファイルを1つのアーカイブにまとめます。
type Archiver interface {
	Archive(ctx context.Context, entries []Entry) ([]byte, error)
}

// ZipArchiver は Deflate 圧縮の zip を生成します。同名のエントリもそのまま格納します。
type ZipArchiver struct {
	now func() time.Time
}

// NewZipArchiver は ZipArchiver を作成します。
func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{now: time.Now}
}

// Archive は entries を順番どおりに zip へ書き込みます。
func (a *ZipArchiver) Archive(ctx context.Context, entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	modified := a.now()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			zipWriter.Close()
			return nil, err
		}
		header := &zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		header.SetMode(0o640)

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			zipWriter.Close()
			return nil, fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
		}
		if _, err := writer.Write(entry.Data); err != nil {
			zipWriter.Close()
			return nil, fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
