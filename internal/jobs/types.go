package jobs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/asif420570/Image-compressor/internal/apperrors"
	"github.com/asif420570/Image-compressor/internal/view"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "error"
)

// Unit は目標サイズの単位です。
type Unit string

const (
	UnitKB Unit = "KB"
	UnitMB Unit = "MB"
)

// Multiplier は単位に対応するバイト倍率を返します。
func (u Unit) Multiplier() (int64, bool) {
	switch u {
	case UnitKB:
		return 1024, true
	case UnitMB:
		return 1024 * 1024, true
	default:
		return 0, false
	}
}

// Parameters は再実行時に使われる圧縮の目標値です。
type Parameters struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// Validate は目標値が正の有限数で、単位が KB/MB であることを確認します。
func (p Parameters) Validate() error {
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) || p.Value <= 0 {
		return apperrors.Validation("value", fmt.Sprintf("目標サイズは正の数で指定してください (received: %v)", p.Value))
	}
	m, ok := p.Unit.Multiplier()
	if !ok {
		return apperrors.Validation("unit", fmt.Sprintf("単位には KB または MB を指定してください (received: %s)", p.Unit))
	}
	// バイト数に換算したときに int64 に収まらない値は受け付けない
	if p.Value >= float64(math.MaxInt64/m) {
		return apperrors.Validation("value", fmt.Sprintf("目標サイズが大きすぎます (received: %v %s)", p.Value, p.Unit))
	}
	return nil
}

// TargetBytes は目標サイズをバイト数に換算します。
func (p Parameters) TargetBytes() int64 {
	m, ok := p.Unit.Multiplier()
	if !ok {
		return 0
	}
	return int64(p.Value * float64(m))
}

// ParamsPatch は再実行時に上書きする目標値です。nil の項目は現在の値を引き継ぎます。
type ParamsPatch struct {
	Value *float64 `json:"value"`
	Unit  *Unit    `json:"unit"`
}

// Merge は patch で指定された項目だけを上書きした値を返します。
// 明示的に指定された 0 や空文字もそのまま反映するため、Validate で弾かれます。
func (p Parameters) Merge(patch *ParamsPatch) Parameters {
	if patch == nil {
		return p
	}
	if patch.Value != nil {
		p.Value = *patch.Value
	}
	if patch.Unit != nil {
		p.Unit = *patch.Unit
	}
	return p.Normalize()
}

// Normalize は単位表記を大文字に揃えます。
func (p Parameters) Normalize() Parameters {
	p.Unit = Unit(strings.ToUpper(strings.TrimSpace(string(p.Unit))))
	return p
}

// Source は投入された元画像です。ジョブの生存中は変更されません。
type Source struct {
	Name   string
	Data   []byte
	Handle view.Handle
}

// Output は成功した実行の成果物です。
type Output struct {
	Data     []byte
	Handle   view.Handle
	Duration time.Duration
}

// Job は1枚の画像に対する圧縮処理の記録です。
//
// Result は最後に成功した実行の成果物で、再実行中や失敗後も次の成功で置き換えられるまで保持されます。
// Epoch は実行を投入する度に更新され、古い実行の完了通知を捨てるために使われます。
type Job struct {
	ID        int64
	Source    Source
	Params    Parameters
	Status    Status
	Result    *Output
	Error     string
	Epoch     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasResult は成果物を保持しているかを返します。
func (j Job) HasResult() bool {
	return j.Result != nil && j.Result.Data != nil
}

// clone は呼び出し元に渡す値のコピーを作ります。バッファ自体は不変なので共有します。
func (j *Job) clone() Job {
	out := *j
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	return out
}
