// Package apperrors はコード付きの構造化エラーと HTTP ステータスへの対応付けを提供します。
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// errors.Is() で分類するための番兵エラーです。
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBusy       = errors.New("busy")
	ErrInternal   = errors.New("internal error")
)

// エラーコード（API レスポンスの code フィールド）
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeLimitExceeded   = "LIMIT_EXCEEDED"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeJobRunning      = "JOB_RUNNING"
	CodeActionDisabled  = "ACTION_DISABLED"
	CodeExportBusy      = "EXPORT_BUSY"
	CodeNothingToExport = "NOTHING_TO_EXPORT"
	CodeExportNotFound  = "EXPORT_NOT_FOUND"
	CodeExportNotReady  = "EXPORT_NOT_READY"
	CodeBundlingFailed  = "BUNDLING_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error は分類用の番兵とレスポンス用のコード・メッセージを持つエラーです。
type Error struct {
	Sentinel error  // errors.Is() 用
	Code     string // API に返すコード
	Message  string // 利用者向けメッセージ
	Field    string // 入力エラーの対象フィールド
	Cause    error  // 元になったエラー
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap は番兵エラーと原因エラーの両方を返します。
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation は入力値の検証エラーを作成します。
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Code:     CodeInvalidInput,
		Message:  message,
		Field:    field,
	}
}

// LimitExceeded は件数やサイズの上限超過エラーを作成します。
func LimitExceeded(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Code:     CodeLimitExceeded,
		Message:  message,
		Field:    field,
	}
}

// NotFound は対象が存在しない場合のエラーを作成します。
func NotFound(code, message string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Code:     code,
		Message:  message,
	}
}

// Conflict は現在の状態では実行できない操作のエラーを作成します。
func Conflict(code, message string) error {
	return &Error{
		Sentinel: ErrConflict,
		Code:     code,
		Message:  message,
	}
}

// Busy は同じ操作が実行中であることを表すエラーを作成します。
func Busy(code, message string) error {
	return &Error{
		Sentinel: ErrBusy,
		Code:     code,
		Message:  message,
	}
}

// Internal は外部処理の失敗などをラップします。
func Internal(code, message string, cause error) error {
	if code == "" {
		code = CodeInternal
	}
	return &Error{
		Sentinel: ErrInternal,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// CodeOf はエラーに対応する API コードを返します。
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// StatusCode はエラーに対応する HTTP ステータスを返します。
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		if CodeOf(err) == CodeLimitExceeded {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
