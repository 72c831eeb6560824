package pdf

import (
	"errors"
	"fmt"
)

// エラーコード。HTTP層はこのコードでステータスを決定します。
const (
	CodeDecode           = "DECODE_ERROR"
	CodeInvalidOperation = "INVALID_OPERATION"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeUnsupportedType  = "UNSUPPORTED_TYPE"
)

var (
	// ErrDecode はPDFとして解釈できない入力を表します。
	ErrDecode = &Error{Code: CodeDecode, Message: "PDFを読み込めませんでした。"}
	// ErrInvalidOperation は構造的に実行できない操作を表します。
	ErrInvalidOperation = &Error{Code: CodeInvalidOperation, Message: "この操作は実行できません。"}
	// ErrNotFound は存在しないIDを参照した操作を表します。
	ErrNotFound = &Error{Code: CodeNotFound, Message: "対象のページが見つかりません。"}
)

// Error はユーザーへ返却できる処理エラーです。
type Error struct {
	Code    string
	Message string
	// ItemID は失敗したページ項目のIDです。一括処理で失敗箇所を伝えるために使います。
	ItemID string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.ItemID != "" {
		msg = fmt.Sprintf("%s (item=%s)", msg, e.ItemID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is はコードが一致すれば同一のエラーとみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func decodeError(itemID string, err error) *Error {
	return &Error{Code: CodeDecode, Message: ErrDecode.Message, ItemID: itemID, Err: err}
}

// NewInvalidOperation はInvalidOperationエラーを生成します。
func NewInvalidOperation(message string) *Error {
	return newError(CodeInvalidOperation, message, nil)
}

// NewNotFound は指定IDのNotFoundエラーを生成します。
func NewNotFound(id string) *Error {
	return &Error{Code: CodeNotFound, Message: ErrNotFound.Message, ItemID: id}
}

// NewInvalidInput は入力検証エラーを生成します。
func NewInvalidInput(message string) *Error {
	return newError(CodeInvalidInput, message, nil)
}

// NewError は任意コードのエラーを生成します。
func NewError(code, message string, err error) *Error {
	return newError(code, message, err)
}

// AsError はエラーチェーンから *Error を取り出します。
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
