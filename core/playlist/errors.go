package playlist

import (
	"errors"
	"net/http"

	"cotrack/core/access"
	"cotrack/repository"
)

var (
	// ErrDenied 权限不足，具体原因见 *access.DeniedError
	ErrDenied = access.ErrDenied
	// ErrNotFound 歌单或歌曲不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidCode 邀请码格式错误或不存在
	ErrInvalidCode = errors.New("invalid invite code")
	// ErrAlreadyMember 已是成员
	ErrAlreadyMember = errors.New("already a member")
	// ErrSelfJoin 所有者不能加入自己的歌单
	ErrSelfJoin = errors.New("owner cannot join own playlist")
	// ErrNotMember 不是成员
	ErrNotMember = errors.New("not a member")
	// ErrConflict 重试次数用尽后仍然冲突
	ErrConflict = errors.New("concurrent modification, please retry")
	// ErrInvalidInput 参数校验失败
	ErrInvalidInput = errors.New("invalid input")
)

// translateStoreError 把仓库层错误转换为业务错误
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return errors.Join(ErrConflict, err)
	default:
		return err
	}
}

// HTTPStatus 业务错误对应的 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotMember):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyMember), errors.Is(err, ErrSelfJoin), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// 错误码，HTTP 响应体中的 code 字段
const (
	CodeDenied        = "denied"
	CodeNotFound      = "not_found"
	CodeInvalidCode   = "invalid_code"
	CodeAlreadyMember = "already_member"
	CodeSelfJoin      = "self_join"
	CodeNotMember     = "not_member"
	CodeConflict      = "conflict"
	CodeInvalidInput  = "invalid_input"
	CodeInternal      = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeDenied, ErrDenied},
	{CodeNotFound, ErrNotFound},
	{CodeInvalidCode, ErrInvalidCode},
	{CodeAlreadyMember, ErrAlreadyMember},
	{CodeSelfJoin, ErrSelfJoin},
	{CodeNotMember, ErrNotMember},
	{CodeConflict, ErrConflict},
	{CodeInvalidInput, ErrInvalidInput},
}

// ErrorCode 业务错误对应的错误码
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// ErrorForCode 错误码还原为业务错误，未知错误码返回 nil
func ErrorForCode(code string) error {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}
	return nil
}
