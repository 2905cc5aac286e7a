package optimistic

import (
	"context"
	"errors"

	"cotrack/core/playlist"
)

// UserMessage 把错误转换为可以直接展示给用户的提示
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, playlist.ErrDenied):
		return "You don't have permission to do that."
	case errors.Is(err, playlist.ErrNotFound), errors.Is(err, ErrUnknownEntry):
		return "That playlist or track no longer exists."
	case errors.Is(err, playlist.ErrNotMember):
		return "You are not a member of this playlist."
	case errors.Is(err, playlist.ErrInvalidCode):
		return "That invite code is not valid."
	case errors.Is(err, playlist.ErrAlreadyMember):
		return "You have already joined this playlist."
	case errors.Is(err, playlist.ErrSelfJoin):
		return "You own this playlist already."
	case errors.Is(err, playlist.ErrConflict):
		return "The playlist was busy. Please try again."
	case errors.Is(err, playlist.ErrInvalidInput):
		return "Some of the track details are invalid."
	case errors.Is(err, ErrMutationInFlight):
		return "Please wait for your previous change to finish."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Something went wrong. Your change was not saved."
	}
}
