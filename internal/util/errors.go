package util

import "errors"

var (
	ErrValidation             = errors.New("提交数据格式不合法")
	ErrQuizNotFound           = errors.New("quiz not found")
	ErrQuizNotPublished       = errors.New("quiz not published")
	ErrQuizServiceUnavailable = errors.New("quiz service unavailable")
	ErrSubmissionNotFound     = errors.New("submission not found")
	ErrDraftNotFound          = errors.New("draft not found")
	ErrPermissionDenied       = errors.New("permission denied")
)
