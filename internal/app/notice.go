package app

import (
	"github.com/kodegeo/showgeo2-sub001/internal/domain"
	apperrors "github.com/kodegeo/showgeo2-sub001/internal/platform/errors"
)

// NoticeFrom maps an error into the notice shown next to the live state.
func NoticeFrom(err error) *domain.Notice {
	if err == nil {
		return nil
	}
	structured := apperrors.AsStructuredError(err)
	message := structured.Message
	if structured.Type == apperrors.TypeInternal && structured.Cause != nil {
		message = structured.Cause.Error()
	}
	return &domain.Notice{
		Category:  string(structured.Type),
		Message:   message,
		Retryable: structured.Retryable(),
	}
}
