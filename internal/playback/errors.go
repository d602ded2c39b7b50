package playback

import (
	"github.com/tphakala/buffplayer/internal/errors"
	"github.com/tphakala/buffplayer/internal/observability/metrics"
)

// Sentinel errors. Returned errors wrap one of these; match with errors.Is.
var (
	ErrNotInitialized  = errors.NewStd("player not initialized")
	ErrFull            = errors.NewStd("descriptor ring full")
	ErrEmpty           = errors.NewStd("descriptor ring empty")
	ErrOverlap         = errors.NewStd("placement overlaps a queued buffer")
	ErrInvalidArgument = errors.NewStd("invalid argument")
	ErrAlreadyOpen     = errors.NewStd("player already open")
)

const componentPlayback = "playback"

// newError wraps a sentinel in an enhanced error carrying the operation and
// any extra key/value context.
func newError(op string, sentinel error, kv ...any) error {
	b := errors.New(sentinel).
		Component(componentPlayback).
		Category(categoryOf(sentinel)).
		Context("operation", op)

	switch sentinel {
	case ErrFull, ErrOverlap, ErrEmpty:
		b = b.Priority(errors.PriorityLow)
	}

	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			b = b.Context(key, kv[i+1])
		}
	}
	return b.Build()
}

func categoryOf(sentinel error) errors.ErrorCategory {
	switch sentinel {
	case ErrNotInitialized, ErrEmpty:
		return errors.CategoryState
	case ErrFull:
		return errors.CategoryLimit
	case ErrOverlap:
		return errors.CategoryBuffer
	case ErrInvalidArgument:
		return errors.CategoryValidation
	case ErrAlreadyOpen:
		return errors.CategoryConflict
	default:
		return errors.CategoryGeneric
	}
}

// reasonOf maps an error to a metrics failure reason label.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrFull):
		return metrics.ReasonFull
	case errors.Is(err, ErrOverlap):
		return metrics.ReasonOverlap
	case errors.Is(err, ErrInvalidArgument):
		return metrics.ReasonInvalidArgument
	case errors.Is(err, ErrNotInitialized):
		return metrics.ReasonNotInitialized
	default:
		return metrics.ReasonOther
	}
}
