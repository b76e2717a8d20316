package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/osa030/nowplaying/internal/app/playback"
)

var validate = validator.New()

// validateRequest checks msg's validate tags.
func validateRequest(msg any) error {
	if err := validate.Struct(msg); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	return nil
}

// toConnectError maps controller failures to Connect codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, playback.ErrNoStreamURL):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, playback.ErrReleased):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, playback.ErrEngineLoadFailed),
		errors.Is(err, playback.ErrEnginePlaybackFailed),
		errors.Is(err, playback.ErrSeekFailed),
		errors.Is(err, playback.ErrEngineCreateFailed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
