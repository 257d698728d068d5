package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/cjeanneret/gimbal/internal/logic/motion"
)

// ErrResponse is the JSON body of every API error.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

// Render implements render.Renderer.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrResponse(err error, code int, status string) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     status,
		ErrorText:      err.Error(),
	}
}

// ErrInvalidRequest is a malformed body.
func ErrInvalidRequest(err error) render.Renderer {
	return newErrResponse(err, http.StatusBadRequest, "Invalid request.")
}

// ErrInvalidMove is a well-formed command the controller can never run.
func ErrInvalidMove(err error) render.Renderer {
	return newErrResponse(err, http.StatusUnprocessableEntity, "Invalid move.")
}

// ErrHalted means the controller stopped after a failure.
func ErrHalted(err error) render.Renderer {
	return newErrResponse(err, http.StatusConflict, "Controller halted.")
}

// ErrUnavailable means the controller could not take the command.
func ErrUnavailable(err error) render.Renderer {
	return newErrResponse(err, http.StatusServiceUnavailable, "Unavailable.")
}

// submitError maps a Submit error to a response.
func submitError(err error) render.Renderer {
	switch {
	case errors.Is(err, motion.ErrInvalidMove):
		return ErrInvalidMove(err)
	case errors.Is(err, motion.ErrHalted):
		return ErrHalted(err)
	case errors.Is(err, motion.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrUnavailable(err)
	default:
		return newErrResponse(err, http.StatusInternalServerError, "Internal error.")
	}
}

// submitErrorCode maps a Submit error to a WebSocket error code.
func submitErrorCode(err error) string {
	switch {
	case errors.Is(err, motion.ErrInvalidMove):
		return ErrCodeInvalidMove
	case errors.Is(err, motion.ErrHalted):
		return ErrCodeHalted
	default:
		return ErrCodeUnavailable
	}
}
