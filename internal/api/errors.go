package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/actkernel/internal/device"
	"github.com/samcharles93/actkernel/internal/kernel"
	"github.com/samcharles93/actkernel/internal/tensor"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an op failure onto an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, tensor.ErrShapeMismatch):
		return http.StatusBadRequest, "shape_mismatch"
	case errors.Is(err, tensor.ErrUnsupportedDType):
		return http.StatusBadRequest, "unsupported_dtype"
	case errors.Is(err, kernel.ErrUnsupportedScaleShape):
		return http.StatusBadRequest, "unsupported_scale_shape"
	case errors.Is(err, kernel.ErrEngineClosed):
		return http.StatusServiceUnavailable, "engine_closed"
	case errors.Is(err, device.ErrDevice):
		return http.StatusInternalServerError, "device_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
