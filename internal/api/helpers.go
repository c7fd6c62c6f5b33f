package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, param string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Param:   param,
		},
	})
}

// writeOpError reports err with the status its class maps to.
func writeOpError(c *echo.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return writeError(c, http.StatusGatewayTimeout, "timeout", err.Error(), op)
	}
	status, errType := classify(err)
	return writeError(c, status, errType, err.Error(), op)
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
