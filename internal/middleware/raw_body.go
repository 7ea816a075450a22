package middleware

import (
	"bytes"
	"io"

	"github.com/labstack/echo/v4"
)

const rawBodyKey = "raw_body"

// CaptureBody keeps up to limit bytes of the request body in the context for
// reconciliation records, and restores the body for the handler.
func CaptureBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil {
				return next(c)
			}

			rawBody, err := io.ReadAll(io.LimitReader(req.Body, limit))
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(rawBody), req.Body))
			c.Set(rawBodyKey, string(rawBody))

			return next(c)
		}
	}
}

// RawBody returns the body captured by CaptureBody, or "".
func RawBody(c echo.Context) string {
	s, _ := c.Get(rawBodyKey).(string)
	return s
}
