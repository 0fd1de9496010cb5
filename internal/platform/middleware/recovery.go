package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/trialworks/protocol-server/pkg/apiresp"
)

// Recovery turns panics into 500 responses in the standard envelope. The
// full stack goes to the log; clients only ever see the generic message.
// http.ErrAbortHandler is re-raised so aborted streams keep net/http's
// semantics.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if !c.Response().Committed {
					err = apiresp.Fail(c, http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
