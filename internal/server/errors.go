package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/qbank/internal/bank"
	"github.com/mohammad-safakhou/qbank/internal/ingest"
	"github.com/mohammad-safakhou/qbank/internal/logger"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/mohammad-safakhou/qbank/internal/store"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	var consent *ingest.ConsentError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &consent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoContext), errors.Is(err, ingest.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case bank.IsSchemaValidation(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorHandler writes every error as {"error": msg}. Consent refusals also
// carry the per-page findings.
func errorHandler(lg *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := statusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		req := c.Request()
		if code >= http.StatusInternalServerError {
			lg.Error("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "ip", c.RealIP(), "error", err)
		} else {
			lg.Debug("request rejected", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
		}
		if c.Response().Committed {
			return
		}
		body := map[string]interface{}{"error": msg}
		var consent *ingest.ConsentError
		if errors.As(err, &consent) {
			body["pii_findings"] = consent.Findings
		}
		if req.Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}
