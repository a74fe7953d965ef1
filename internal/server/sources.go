package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/ingest"
	"github.com/mohammad-safakhou/qbank/internal/store"
)

// Ingestor is the ingestion side used by the API.
type Ingestor interface {
	IngestFile(ctx context.Context, path, name string, st chunker.SourceType, consent bool) (ingest.Report, error)
	IngestURL(ctx context.Context, f ingest.Fetcher, raw string, st chunker.SourceType, consent bool) (ingest.Report, error)
}

// SourceCatalog lists and removes ingested sources.
type SourceCatalog interface {
	ListSources(ctx context.Context) ([]store.SourceRecord, error)
	DeleteSource(ctx context.Context, name string) error
}

type SourcesHandler struct {
	Ingestor  Ingestor
	Catalog   SourceCatalog
	Fetcher   ingest.Fetcher
	UploadDir string
}

func (h *SourcesHandler) Register(g *echo.Group, write ...echo.MiddlewareFunc) {
	g.GET("", h.list)
	g.POST("", h.upload, write...)
	g.POST("/url", h.fromURL, write...)
	g.DELETE("/:name", h.remove, write...)
}

func (h *SourcesHandler) list(c echo.Context) error {
	if h.Catalog == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "source listing needs a database")
	}
	items, err := h.Catalog.ListSources(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []store.SourceRecord{}
	}
	return c.JSON(http.StatusOK, items)
}

// upload takes a multipart form: file, type (material|outcomes|sample_paper),
// consent (bool) and an optional name overriding the file name.
func (h *SourcesHandler) upload(c echo.Context) error {
	st, err := chunker.ParseSourceType(c.FormValue("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	consent, err := parseBool(c.FormValue("consent"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "consent must be a boolean")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = fh.Filename
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
	}

	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	path := filepath.Join(h.UploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("save upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}

	rep, err := h.Ingestor.IngestFile(c.Request().Context(), path, name, st, consent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rep)
}

type urlRequest struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Consent bool   `json:"consent"`
}

func (h *SourcesHandler) fromURL(c echo.Context) error {
	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	st, err := chunker.ParseSourceType(req.Type)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rep, err := h.Ingestor.IngestURL(c.Request().Context(), h.Fetcher, req.URL, st, req.Consent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *SourcesHandler) remove(c echo.Context) error {
	if h.Catalog == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "source removal needs a database")
	}
	name, err := url.PathUnescape(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source name")
	}
	if err := h.Catalog.DeleteSource(c.Request().Context(), name); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func parseBool(s string) (bool, error) {
	if strings.TrimSpace(s) == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}
