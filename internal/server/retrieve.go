package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/qbank/internal/chunker"
	"github.com/mohammad-safakhou/qbank/internal/retriever"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, allowed ...chunker.SourceType) ([]retriever.Candidate, error)
}

// LexicalSearcher is the keyword index of the in-memory mode.
type LexicalSearcher interface {
	Lexical(query string, k int) ([]retriever.Hit, error)
}

type RetrieveHandler struct {
	Retriever Retriever
	Lexical   LexicalSearcher
}

type retrieveRequest struct {
	Query string   `json:"query"`
	K     int      `json:"k"`
	Types []string `json:"types"`
}

const maxRetrieveK = 200

func (h *RetrieveHandler) Register(g *echo.Group) {
	g.POST("", h.retrieve)
}

func (h *RetrieveHandler) retrieve(c echo.Context) error {
	var req retrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.K <= 0 {
		req.K = 8
	}
	if req.K > maxRetrieveK {
		return echo.NewHTTPError(http.StatusBadRequest, "k must be at most 200")
	}
	if c.QueryParam("lexical") == "true" {
		if h.Lexical == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "lexical search needs the in-memory index")
		}
		hits, err := h.Lexical.Lexical(req.Query, req.K)
		if err != nil {
			return err
		}
		out := make([]retriever.Candidate, 0, len(hits))
		for _, h := range hits {
			out = append(out, retriever.Candidate{
				ChunkID:    h.Chunk.ID,
				Text:       h.Chunk.Text,
				Source:     h.Chunk.Source,
				Page:       h.Chunk.Page,
				SourceType: h.Chunk.SourceType,
				Distance:   h.Distance,
			})
		}
		return c.JSON(http.StatusOK, out)
	}
	var allowed []chunker.SourceType
	for _, t := range req.Types {
		st, err := chunker.ParseSourceType(t)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		allowed = append(allowed, st)
	}
	out, err := h.Retriever.Retrieve(c.Request().Context(), req.Query, req.K, allowed...)
	if err != nil {
		return err
	}
	if out == nil {
		out = []retriever.Candidate{}
	}
	return c.JSON(http.StatusOK, out)
}
