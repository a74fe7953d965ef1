package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/qbank/internal/coverage"
	"github.com/mohammad-safakhou/qbank/internal/export"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/mohammad-safakhou/qbank/internal/queue/streams"
	"github.com/mohammad-safakhou/qbank/internal/store"
	"github.com/mohammad-safakhou/qbank/internal/worker"
)

// Runs is the run persistence the API needs.
type Runs interface {
	worker.RunStore
	CreateRun(ctx context.Context, course, topic string, request json.RawMessage) (string, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
}

// Enqueuer hands a run to the worker pool.
type Enqueuer interface {
	EnqueueGeneration(ctx context.Context, stream string, job streams.GenerationRequested) (string, error)
}

// GenerationsHandler creates runs and serves their results. With no Queue
// every request is generated inline.
type GenerationsHandler struct {
	Runs      Runs
	Generator worker.Generator
	Queue     Enqueuer
	Stream    string
}

func (h *GenerationsHandler) Register(g *echo.Group, write ...echo.MiddlewareFunc) {
	g.POST("", h.create, write...)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/export.csv", h.exportCSV)
	g.GET("/:id/report.html", h.report)
}

func (h *GenerationsHandler) create(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	id, err := h.Runs.CreateRun(ctx, req.Course, pipeline.PlanTopic(req.Topics, req.Course), raw)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	if h.Queue != nil && c.QueryParam("sync") != "true" {
		if _, err := h.Queue.EnqueueGeneration(ctx, h.Stream, streams.GenerationRequested{RunID: id, Request: req}); err != nil {
			msg := err.Error()
			_ = h.Runs.FinishRun(ctx, id, store.RunStatusFailed, nil, &msg)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "could not queue generation")
		}
		return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": store.RunStatusQueued})
	}

	if _, err := worker.Execute(ctx, h.Runs, h.Generator, id, req); err != nil {
		return err
	}
	run, err := h.Runs.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (h *GenerationsHandler) list(c echo.Context) error {
	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be in [1, 500]")
		}
		limit = n
	}
	runs, err := h.Runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *GenerationsHandler) get(c echo.Context) error {
	run, err := h.Runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// result loads a finished run's pipeline result.
func (h *GenerationsHandler) result(c echo.Context) (store.RunRecord, pipeline.Result, error) {
	run, err := h.Runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return run, pipeline.Result{}, err
	}
	if !worker.Terminal(run.Status) || len(run.Result) == 0 {
		return run, pipeline.Result{}, echo.NewHTTPError(http.StatusConflict, "generation has not finished")
	}
	var res pipeline.Result
	if err := json.Unmarshal(run.Result, &res); err != nil {
		return run, res, fmt.Errorf("decode run result: %w", err)
	}
	return run, res, nil
}

func (h *GenerationsHandler) exportCSV(c echo.Context) error {
	run, res, err := h.result(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, res.Loop.Bank); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="qbank-%s.csv"`, run.ID))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *GenerationsHandler) report(c echo.Context) error {
	_, res, err := h.result(c)
	if err != nil {
		return err
	}
	cov := res.Coverage
	if cov.TotalQuestions == 0 && len(res.Loop.Bank.Questions) > 0 {
		cov = coverage.Build(res.Loop.Bank)
	}
	var buf bytes.Buffer
	if err := export.WriteHTML(&buf, export.Report{
		Course:   res.Course,
		Topic:    res.Targets.Topic,
		Bank:     res.Loop.Bank,
		Audit:    res.Loop.Audit,
		Coverage: cov,
		Log:      res.Loop.Log,
	}); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
