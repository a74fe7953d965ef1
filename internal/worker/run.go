package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/qbank/internal/loop"
	"github.com/mohammad-safakhou/qbank/internal/pipeline"
	"github.com/mohammad-safakhou/qbank/internal/store"
)

// RunStore is the slice of the store a generation run needs.
type RunStore interface {
	GetRun(ctx context.Context, id string) (store.RunRecord, error)
	SetRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, id, status string, result json.RawMessage, errMsg *string) error
}

// Generator runs one generation request end to end.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// StatusFor maps a pipeline outcome to a terminal run status.
func StatusFor(res pipeline.Result, err error) string {
	if err != nil {
		return store.RunStatusFailed
	}
	if res.Loop.State == loop.StatePassed {
		return store.RunStatusPassed
	}
	return store.RunStatusExhausted
}

// Terminal reports whether status is final.
func Terminal(status string) bool {
	switch status {
	case store.RunStatusPassed, store.RunStatusExhausted, store.RunStatusFailed:
		return true
	}
	return false
}

// Execute marks the run running, generates, and stores the outcome. The
// partial result (plan, context, loop log) is stored for failed runs too.
// The returned error is the generation error, if any.
func Execute(ctx context.Context, st RunStore, gen Generator, runID string, req pipeline.Request) (pipeline.Result, error) {
	if err := st.SetRunStatus(ctx, runID, store.RunStatusRunning); err != nil {
		return pipeline.Result{}, fmt.Errorf("mark run running: %w", err)
	}
	res, genErr := gen.Run(ctx, req)

	var errMsg *string
	if genErr != nil {
		msg := genErr.Error()
		errMsg = &msg
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return res, errors.Join(genErr, fmt.Errorf("encode run result: %w", err))
	}
	// the run row must be finalised even when ctx was cancelled mid-run
	if err := st.FinishRun(context.WithoutCancel(ctx), runID, StatusFor(res, genErr), payload, errMsg); err != nil {
		return res, errors.Join(genErr, fmt.Errorf("finish run: %w", err))
	}
	return res, genErr
}
