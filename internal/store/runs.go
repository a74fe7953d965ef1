package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusPassed    = "passed"
	RunStatusExhausted = "exhausted"
	RunStatusFailed    = "failed"
)

// RunRecord is one generation request and, once finished, its result.
type RunRecord struct {
	ID        string          `json:"id"`
	Course    string          `json:"course"`
	Topic     string          `json:"topic"`
	Status    string          `json:"status"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateRun inserts a run in status queued and returns its id.
func (s *Store) CreateRun(ctx context.Context, course, topic string, request json.RawMessage) (string, error) {
	if len(request) == 0 {
		return "", fmt.Errorf("run request required")
	}
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, course, topic, status, request, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
`, id, course, topic, RunStatusQueued, []byte(request))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetRunStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// FinishRun stores the terminal status together with the result document or
// the failure message.
func (s *Store) FinishRun(ctx context.Context, id, status string, result json.RawMessage, errMsg *string) error {
	var payload interface{}
	if len(result) > 0 {
		payload = []byte(result)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, result=$3, error=$4, updated_at=NOW() WHERE id=$1
`, id, status, payload, errMsg)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, course, topic, status, request, result, error, created_at, updated_at
FROM runs WHERE id=$1
`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	return rec, err
}

// ListRuns returns the most recent runs without their result documents.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, course, topic, status, request, NULL::jsonb, error, created_at, updated_at
FROM runs ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRun(row interface{ Scan(dest ...interface{}) error }) (RunRecord, error) {
	var (
		rec     RunRecord
		request []byte
		result  []byte
		errMsg  sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Course, &rec.Topic, &rec.Status, &request, &result, &errMsg,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return RunRecord{}, err
	}
	rec.Request = json.RawMessage(request)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	return rec, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
