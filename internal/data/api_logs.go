package data

import (
	"context"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

// APILog is an append-only record of one inbound sandbox request.
type APILog struct {
	ID              int64     `db:"id" json:"id"`
	ProjectID       int64     `db:"project_id" json:"project_id"`
	Method          string    `db:"method" json:"method"`
	Path            string    `db:"path" json:"path"`
	StatusCode      int       `db:"status_code" json:"status_code"`
	RequestBody     string    `db:"request_body" json:"request_body"`
	RequestHeaders  string    `db:"request_headers" json:"request_headers"`
	ResponseBody    string    `db:"response_body" json:"response_body"`
	ResponseHeaders string    `db:"response_headers" json:"response_headers"`
	DurationMs      int64     `db:"duration_ms" json:"duration_ms"`
	ErrorDesc       *string   `db:"error_desc" json:"error_desc"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type APILogModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *APILogModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, apiLog APILog) (*APILog, error) {
	var inserted APILog
	query := `
		INSERT INTO api_logs (project_id, method, path, status_code, request_body, request_headers, response_body, response_headers, duration_ms, error_desc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING *
	`
	err := sqlExec.GetContext(ctx, &inserted, query,
		apiLog.ProjectID, apiLog.Method, apiLog.Path, apiLog.StatusCode,
		apiLog.RequestBody, apiLog.RequestHeaders, apiLog.ResponseBody, apiLog.ResponseHeaders,
		apiLog.DurationMs, apiLog.ErrorDesc)
	if err != nil {
		return nil, fmt.Errorf("inserting api log: %w", err)
	}
	return &inserted, nil
}

// List returns the latest logs for a project, optionally narrowed to one HTTP
// method. The filter applies to the method column, not the path.
func (m *APILogModel) List(ctx context.Context, sqlExec db.SQLExecuter, projectID int64, method string, limit int) ([]APILog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []APILog
	var err error
	if method != "" {
		query := `SELECT * FROM api_logs WHERE project_id = ? AND method = ? ORDER BY id DESC LIMIT ?`
		err = sqlExec.SelectContext(ctx, &logs, query, projectID, method, limit)
	} else {
		query := `SELECT * FROM api_logs WHERE project_id = ? ORDER BY id DESC LIMIT ?`
		err = sqlExec.SelectContext(ctx, &logs, query, projectID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing api logs for project %d: %w", projectID, err)
	}
	return logs, nil
}

// Count counts a project's logs, optionally narrowed to one HTTP method.
func (m *APILogModel) Count(ctx context.Context, sqlExec db.SQLExecuter, projectID int64, method string) (int64, error) {
	var count int64
	var err error
	if method != "" {
		err = sqlExec.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_logs WHERE project_id = ? AND method = ?`, projectID, method)
	} else {
		err = sqlExec.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_logs WHERE project_id = ?`, projectID)
	}
	if err != nil {
		return 0, fmt.Errorf("counting api logs for project %d: %w", projectID, err)
	}
	return count, nil
}
