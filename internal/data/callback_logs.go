package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

type CallbackType string

const (
	CallbackTypeStkPush         CallbackType = "stk_push"
	CallbackTypeB2CResult       CallbackType = "b2c_result"
	CallbackTypeC2BValidation   CallbackType = "c2b_validation"
	CallbackTypeC2BConfirmation CallbackType = "c2b_confirmation"
)

type CallbackStatus string

const (
	CallbackStatusPending   CallbackStatus = "pending"
	CallbackStatusDelivered CallbackStatus = "delivered"
	CallbackStatusFailed    CallbackStatus = "failed"
)

// CallbackLog records one outbound callback delivery. Created pending, it
// transitions exactly once to delivered or failed.
type CallbackLog struct {
	ID              int64          `db:"id" json:"id"`
	ProjectID       int64          `db:"project_id" json:"project_id"`
	ConversationID  string         `db:"conversation_id" json:"conversation_id"`
	OriginatorID    string         `db:"originator_id" json:"originator_id"`
	TransactionID   *string        `db:"transaction_id" json:"transaction_id"`
	URL             string         `db:"url" json:"url"`
	CallbackType    CallbackType   `db:"callback_type" json:"callback_type"`
	Payload         string         `db:"payload" json:"payload"`
	ResponseStatus  *int           `db:"response_status" json:"response_status"`
	ResponseBody    *string        `db:"response_body" json:"response_body"`
	ResponseHeaders *string        `db:"response_headers" json:"response_headers"`
	Status          CallbackStatus `db:"status" json:"status"`
	Error           *string        `db:"error" json:"error"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time     `db:"updated_at" json:"updated_at"`
}

type CallbackLogModel struct {
	dbConnectionPool db.DBConnectionPool
}

type CallbackLogInsert struct {
	ProjectID      int64
	ConversationID string
	OriginatorID   string
	TransactionID  *string
	URL            string
	CallbackType   CallbackType
	Payload        string
}

func (m *CallbackLogModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert CallbackLogInsert) (*CallbackLog, error) {
	var cl CallbackLog
	query := `
		INSERT INTO callback_logs (project_id, conversation_id, originator_id, transaction_id, url, callback_type, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING *
	`
	err := sqlExec.GetContext(ctx, &cl, query,
		insert.ProjectID, insert.ConversationID, insert.OriginatorID, insert.TransactionID,
		insert.URL, insert.CallbackType, insert.Payload)
	if err != nil {
		return nil, fmt.Errorf("inserting callback log: %w", err)
	}
	return &cl, nil
}

// MarkDelivered records the terminal delivered state with the merchant's
// response.
func (m *CallbackLogModel) MarkDelivered(ctx context.Context, sqlExec db.SQLExecuter, id int64, responseStatus int, responseBody, responseHeaders string) error {
	query := `
		UPDATE callback_logs
		SET status = 'delivered', response_status = ?, response_body = ?, response_headers = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	return m.markTerminal(ctx, sqlExec, query, responseStatus, responseBody, responseHeaders, time.Now().UTC(), id)
}

// MarkFailed records the terminal failed state after retry exhaustion.
func (m *CallbackLogModel) MarkFailed(ctx context.Context, sqlExec db.SQLExecuter, id int64, errorMessage string) error {
	query := `
		UPDATE callback_logs
		SET status = 'failed', error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	return m.markTerminal(ctx, sqlExec, query, errorMessage, time.Now().UTC(), id)
}

func (m *CallbackLogModel) markTerminal(ctx context.Context, sqlExec db.SQLExecuter, query string, args ...any) error {
	result, err := sqlExec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating callback log: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m *CallbackLogModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id int64) (*CallbackLog, error) {
	var cl CallbackLog
	query := `SELECT * FROM callback_logs WHERE id = ?`
	err := sqlExec.GetContext(ctx, &cl, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying callback log %d: %w", id, err)
	}
	return &cl, nil
}

func (m *CallbackLogModel) ListByProject(ctx context.Context, sqlExec db.SQLExecuter, projectID int64, limit int) ([]CallbackLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []CallbackLog
	query := `SELECT * FROM callback_logs WHERE project_id = ? ORDER BY id DESC LIMIT ?`
	err := sqlExec.SelectContext(ctx, &logs, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing callback logs for project %d: %w", projectID, err)
	}
	return logs, nil
}
