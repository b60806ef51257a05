package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

const (
	AccessTokenSize = 32
	AccessTokenTTL  = time.Hour
)

var ErrTokenExpired = errors.New("access token expired")

// AccessToken is the opaque bearer credential minted by the OAuth endpoint.
type AccessToken struct {
	Token     string    `db:"token" json:"token"`
	ProjectID int64     `db:"project_id" json:"project_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type AccessTokenModel struct {
	dbConnectionPool db.DBConnectionPool
}

// Insert mints a fresh 32-char alphanumeric token with a 1-hour expiry.
func (m *AccessTokenModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, projectID int64) (*AccessToken, error) {
	token, err := GenerateAlphanumeric(AccessTokenSize)
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}

	var accessToken AccessToken
	query := `
		INSERT INTO access_tokens (token, project_id, expires_at)
		VALUES (?, ?, ?)
		RETURNING *
	`
	err = sqlExec.GetContext(ctx, &accessToken, query, token, projectID, time.Now().UTC().Add(AccessTokenTTL))
	if err != nil {
		return nil, fmt.Errorf("inserting access token for project %d: %w", projectID, err)
	}
	return &accessToken, nil
}

// Validate resolves the token and enforces the expiry. No cleanup job is
// assumed; an expired row is rejected here regardless of whether it is ever
// deleted.
func (m *AccessTokenModel) Validate(ctx context.Context, sqlExec db.SQLExecuter, token string, projectID int64) (*AccessToken, error) {
	var accessToken AccessToken
	query := `SELECT * FROM access_tokens WHERE token = ? AND project_id = ?`
	err := sqlExec.GetContext(ctx, &accessToken, query, token, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying access token: %w", err)
	}
	if time.Now().UTC().After(accessToken.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &accessToken, nil
}
