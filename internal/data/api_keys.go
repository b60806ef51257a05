package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

const (
	ConsumerKeySize    = 16
	ConsumerSecretSize = 16
	// PasskeySize matches Daraja: the passkey feeds the STK Password digest
	// base64(shortcode + passkey + timestamp).
	PasskeySize = 64
)

// alphabet is the allowed character set for the keygen
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// APIKey is the per-project credential triple. Consumer key/secret feed the
// OAuth Basic handshake; the passkey feeds the STK Password.
type APIKey struct {
	ID             int64     `db:"id" json:"id"`
	ProjectID      int64     `db:"project_id" json:"project_id"`
	ConsumerKey    string    `db:"consumer_key" json:"consumer_key"`
	ConsumerSecret string    `db:"consumer_secret" json:"consumer_secret"`
	Passkey        string    `db:"passkey" json:"passkey"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type APIKeyModel struct {
	dbConnectionPool db.DBConnectionPool
}

// GenerateAlphanumeric returns a cryptographically random string over the
// keygen alphabet.
func GenerateAlphanumeric(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("generating random index: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// Insert mints and persists the credential triple for a project.
func (m *APIKeyModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, projectID int64) (*APIKey, error) {
	consumerKey, err := GenerateAlphanumeric(ConsumerKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating consumer key: %w", err)
	}
	consumerSecret, err := GenerateAlphanumeric(ConsumerSecretSize)
	if err != nil {
		return nil, fmt.Errorf("generating consumer secret: %w", err)
	}
	passkey, err := GenerateAlphanumeric(PasskeySize)
	if err != nil {
		return nil, fmt.Errorf("generating passkey: %w", err)
	}

	var apiKey APIKey
	query := `
		INSERT INTO api_keys (project_id, consumer_key, consumer_secret, passkey)
		VALUES (?, ?, ?, ?)
		RETURNING *
	`
	err = sqlExec.GetContext(ctx, &apiKey, query, projectID, consumerKey, consumerSecret, passkey)
	if err != nil {
		return nil, fmt.Errorf("inserting api key for project %d: %w", projectID, err)
	}
	return &apiKey, nil
}

func (m *APIKeyModel) GetByProjectID(ctx context.Context, sqlExec db.SQLExecuter, projectID int64) (*APIKey, error) {
	var apiKey APIKey
	query := `SELECT * FROM api_keys WHERE project_id = ?`
	err := sqlExec.GetContext(ctx, &apiKey, query, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying api key for project %d: %w", projectID, err)
	}
	return &apiKey, nil
}

func (m *APIKeyModel) GetByConsumerKey(ctx context.Context, sqlExec db.SQLExecuter, consumerKey string) (*APIKey, error) {
	var apiKey APIKey
	query := `SELECT * FROM api_keys WHERE consumer_key = ?`
	err := sqlExec.GetContext(ctx, &apiKey, query, consumerKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying api key by consumer key: %w", err)
	}
	return &apiKey, nil
}
