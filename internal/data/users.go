package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

// User is a simulated wallet holder. The pin is stored in cleartext; the
// sandbox is a developer tool, not a payment system.
type User struct {
	ID          int64     `db:"id" json:"id"`
	AccountID   int64     `db:"account_id" json:"account_id"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	PIN         string    `db:"pin" json:"-"`
	FullName    string    `db:"full_name" json:"full_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type UserModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *UserModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id int64) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE id = ?`
	err := sqlExec.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying user %d: %w", id, err)
	}
	return &user, nil
}

func (m *UserModel) GetByPhoneNumber(ctx context.Context, sqlExec db.SQLExecuter, phoneNumber string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE phone_number = ?`
	err := sqlExec.GetContext(ctx, &user, query, phoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying user by phone number: %w", err)
	}
	return &user, nil
}

// Insert creates the user together with its backing ledger account.
func (m *UserModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, phoneNumber, pin, fullName string, initialBalance int64) (*User, error) {
	var account Account
	err := sqlExec.GetContext(ctx, &account, `INSERT INTO accounts (account_type, balance) VALUES ('user', ?) RETURNING *`, initialBalance)
	if err != nil {
		return nil, fmt.Errorf("inserting user account: %w", err)
	}

	var user User
	query := `INSERT INTO users (account_id, phone_number, pin, full_name) VALUES (?, ?, ?, ?) RETURNING *`
	err = sqlExec.GetContext(ctx, &user, query, account.ID, phoneNumber, pin, fullName)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return &user, nil
}
