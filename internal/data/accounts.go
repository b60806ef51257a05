package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

type AccountType string

const (
	UserAccountType    AccountType = "user"
	SystemAccountType  AccountType = "system"
	MmfAccountType     AccountType = "mmf"
	UtilityAccountType AccountType = "utility"
	PaybillAccountType AccountType = "paybill"
	TillAccountType    AccountType = "till"
)

// Account is the universal ledger leaf. Balances are in minor currency units
// (cents); every balance change is paired with a Transaction and at least one
// TransactionLog row.
type Account struct {
	ID          int64       `db:"id" json:"id"`
	AccountType AccountType `db:"account_type" json:"account_type"`
	Balance     int64       `db:"balance" json:"balance"`
	IsDisabled  bool        `db:"is_disabled" json:"is_disabled"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

type AccountModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *AccountModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id int64) (*Account, error) {
	var account Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := sqlExec.GetContext(ctx, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying account %d: %w", id, err)
	}
	return &account, nil
}

func (m *AccountModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, accountType AccountType, balance int64) (*Account, error) {
	query := `INSERT INTO accounts (account_type, balance) VALUES (?, ?) RETURNING *`
	var account Account
	err := sqlExec.GetContext(ctx, &account, query, accountType, balance)
	if err != nil {
		return nil, fmt.Errorf("inserting %s account: %w", accountType, err)
	}
	return &account, nil
}

// UpdateBalance applies a signed delta and returns the post-update balance.
// Callers are expected to hold a transaction; the delta is applied in SQL so
// two concurrent writers cannot both read a stale balance.
func (m *AccountModel) UpdateBalance(ctx context.Context, sqlExec db.SQLExecuter, id int64, delta int64) (int64, error) {
	query := `UPDATE accounts SET balance = balance + ? WHERE id = ? RETURNING balance`
	var newBalance int64
	err := sqlExec.GetContext(ctx, &newBalance, query, delta, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRecordNotFound
		}
		return 0, fmt.Errorf("updating balance of account %d: %w", id, err)
	}
	return newBalance, nil
}

// GetSystemFeesAccount returns the account that collects transaction fees, or
// ErrRecordNotFound when the deployment was seeded without one.
func (m *AccountModel) GetSystemFeesAccount(ctx context.Context, sqlExec db.SQLExecuter) (*Account, error) {
	var account Account
	query := `SELECT * FROM accounts WHERE account_type = 'system' ORDER BY id LIMIT 1`
	err := sqlExec.GetContext(ctx, &account, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying system fees account: %w", err)
	}
	return &account, nil
}
