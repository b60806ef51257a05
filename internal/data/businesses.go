package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

// Business owns one MMF (working) account, one utility account and
// zero-or-more paybill/till accounts. ChargesAmount is the default fee the
// business is charged per transaction, in minor units.
type Business struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	ShortCode     string    `db:"short_code" json:"short_code"`
	ChargesAmount int64     `db:"charges_amount" json:"charges_amount"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// BusinessAccount is the 1:1 link row between a business and one of its
// ledger accounts (mmf or utility).
type BusinessAccount struct {
	ID         int64 `db:"id" json:"id"`
	AccountID  int64 `db:"account_id" json:"account_id"`
	BusinessID int64 `db:"business_id" json:"business_id"`
}

type BusinessModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *BusinessModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id int64) (*Business, error) {
	var business Business
	query := `SELECT * FROM businesses WHERE id = ?`
	err := sqlExec.GetContext(ctx, &business, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying business %d: %w", id, err)
	}
	return &business, nil
}

func (m *BusinessModel) GetByShortCode(ctx context.Context, sqlExec db.SQLExecuter, shortCode string) (*Business, error) {
	var business Business
	query := `SELECT * FROM businesses WHERE short_code = ?`
	err := sqlExec.GetContext(ctx, &business, query, shortCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying business by short code %q: %w", shortCode, err)
	}
	return &business, nil
}

// Insert creates the business plus its MMF and utility accounts in one shot.
func (m *BusinessModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, name, shortCode string, chargesAmount int64) (*Business, error) {
	var business Business
	query := `INSERT INTO businesses (name, short_code, charges_amount) VALUES (?, ?, ?) RETURNING *`
	err := sqlExec.GetContext(ctx, &business, query, name, shortCode, chargesAmount)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("inserting business with short code %q: %w", shortCode, ErrRecordAlreadyExists)
		}
		return nil, fmt.Errorf("inserting business: %w", err)
	}

	for _, accountType := range []AccountType{MmfAccountType, UtilityAccountType} {
		var account Account
		err = sqlExec.GetContext(ctx, &account, `INSERT INTO accounts (account_type, balance) VALUES (?, 0) RETURNING *`, accountType)
		if err != nil {
			return nil, fmt.Errorf("inserting %s account for business: %w", accountType, err)
		}
		table := "mmf_accounts"
		if accountType == UtilityAccountType {
			table = "utility_accounts"
		}
		_, err = sqlExec.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (account_id, business_id) VALUES (?, ?)`, table), account.ID, business.ID)
		if err != nil {
			return nil, fmt.Errorf("linking %s account to business: %w", accountType, err)
		}
	}

	return &business, nil
}

// GetMmfAccount returns the ledger account backing the business's working
// (MMF) account.
func (m *BusinessModel) GetMmfAccount(ctx context.Context, sqlExec db.SQLExecuter, businessID int64) (*Account, error) {
	return m.getLinkedAccount(ctx, sqlExec, "mmf_accounts", businessID)
}

// GetUtilityAccount returns the ledger account used as the B2C source and the
// STK Push credit target.
func (m *BusinessModel) GetUtilityAccount(ctx context.Context, sqlExec db.SQLExecuter, businessID int64) (*Account, error) {
	return m.getLinkedAccount(ctx, sqlExec, "utility_accounts", businessID)
}

func (m *BusinessModel) getLinkedAccount(ctx context.Context, sqlExec db.SQLExecuter, table string, businessID int64) (*Account, error) {
	var account Account
	query := fmt.Sprintf(`
		SELECT a.* FROM accounts a
		JOIN %s ba ON ba.account_id = a.id
		WHERE ba.business_id = ?
	`, table)
	err := sqlExec.GetContext(ctx, &account, query, businessID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying %s for business %d: %w", table, businessID, err)
	}
	return &account, nil
}
