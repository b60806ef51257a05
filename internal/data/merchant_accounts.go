package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

type MerchantAccountKind string

const (
	MerchantPaybill MerchantAccountKind = "paybill"
	MerchantTill    MerchantAccountKind = "till"
)

// MerchantAccount is a paybill or till account of a business, the C2B target.
// Validation and confirmation URLs are nil until the merchant registers them.
type MerchantAccount struct {
	ID              int64               `db:"id" json:"id"`
	AccountID       int64               `db:"account_id" json:"account_id"`
	BusinessID      int64               `db:"business_id" json:"business_id"`
	Number          string              `db:"number" json:"number"`
	ValidationURL   *string             `db:"validation_url" json:"validation_url"`
	ConfirmationURL *string             `db:"confirmation_url" json:"confirmation_url"`
	ResponseType    *string             `db:"response_type" json:"response_type"`
	Kind            MerchantAccountKind `db:"-" json:"kind"`
}

// HasRegisteredURLs reports whether both C2B URLs are already set.
func (a *MerchantAccount) HasRegisteredURLs() bool {
	return a.ValidationURL != nil && *a.ValidationURL != "" &&
		a.ConfirmationURL != nil && *a.ConfirmationURL != ""
}

type MerchantAccountModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *MerchantAccountModel) table(kind MerchantAccountKind) (table, numberColumn string) {
	if kind == MerchantTill {
		return "till_accounts", "till_number"
	}
	return "paybill_accounts", "paybill_number"
}

// GetByNumber resolves a paybill first, falling back to a till, within the
// given business.
func (m *MerchantAccountModel) GetByNumber(ctx context.Context, sqlExec db.SQLExecuter, businessID int64, number string) (*MerchantAccount, error) {
	for _, kind := range []MerchantAccountKind{MerchantPaybill, MerchantTill} {
		account, err := m.getByNumber(ctx, sqlExec, kind, businessID, number)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MerchantAccountModel) getByNumber(ctx context.Context, sqlExec db.SQLExecuter, kind MerchantAccountKind, businessID int64, number string) (*MerchantAccount, error) {
	table, numberColumn := m.table(kind)
	query := fmt.Sprintf(`
		SELECT id, account_id, business_id, %s AS number, validation_url, confirmation_url, response_type
		FROM %s WHERE business_id = ? AND %s = ?
	`, numberColumn, table, numberColumn)

	var account MerchantAccount
	err := sqlExec.GetContext(ctx, &account, query, businessID, number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying %s %q: %w", kind, number, err)
	}
	account.Kind = kind
	return &account, nil
}

// RegisterURLs sets the validation/confirmation URLs and response type.
func (m *MerchantAccountModel) RegisterURLs(ctx context.Context, sqlExec db.SQLExecuter, account *MerchantAccount, validationURL, confirmationURL, responseType string) error {
	table, _ := m.table(account.Kind)
	query := fmt.Sprintf(`
		UPDATE %s SET validation_url = ?, confirmation_url = ?, response_type = ? WHERE id = ?
	`, table)
	result, err := sqlExec.ExecContext(ctx, query, validationURL, confirmationURL, responseType, account.ID)
	if err != nil {
		return fmt.Errorf("registering URLs on %s %d: %w", account.Kind, account.ID, err)
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

// Insert creates a paybill or till account, with its backing ledger account.
func (m *MerchantAccountModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, kind MerchantAccountKind, businessID int64, number string) (*MerchantAccount, error) {
	accountType := PaybillAccountType
	if kind == MerchantTill {
		accountType = TillAccountType
	}
	var ledgerAccount Account
	err := sqlExec.GetContext(ctx, &ledgerAccount, `INSERT INTO accounts (account_type, balance) VALUES (?, 0) RETURNING *`, accountType)
	if err != nil {
		return nil, fmt.Errorf("inserting %s ledger account: %w", kind, err)
	}

	table, numberColumn := m.table(kind)
	query := fmt.Sprintf(`
		INSERT INTO %s (account_id, business_id, %s) VALUES (?, ?, ?)
		RETURNING id, account_id, business_id, %s AS number, validation_url, confirmation_url, response_type
	`, table, numberColumn, numberColumn)
	var account MerchantAccount
	err = sqlExec.GetContext(ctx, &account, query, ledgerAccount.ID, businessID, number)
	if err != nil {
		return nil, fmt.Errorf("inserting %s: %w", kind, err)
	}
	account.Kind = kind
	return &account, nil
}
