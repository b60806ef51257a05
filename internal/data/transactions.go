package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

type TransactionType string

const (
	TransactionTypePayBill    TransactionType = "pay_bill"
	TransactionTypeBuyGoods   TransactionType = "buy_goods"
	TransactionTypeB2CPayment TransactionType = "b2c_payment"
	TransactionTypeDeposit    TransactionType = "deposit"
)

// DarajaFormat renders the transaction type the way the C2B
// validation/confirmation wire format spells it.
func (t TransactionType) DarajaFormat() string {
	switch t {
	case TransactionTypePayBill:
		return "Pay Bill"
	case TransactionTypeBuyGoods:
		return "Buy Goods"
	default:
		return string(t)
	}
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

type LogDirection string

const (
	LogDirectionDebit  LogDirection = "debit"
	LogDirectionCredit LogDirection = "credit"
)

// Transaction is one committed ledger movement. The ID doubles as the
// MpesaReceiptNumber in STK callbacks.
type Transaction struct {
	ID              string            `db:"id" json:"id"`
	FromAccountID   *int64            `db:"from_account_id" json:"from_account_id"`
	ToAccountID     int64             `db:"to_account_id" json:"to_account_id"`
	Amount          int64             `db:"amount" json:"amount"`
	Fee             int64             `db:"fee" json:"fee"`
	Currency        string            `db:"currency" json:"currency"`
	TransactionType TransactionType   `db:"transaction_type" json:"transaction_type"`
	Status          TransactionStatus `db:"status" json:"status"`
	ReversalOf      *string           `db:"reversal_of" json:"reversal_of"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// TransactionLog is one side of a double-entry posting: the direction plus
// the account balance after the entry.
type TransactionLog struct {
	ID            int64        `db:"id" json:"id"`
	TransactionID string       `db:"transaction_id" json:"transaction_id"`
	AccountID     int64        `db:"account_id" json:"account_id"`
	Direction     LogDirection `db:"direction" json:"direction"`
	NewBalance    int64        `db:"new_balance" json:"new_balance"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// TransactionCost is a fee bracket: the fee for a (type, amount) pair is
// fee_fixed when present, otherwise amount * fee_percentage.
type TransactionCost struct {
	ID              int64           `db:"id" json:"id"`
	TransactionType TransactionType `db:"transaction_type" json:"transaction_type"`
	MinAmount       int64           `db:"min_amount" json:"min_amount"`
	MaxAmount       int64           `db:"max_amount" json:"max_amount"`
	FeeFixed        *int64          `db:"fee_fixed" json:"fee_fixed"`
	FeePercentage   *float64        `db:"fee_percentage" json:"fee_percentage"`
}

type TransactionModel struct {
	dbConnectionPool db.DBConnectionPool
}

const receiptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateReceiptNumber mints a 10-char M-Pesa style receipt.
func GenerateReceiptNumber() (string, error) {
	out := make([]byte, 10)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(receiptAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generating receipt number: %w", err)
		}
		out[i] = receiptAlphabet[n.Int64()]
	}
	return string(out), nil
}

type TransferInput struct {
	FromAccountID *int64
	ToAccountID   int64
	Amount        int64
	Kind          TransactionType
	// ID overrides the generated receipt number; the C2B flow mints it ahead
	// of time so the validation and confirmation payloads carry the same
	// TransID.
	ID string
}

// Transfer moves Amount from the source to the destination account inside
// the caller's transaction; commit and rollback stay with the caller. A nil
// FromAccountID is a system-originated deposit and performs only the credit
// side. The fee posting, when a system fees account exists, is part of the
// same atomic unit.
func (m *TransactionModel) Transfer(ctx context.Context, dbTx db.DBTransaction, input TransferInput) (*Transaction, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", input.Amount)
	}
	if input.FromAccountID != nil && *input.FromAccountID == input.ToAccountID {
		return nil, fmt.Errorf("transfer source and destination accounts must differ")
	}

	accounts := &AccountModel{dbConnectionPool: m.dbConnectionPool}

	toAccount, err := accounts.Get(ctx, dbTx, input.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("resolving destination account: %w", err)
	}
	if toAccount.IsDisabled {
		return nil, ErrAccountDisabled
	}

	var fee int64
	if input.FromAccountID != nil {
		fee, err = m.lookupFee(ctx, dbTx, input.Kind, input.Amount)
		if err != nil {
			return nil, fmt.Errorf("computing fee: %w", err)
		}
	}

	id := input.ID
	if id == "" {
		id, err = GenerateReceiptNumber()
		if err != nil {
			return nil, err
		}
	}

	var txn Transaction
	query := `
		INSERT INTO transactions (id, from_account_id, to_account_id, amount, fee, transaction_type, status)
		VALUES (?, ?, ?, ?, ?, ?, 'completed')
		RETURNING *
	`
	err = dbTx.GetContext(ctx, &txn, query, id, input.FromAccountID, input.ToAccountID, input.Amount, fee, input.Kind)
	if err != nil {
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}

	if input.FromAccountID != nil {
		fromAccount, fromErr := accounts.Get(ctx, dbTx, *input.FromAccountID)
		if fromErr != nil {
			return nil, fmt.Errorf("resolving source account: %w", fromErr)
		}
		if fromAccount.IsDisabled {
			return nil, ErrAccountDisabled
		}
		if fromAccount.Balance < input.Amount+fee {
			return nil, ErrInsufficientFunds
		}

		newBalance, updateErr := accounts.UpdateBalance(ctx, dbTx, fromAccount.ID, -(input.Amount + fee))
		if updateErr != nil {
			return nil, fmt.Errorf("debiting source account: %w", updateErr)
		}
		if err = m.insertLog(ctx, dbTx, txn.ID, fromAccount.ID, LogDirectionDebit, newBalance); err != nil {
			return nil, err
		}
	}

	newBalance, err := accounts.UpdateBalance(ctx, dbTx, input.ToAccountID, input.Amount)
	if err != nil {
		return nil, fmt.Errorf("crediting destination account: %w", err)
	}
	if err = m.insertLog(ctx, dbTx, txn.ID, input.ToAccountID, LogDirectionCredit, newBalance); err != nil {
		return nil, err
	}

	if fee > 0 {
		feesAccount, feesErr := accounts.GetSystemFeesAccount(ctx, dbTx)
		switch {
		case feesErr == nil:
			feesBalance, updateErr := accounts.UpdateBalance(ctx, dbTx, feesAccount.ID, fee)
			if updateErr != nil {
				return nil, fmt.Errorf("crediting fees account: %w", updateErr)
			}
			if err = m.insertLog(ctx, dbTx, txn.ID, feesAccount.ID, LogDirectionCredit, feesBalance); err != nil {
				return nil, err
			}
		case errors.Is(feesErr, ErrRecordNotFound):
			// No fees account seeded; the fee still leaves the source.
		default:
			return nil, feesErr
		}
	}

	return &txn, nil
}

func (m *TransactionModel) insertLog(ctx context.Context, sqlExec db.SQLExecuter, transactionID string, accountID int64, direction LogDirection, newBalance int64) error {
	query := `INSERT INTO transaction_logs (transaction_id, account_id, direction, new_balance) VALUES (?, ?, ?, ?)`
	_, err := sqlExec.ExecContext(ctx, query, transactionID, accountID, direction, newBalance)
	if err != nil {
		return fmt.Errorf("inserting %s log for account %d: %w", direction, accountID, err)
	}
	return nil
}

// lookupFee finds the cost bracket containing amount; no bracket means no fee.
func (m *TransactionModel) lookupFee(ctx context.Context, sqlExec db.SQLExecuter, kind TransactionType, amount int64) (int64, error) {
	var cost TransactionCost
	query := `
		SELECT * FROM transaction_costs
		WHERE transaction_type = ? AND min_amount <= ? AND max_amount >= ?
		ORDER BY min_amount LIMIT 1
	`
	err := sqlExec.GetContext(ctx, &cost, query, kind, amount, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying transaction cost bracket: %w", err)
	}
	if cost.FeeFixed != nil {
		return *cost.FeeFixed, nil
	}
	if cost.FeePercentage != nil {
		return int64(math.Round(float64(amount) * *cost.FeePercentage)), nil
	}
	return 0, nil
}

func (m *TransactionModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Transaction, error) {
	var txn Transaction
	query := `SELECT * FROM transactions WHERE id = ?`
	err := sqlExec.GetContext(ctx, &txn, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying transaction %q: %w", id, err)
	}
	return &txn, nil
}

func (m *TransactionModel) GetLogs(ctx context.Context, sqlExec db.SQLExecuter, transactionID string) ([]TransactionLog, error) {
	var logs []TransactionLog
	query := `SELECT * FROM transaction_logs WHERE transaction_id = ? ORDER BY id`
	err := sqlExec.SelectContext(ctx, &logs, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying logs for transaction %q: %w", transactionID, err)
	}
	return logs, nil
}

func (m *TransactionModel) GetLogsByAccount(ctx context.Context, sqlExec db.SQLExecuter, accountID int64) ([]TransactionLog, error) {
	var logs []TransactionLog
	query := `SELECT * FROM transaction_logs WHERE account_id = ? ORDER BY id`
	err := sqlExec.SelectContext(ctx, &logs, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying logs for account %d: %w", accountID, err)
	}
	return logs, nil
}

// InsertCost registers a fee bracket.
func (m *TransactionModel) InsertCost(ctx context.Context, sqlExec db.SQLExecuter, cost TransactionCost) error {
	query := `
		INSERT INTO transaction_costs (transaction_type, min_amount, max_amount, fee_fixed, fee_percentage)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := sqlExec.ExecContext(ctx, query, cost.TransactionType, cost.MinAmount, cost.MaxAmount, cost.FeeFixed, cost.FeePercentage)
	if err != nil {
		return fmt.Errorf("inserting transaction cost: %w", err)
	}
	return nil
}
