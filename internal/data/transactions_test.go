package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
)

func Test_TransactionModel_Transfer(t *testing.T) {
	dbConnectionPool := dbtest.Open(t)
	ctx := context.Background()

	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	payer := CreateUserFixture(t, ctx, dbConnectionPool, "254700000001", "1234", 100_00)
	business := CreateBusinessFixture(t, ctx, dbConnectionPool, "Acme Ltd", "174379")
	utility, err := models.Businesses.GetUtilityAccount(ctx, dbConnectionPool, business.ID)
	require.NoError(t, err)

	t.Run("moves funds and writes both log sides", func(t *testing.T) {
		txn, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   utility.ID,
				Amount:        10_00,
				Kind:          TransactionTypePayBill,
			})
		})
		require.NoError(t, txErr)
		require.Len(t, txn.ID, 10)
		assert.Equal(t, TransactionStatusCompleted, txn.Status)
		assert.EqualValues(t, 10_00, txn.Amount)

		payerAccount, accErr := models.Accounts.Get(ctx, dbConnectionPool, payer.AccountID)
		require.NoError(t, accErr)
		assert.EqualValues(t, 90_00, payerAccount.Balance)
		utilityAccount, accErr := models.Accounts.Get(ctx, dbConnectionPool, utility.ID)
		require.NoError(t, accErr)
		assert.EqualValues(t, 10_00, utilityAccount.Balance)

		logs, logErr := models.Transactions.GetLogs(ctx, dbConnectionPool, txn.ID)
		require.NoError(t, logErr)
		require.Len(t, logs, 2)
		assert.Equal(t, LogDirectionDebit, logs[0].Direction)
		assert.EqualValues(t, 90_00, logs[0].NewBalance)
		assert.Equal(t, LogDirectionCredit, logs[1].Direction)
		assert.EqualValues(t, 10_00, logs[1].NewBalance)
	})

	t.Run("insufficient funds rolls everything back", func(t *testing.T) {
		before, accErr := models.Accounts.Get(ctx, dbConnectionPool, payer.AccountID)
		require.NoError(t, accErr)

		_, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   utility.ID,
				Amount:        1_000_00,
				Kind:          TransactionTypePayBill,
			})
		})
		require.ErrorIs(t, txErr, ErrInsufficientFunds)

		after, accErr := models.Accounts.Get(ctx, dbConnectionPool, payer.AccountID)
		require.NoError(t, accErr)
		assert.Equal(t, before.Balance, after.Balance)

		logs, logErr := models.Transactions.GetLogsByAccount(ctx, dbConnectionPool, payer.AccountID)
		require.NoError(t, logErr)
		assert.Len(t, logs, 1) // only the first successful transfer
	})

	t.Run("rejects non-positive amounts and self transfers", func(t *testing.T) {
		_, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   utility.ID,
				Amount:        0,
				Kind:          TransactionTypePayBill,
			})
		})
		require.ErrorContains(t, txErr, "must be positive")

		_, txErr = db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   payer.AccountID,
				Amount:        10_00,
				Kind:          TransactionTypePayBill,
			})
		})
		require.ErrorContains(t, txErr, "must differ")
	})

	t.Run("honors a pre-minted transaction id", func(t *testing.T) {
		txn, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   utility.ID,
				Amount:        1_00,
				Kind:          TransactionTypeBuyGoods,
				ID:            "SFX12ABC90",
			})
		})
		require.NoError(t, txErr)
		assert.Equal(t, "SFX12ABC90", txn.ID)
	})
}

func Test_TransactionModel_Transfer_fees(t *testing.T) {
	dbConnectionPool := dbtest.Open(t)
	ctx := context.Background()

	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	payer := CreateUserFixture(t, ctx, dbConnectionPool, "254700000002", "1234", 100_00)
	payee := CreateUserFixture(t, ctx, dbConnectionPool, "254700000003", "1234", 0)
	feesAccount := CreateSystemAccountFixture(t, ctx, dbConnectionPool)

	fixedFee := int64(5_00)
	require.NoError(t, models.Transactions.InsertCost(ctx, dbConnectionPool, TransactionCost{
		TransactionType: TransactionTypePayBill,
		MinAmount:       1,
		MaxAmount:       50_00,
		FeeFixed:        &fixedFee,
	}))

	t.Run("fixed fee debited from source and credited to system", func(t *testing.T) {
		txn, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   payee.AccountID,
				Amount:        20_00,
				Kind:          TransactionTypePayBill,
			})
		})
		require.NoError(t, txErr)
		assert.EqualValues(t, 5_00, txn.Fee)

		payerAccount, accErr := models.Accounts.Get(ctx, dbConnectionPool, payer.AccountID)
		require.NoError(t, accErr)
		assert.EqualValues(t, 100_00-20_00-5_00, payerAccount.Balance)

		fees, accErr := models.Accounts.Get(ctx, dbConnectionPool, feesAccount.ID)
		require.NoError(t, accErr)
		assert.EqualValues(t, 5_00, fees.Balance)

		logs, logErr := models.Transactions.GetLogs(ctx, dbConnectionPool, txn.ID)
		require.NoError(t, logErr)
		assert.Len(t, logs, 3)
	})

	t.Run("amounts outside every bracket pay no fee", func(t *testing.T) {
		txn, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				FromAccountID: &payer.AccountID,
				ToAccountID:   payee.AccountID,
				Amount:        60_00,
				Kind:          TransactionTypePayBill,
			})
		})
		require.NoError(t, txErr)
		assert.Zero(t, txn.Fee)
	})

	t.Run("deposits skip the fee lookup", func(t *testing.T) {
		txn, txErr := db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
			return models.Transactions.Transfer(ctx, dbTx, TransferInput{
				ToAccountID: payee.AccountID,
				Amount:      30_00,
				Kind:        TransactionTypeDeposit,
			})
		})
		require.NoError(t, txErr)
		assert.Zero(t, txn.Fee)

		logs, logErr := models.Transactions.GetLogs(ctx, dbConnectionPool, txn.ID)
		require.NoError(t, logErr)
		require.Len(t, logs, 1)
		assert.Equal(t, LogDirectionCredit, logs[0].Direction)
	})
}

func Test_TransactionModel_Transfer_disabledAccount(t *testing.T) {
	dbConnectionPool := dbtest.Open(t)
	ctx := context.Background()

	models, err := NewModels(dbConnectionPool)
	require.NoError(t, err)

	payer := CreateUserFixture(t, ctx, dbConnectionPool, "254700000004", "1234", 100_00)
	payee := CreateUserFixture(t, ctx, dbConnectionPool, "254700000005", "1234", 0)

	_, err = dbConnectionPool.ExecContext(ctx, `UPDATE accounts SET is_disabled = TRUE WHERE id = ?`, payee.AccountID)
	require.NoError(t, err)

	_, err = db.RunInTransactionWithResult(ctx, dbConnectionPool, nil, func(dbTx db.DBTransaction) (*Transaction, error) {
		return models.Transactions.Transfer(ctx, dbTx, TransferInput{
			FromAccountID: &payer.AccountID,
			ToAccountID:   payee.AccountID,
			Amount:        10_00,
			Kind:          TransactionTypePayBill,
		})
	})
	require.ErrorIs(t, err, ErrAccountDisabled)
}
