package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

func CreateUserFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, phoneNumber, pin string, balance int64) *User {
	t.Helper()

	model := &UserModel{}
	user, err := model.Insert(ctx, sqlExec, phoneNumber, pin, "Test User", balance)
	require.NoError(t, err)
	return user
}

func CreateBusinessFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, name, shortCode string) *Business {
	t.Helper()

	model := &BusinessModel{}
	business, err := model.Insert(ctx, sqlExec, name, shortCode, 0)
	require.NoError(t, err)
	return business
}

func CreateProjectFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, businessID int64, mode SimulationMode, stkDelayMs int64) *Project {
	t.Helper()

	model := &ProjectModel{}
	project, err := model.Insert(ctx, sqlExec, ProjectInsert{
		BusinessID:     businessID,
		Name:           "test project",
		SimulationMode: mode,
		StkDelayMs:     stkDelayMs,
	})
	require.NoError(t, err)
	return project
}

func CreateAPIKeyFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, projectID int64) *APIKey {
	t.Helper()

	model := &APIKeyModel{}
	apiKey, err := model.Insert(ctx, sqlExec, projectID)
	require.NoError(t, err)
	return apiKey
}

func CreatePaybillFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, businessID int64, number string) *MerchantAccount {
	t.Helper()

	model := &MerchantAccountModel{}
	account, err := model.Insert(ctx, sqlExec, MerchantPaybill, businessID, number)
	require.NoError(t, err)
	return account
}

func CreateSystemAccountFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) *Account {
	t.Helper()

	model := &AccountModel{}
	account, err := model.Insert(ctx, sqlExec, SystemAccountType, 0)
	require.NoError(t, err)
	return account
}

// SetAccountBalanceFixture forces a balance directly, bypassing the ledger.
func SetAccountBalanceFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, accountID, balance int64) {
	t.Helper()

	_, err := sqlExec.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, balance, accountID)
	require.NoError(t, err)
}
