package data

import (
	"errors"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrRecordAlreadyExists = errors.New("record already exists")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrMissingInput        = errors.New("missing input")
)

type Models struct {
	Accounts         *AccountModel
	Users            *UserModel
	Businesses       *BusinessModel
	MerchantAccounts *MerchantAccountModel
	Projects         *ProjectModel
	APIKeys          *APIKeyModel
	AccessTokens     *AccessTokenModel
	Transactions     *TransactionModel
	CallbackLogs     *CallbackLogModel
	APILogs          *APILogModel
	DBConnectionPool db.DBConnectionPool
}

func NewModels(dbConnectionPool db.DBConnectionPool) (*Models, error) {
	if dbConnectionPool == nil {
		return nil, errors.New("dbConnectionPool is required for NewModels")
	}
	return &Models{
		Accounts:         &AccountModel{dbConnectionPool: dbConnectionPool},
		Users:            &UserModel{dbConnectionPool: dbConnectionPool},
		Businesses:       &BusinessModel{dbConnectionPool: dbConnectionPool},
		MerchantAccounts: &MerchantAccountModel{dbConnectionPool: dbConnectionPool},
		Projects:         &ProjectModel{dbConnectionPool: dbConnectionPool},
		APIKeys:          &APIKeyModel{dbConnectionPool: dbConnectionPool},
		AccessTokens:     &AccessTokenModel{dbConnectionPool: dbConnectionPool},
		Transactions:     &TransactionModel{dbConnectionPool: dbConnectionPool},
		CallbackLogs:     &CallbackLogModel{dbConnectionPool: dbConnectionPool},
		APILogs:          &APILogModel{dbConnectionPool: dbConnectionPool},
		DBConnectionPool: dbConnectionPool,
	}, nil
}
