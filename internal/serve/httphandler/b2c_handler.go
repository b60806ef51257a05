package httphandler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/validators"
)

type B2CRequest struct {
	OriginatorConversationID string     `json:"OriginatorConversationID"`
	InitiatorName            string     `json:"InitiatorName"`
	SecurityCredential       string     `json:"SecurityCredential"`
	CommandID                string     `json:"CommandID"`
	Amount                   FlexString `json:"Amount"`
	PartyA                   FlexString `json:"PartyA"`
	PartyB                   FlexString `json:"PartyB"`
	Remarks                  string     `json:"Remarks"`
	QueueTimeOutURL          string     `json:"QueueTimeOutURL"`
	ResultURL                string     `json:"ResultURL"`
	Occasion                 string     `json:"Occasion"`
}

type B2CAck struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type B2CResultParameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

type B2CResultParameters struct {
	ResultParameter []B2CResultParameter `json:"ResultParameter"`
}

type B2CReferenceItem struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

type B2CReferenceData struct {
	ReferenceItem B2CReferenceItem `json:"ReferenceItem"`
}

type B2CResult struct {
	ResultType               int                  `json:"ResultType"`
	ResultCode               int                  `json:"ResultCode"`
	ResultDesc               string               `json:"ResultDesc"`
	OriginatorConversationID string               `json:"OriginatorConversationID"`
	ConversationID           string               `json:"ConversationID"`
	TransactionID            string               `json:"TransactionID"`
	ResultParameters         *B2CResultParameters `json:"ResultParameters,omitempty"`
	ReferenceData            *B2CReferenceData    `json:"ReferenceData,omitempty"`
}

// B2CResultEnvelope mirrors the Daraja B2C Result wire shape.
type B2CResultEnvelope struct {
	Result B2CResult `json:"Result"`
}

type B2CJob struct {
	Project          data.Project
	Payee            data.User
	UtilityAccountID int64
	MmfAccountID     int64
	AmountCents      int64
	AmountKES        int64
	DarajaConvID     string
	OriginatorID     string
	ResultURL        string
	QueueTimeOutURL  string
}

// B2CHandler implements the async pipeline for
// POST /mpesa/b2c/v1/paymentrequest. The debit source is the project
// business's utility account.
type B2CHandler struct {
	Models   *data.Models
	Project  int64
	Notifier *events.TransactionNotifier
}

func (h B2CHandler) APIName() string                 { return "b2c" }
func (h B2CHandler) ProjectID() int64                { return h.Project }
func (h B2CHandler) CallbackType() data.CallbackType { return data.CallbackTypeB2CResult }
func (h B2CHandler) CallbackURL(job B2CJob) string   { return job.ResultURL }
func (h B2CHandler) OriginatorID(job B2CJob) string  { return job.OriginatorID }

func (h B2CHandler) TransactionID(payload B2CResultEnvelope) *string {
	if payload.Result.TransactionID == "" {
		return nil
	}
	receipt := payload.Result.TransactionID
	return &receipt
}

func (h B2CHandler) Init(ctx context.Context, req B2CRequest, conversationID string) (B2CAck, B2CJob, *httperror.APIError) {
	var job B2CJob

	v := validators.NewDarajaValidator()
	v.ValidateMSISDN("PartyB", req.PartyB.String())
	amountCents := v.ValidateAmount("Amount", req.Amount.String())
	v.ValidateURL("ResultURL", req.ResultURL)
	v.Check(req.CommandID == "SalaryPayment" || req.CommandID == "BusinessPayment" || req.CommandID == "PromotionPayment",
		"CommandID", `must be "SalaryPayment", "BusinessPayment" or "PromotionPayment"`)
	if v.HasErrors() {
		return B2CAck{}, job, httperror.BadRequest("", v.FirstError(), nil).
			WithInternal(fmt.Sprintf("b2c request rejected: %s", v.FirstError()))
	}

	project, err := h.Models.Projects.Get(ctx, h.Models.DBConnectionPool, h.Project)
	if err != nil {
		return B2CAck{}, job, httperror.InternalError(ctx, err)
	}

	payee, err := h.Models.Users.GetByPhoneNumber(ctx, h.Models.DBConnectionPool, req.PartyB.String())
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return B2CAck{}, job, httperror.BadRequest("", "The subscriber is not registered", err).
				WithInternal(fmt.Sprintf("no user with phone number %s", req.PartyB))
		}
		return B2CAck{}, job, httperror.InternalError(ctx, err)
	}

	utilityAccount, err := h.Models.Businesses.GetUtilityAccount(ctx, h.Models.DBConnectionPool, project.BusinessID)
	if err != nil {
		return B2CAck{}, job, httperror.InternalError(ctx, err)
	}
	mmfAccount, err := h.Models.Businesses.GetMmfAccount(ctx, h.Models.DBConnectionPool, project.BusinessID)
	if err != nil {
		return B2CAck{}, job, httperror.InternalError(ctx, err)
	}

	originatorID := req.OriginatorConversationID
	if originatorID == "" {
		originatorID = uuid.NewString()
	}

	job = B2CJob{
		Project:          *project,
		Payee:            *payee,
		UtilityAccountID: utilityAccount.ID,
		MmfAccountID:     mmfAccount.ID,
		AmountCents:      amountCents,
		AmountKES:        amountCents / 100,
		DarajaConvID:     darajaConversationID(),
		OriginatorID:     originatorID,
		ResultURL:        req.ResultURL,
		QueueTimeOutURL:  req.QueueTimeOutURL,
	}

	return B2CAck{
		ConversationID:           job.DarajaConvID,
		OriginatorConversationID: originatorID,
		ResponseCode:             "0",
		ResponseDescription:      "Accept the service request successfully.",
	}, job, nil
}

func (h B2CHandler) Execute(ctx context.Context, job B2CJob) (B2CResultEnvelope, error) {
	switch job.Project.SimulationMode {
	case data.SimulationAlwaysFail:
		return h.resultEnvelope(job, randomFailureCode(), "", nil), nil
	case data.SimulationRandom:
		if code := randomOutcomeCode(); code != ResultSuccess {
			return h.resultEnvelope(job, code, "", nil), nil
		}
	}

	txn, err := db.RunInTransactionWithResult(ctx, h.Models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*data.Transaction, error) {
		return h.Models.Transactions.Transfer(ctx, dbTx, data.TransferInput{
			FromAccountID: &job.UtilityAccountID,
			ToAccountID:   job.Payee.AccountID,
			Amount:        job.AmountCents,
			Kind:          data.TransactionTypeB2CPayment,
		})
	})
	if err != nil {
		if errors.Is(err, data.ErrInsufficientFunds) {
			return h.resultEnvelope(job, ResultInsufficientBalance, "", nil), nil
		}
		return B2CResultEnvelope{}, fmt.Errorf("committing b2c transfer: %w", err)
	}

	h.Notifier.NotifyCommitted(h.Project, *txn)

	utilityBalance, mmfBalance := h.postTransferBalances(ctx, job)

	parameters := &B2CResultParameters{ResultParameter: []B2CResultParameter{
		{Key: "TransactionAmount", Value: job.AmountKES},
		{Key: "TransactionReceipt", Value: txn.ID},
		{Key: "B2CRecipientIsRegisteredCustomer", Value: "Y"},
		{Key: "B2CChargesPaidAccountAvailableFunds", Value: 0.0},
		{Key: "TransactionCompletedDateTime", Value: txn.CreatedAt.Format("02.01.2006 15:04:05")},
		{Key: "ReceiverPartyPublicName", Value: fmt.Sprintf("%s - %s", job.Payee.PhoneNumber, job.Payee.FullName)},
		{Key: "B2CWorkingAccountAvailableFunds", Value: centsToKES(mmfBalance)},
		{Key: "B2CUtilityAccountAvailableFunds", Value: centsToKES(utilityBalance)},
	}}

	return h.resultEnvelope(job, ResultSuccess, txn.ID, parameters), nil
}

// postTransferBalances re-reads the business balances for the result
// parameters; failures degrade to zero rather than failing the callback.
func (h B2CHandler) postTransferBalances(ctx context.Context, job B2CJob) (utility, mmf int64) {
	if account, err := h.Models.Accounts.Get(ctx, h.Models.DBConnectionPool, job.UtilityAccountID); err == nil {
		utility = account.Balance
	}
	if account, err := h.Models.Accounts.Get(ctx, h.Models.DBConnectionPool, job.MmfAccountID); err == nil {
		mmf = account.Balance
	}
	return utility, mmf
}

func (h B2CHandler) FailurePayload(err error, job B2CJob) B2CResultEnvelope {
	return h.resultEnvelope(job, ResultRequestFailed, "", nil)
}

func (h B2CHandler) resultEnvelope(job B2CJob, resultCode int, transactionID string, parameters *B2CResultParameters) B2CResultEnvelope {
	result := B2CResult{
		ResultType:               0,
		ResultCode:               resultCode,
		ResultDesc:               resultDescription(resultCode),
		OriginatorConversationID: job.OriginatorID,
		ConversationID:           job.DarajaConvID,
		TransactionID:            transactionID,
		ResultParameters:         parameters,
	}
	if job.QueueTimeOutURL != "" {
		result.ReferenceData = &B2CReferenceData{ReferenceItem: B2CReferenceItem{
			Key:   "QueueTimeoutURL",
			Value: job.QueueTimeOutURL,
		}}
	}
	return B2CResultEnvelope{Result: result}
}

func centsToKES(cents int64) float64 {
	return float64(cents) / 100
}

// darajaConversationID mints the AG_-prefixed id shape Daraja uses.
func darajaConversationID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("AG_%s_%s", time.Now().Format("20060102"), raw[:20])
}
