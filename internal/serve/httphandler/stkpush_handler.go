package httphandler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/validators"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/utils"
)

// DefaultStkSafetyWindow pads the realistic-mode wait past the configured
// prompt delay so a resolution arriving right at the deadline still lands.
const DefaultStkSafetyWindow = 5 * time.Second

type STKPushRequest struct {
	BusinessShortCode FlexString `json:"BusinessShortCode"`
	Password          string     `json:"Password"`
	Timestamp         FlexString `json:"Timestamp"`
	TransactionType   string     `json:"TransactionType"`
	Amount            FlexString `json:"Amount"`
	PartyA            FlexString `json:"PartyA"`
	PartyB            FlexString `json:"PartyB"`
	PhoneNumber       FlexString `json:"PhoneNumber"`
	CallBackURL       string     `json:"CallBackURL"`
	AccountReference  string     `json:"AccountReference"`
	TransactionDesc   string     `json:"TransactionDesc"`
}

type STKPushAck struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKCallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type STKCallbackMetadata struct {
	Item []STKCallbackItem `json:"Item"`
}

type STKCallback struct {
	MerchantRequestID string               `json:"MerchantRequestID"`
	CheckoutRequestID string               `json:"CheckoutRequestID"`
	ResultCode        int                  `json:"ResultCode"`
	ResultDesc        string               `json:"ResultDesc"`
	CallbackMetadata  *STKCallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type STKCallbackBody struct {
	StkCallback STKCallback `json:"stkCallback"`
}

// STKCallbackEnvelope is the exact wire shape merchants receive.
type STKCallbackEnvelope struct {
	Body STKCallbackBody `json:"Body"`
}

// STKJob carries everything the background execute step needs; it owns its
// lifetime and holds nothing request-scoped.
type STKJob struct {
	Project           data.Project
	Payer             data.User
	PayeeAccountID    int64
	AmountCents       int64
	AmountKES         int64
	Kind              data.TransactionType
	PhoneNumber       string
	MerchantRequestID string
	CheckoutRequestID string
	CallBackURL       string
	TransactionID     *string
}

// STKPushHandler implements the async pipeline for
// POST /mpesa/stkpush/v1/processrequest.
type STKPushHandler struct {
	Models       *data.Models
	Project      int64
	Registry     *stkpending.Registry
	Notifier     *events.TransactionNotifier
	SafetyWindow time.Duration
}

func (h STKPushHandler) APIName() string {
	return "stk_push"
}

func (h STKPushHandler) ProjectID() int64 {
	return h.Project
}

func (h STKPushHandler) CallbackType() data.CallbackType {
	return data.CallbackTypeStkPush
}

func (h STKPushHandler) CallbackURL(job STKJob) string {
	return job.CallBackURL
}

func (h STKPushHandler) OriginatorID(job STKJob) string {
	return job.CheckoutRequestID
}

func (h STKPushHandler) TransactionID(payload STKCallbackEnvelope) *string {
	for _, item := range payloadMetadataItems(payload) {
		if item.Name == "MpesaReceiptNumber" {
			if receipt, ok := item.Value.(string); ok {
				return &receipt
			}
		}
	}
	return nil
}

func payloadMetadataItems(payload STKCallbackEnvelope) []STKCallbackItem {
	if payload.Body.StkCallback.CallbackMetadata == nil {
		return nil
	}
	return payload.Body.StkCallback.CallbackMetadata.Item
}

func (h STKPushHandler) Init(ctx context.Context, req STKPushRequest, conversationID string) (STKPushAck, STKJob, *httperror.APIError) {
	var job STKJob

	phoneNumber := req.PhoneNumber.String()
	if phoneNumber == "" {
		phoneNumber = req.PartyA.String()
	}

	v := validators.NewDarajaValidator()
	v.ValidateMSISDN("PhoneNumber", phoneNumber)
	amountCents := v.ValidateAmount("Amount", req.Amount.String())
	v.ValidateURL("CallBackURL", req.CallBackURL)
	v.Check(req.TransactionType == "CustomerPayBillOnline" || req.TransactionType == "CustomerBuyGoodsOnline",
		"TransactionType", `must be "CustomerPayBillOnline" or "CustomerBuyGoodsOnline"`)
	if v.HasErrors() {
		return STKPushAck{}, job, httperror.BadRequest("", v.FirstError(), nil).
			WithInternal(fmt.Sprintf("stk push request rejected: %s", v.FirstError()))
	}

	project, err := h.Models.Projects.Get(ctx, h.Models.DBConnectionPool, h.Project)
	if err != nil {
		return STKPushAck{}, job, httperror.InternalError(ctx, err)
	}

	payer, err := h.Models.Users.GetByPhoneNumber(ctx, h.Models.DBConnectionPool, phoneNumber)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return STKPushAck{}, job, httperror.BadRequest("", "The subscriber is not registered", err).
				WithInternal(fmt.Sprintf("no user with phone number %s", phoneNumber))
		}
		return STKPushAck{}, job, httperror.InternalError(ctx, err)
	}

	business, err := h.Models.Businesses.GetByShortCode(ctx, h.Models.DBConnectionPool, req.BusinessShortCode.String())
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return STKPushAck{}, job, httperror.BadRequest("", "Invalid BusinessShortCode", err).
				WithInternal(fmt.Sprintf("no business with short code %s", req.BusinessShortCode))
		}
		return STKPushAck{}, job, httperror.InternalError(ctx, err)
	}

	if req.Password != "" {
		if apiErr := h.verifyPassword(ctx, req, business.ShortCode); apiErr != nil {
			return STKPushAck{}, job, apiErr
		}
	}

	utilityAccount, err := h.Models.Businesses.GetUtilityAccount(ctx, h.Models.DBConnectionPool, business.ID)
	if err != nil {
		return STKPushAck{}, job, httperror.InternalError(ctx, err)
	}

	kind := data.TransactionTypePayBill
	if req.TransactionType == "CustomerBuyGoodsOnline" {
		kind = data.TransactionTypeBuyGoods
	}

	suffix, err := data.GenerateAlphanumeric(6)
	if err != nil {
		return STKPushAck{}, job, httperror.InternalError(ctx, err)
	}

	job = STKJob{
		Project:           *project,
		Payer:             *payer,
		PayeeAccountID:    utilityAccount.ID,
		AmountCents:       amountCents,
		AmountKES:         amountCents / 100,
		Kind:              kind,
		PhoneNumber:       phoneNumber,
		MerchantRequestID: fmt.Sprintf("%d-%d-1", rand.Intn(90000)+10000, rand.Intn(90000000)+10000000),
		CheckoutRequestID: utils.CheckoutRequestID(time.Now(), suffix),
		CallBackURL:       req.CallBackURL,
	}

	return STKPushAck{
		MerchantRequestID:   job.MerchantRequestID,
		CheckoutRequestID:   job.CheckoutRequestID,
		ResponseCode:        "0",
		ResponseDescription: "Success.",
		CustomerMessage:     "Success.",
	}, job, nil
}

func (h STKPushHandler) verifyPassword(ctx context.Context, req STKPushRequest, shortCode string) *httperror.APIError {
	apiKey, err := h.Models.APIKeys.GetByProjectID(ctx, h.Models.DBConnectionPool, h.Project)
	if err != nil {
		return httperror.InternalError(ctx, err)
	}
	expected := base64.StdEncoding.EncodeToString([]byte(shortCode + apiKey.Passkey + req.Timestamp.String()))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Password)) != 1 {
		return httperror.InvalidAuthentication(nil).WithInternal("stk password does not match base64(shortcode+passkey+timestamp)")
	}
	return nil
}

// Execute holds the simulated prompt for the project's stk_delay, resolves
// an outcome for the configured simulation mode and, on success, commits the
// ledger transfer.
func (h STKPushHandler) Execute(ctx context.Context, job STKJob) (STKCallbackEnvelope, error) {
	resultCode := ResultSuccess

	switch job.Project.SimulationMode {
	case data.SimulationRealistic:
		response := h.Registry.Await(ctx, job.CheckoutRequestID, job.Project.StkDelay()+h.SafetyWindow)
		resultCode = h.mapUserResponse(job, response)
	default:
		// Keep the prompt discoverable while the delay elapses so hosts can
		// list and even resolve it; the resolution is simply ignored outside
		// realistic mode.
		h.Registry.Register(job.CheckoutRequestID)
		defer h.Registry.Remove(job.CheckoutRequestID)
		sleepCtx(ctx, job.Project.StkDelay())

		switch job.Project.SimulationMode {
		case data.SimulationAlwaysFail:
			resultCode = randomFailureCode()
		case data.SimulationRandom:
			resultCode = randomOutcomeCode()
		}
	}

	if resultCode != ResultSuccess {
		return h.callbackEnvelope(job, resultCode, nil), nil
	}

	txn, err := db.RunInTransactionWithResult(ctx, h.Models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*data.Transaction, error) {
		return h.Models.Transactions.Transfer(ctx, dbTx, data.TransferInput{
			FromAccountID: &job.Payer.AccountID,
			ToAccountID:   job.PayeeAccountID,
			Amount:        job.AmountCents,
			Kind:          job.Kind,
		})
	})
	if err != nil {
		if errors.Is(err, data.ErrInsufficientFunds) {
			return h.callbackEnvelope(job, ResultInsufficientBalance, nil), nil
		}
		return STKCallbackEnvelope{}, fmt.Errorf("committing stk transfer: %w", err)
	}

	h.Notifier.NotifyCommitted(h.Project, *txn)

	metadata := &STKCallbackMetadata{Item: []STKCallbackItem{
		{Name: "Amount", Value: job.AmountKES},
		{Name: "MpesaReceiptNumber", Value: txn.ID},
		{Name: "TransactionDate", Value: numericTimestamp(txn.CreatedAt)},
		{Name: "PhoneNumber", Value: numericMSISDN(job.PhoneNumber)},
	}}
	return h.callbackEnvelope(job, ResultSuccess, metadata), nil
}

func (h STKPushHandler) mapUserResponse(job STKJob, response stkpending.UserResponse) int {
	switch response.Kind {
	case stkpending.ResponseAccepted:
		if response.PIN != job.Payer.PIN {
			return ResultInvalidInitiator
		}
		return ResultSuccess
	case stkpending.ResponseCancelled:
		return ResultCancelledByUser
	case stkpending.ResponseFailed:
		return ResultPushRequestError
	default: // timeout, offline
		return ResultDSTimeout
	}
}

func (h STKPushHandler) FailurePayload(err error, job STKJob) STKCallbackEnvelope {
	return h.callbackEnvelope(job, ResultRequestFailed, nil)
}

func (h STKPushHandler) callbackEnvelope(job STKJob, resultCode int, metadata *STKCallbackMetadata) STKCallbackEnvelope {
	return STKCallbackEnvelope{Body: STKCallbackBody{StkCallback: STKCallback{
		MerchantRequestID: job.MerchantRequestID,
		CheckoutRequestID: job.CheckoutRequestID,
		ResultCode:        resultCode,
		ResultDesc:        resultDescription(resultCode),
		CallbackMetadata:  metadata,
	}}}
}

func numericTimestamp(t time.Time) int64 {
	n, err := strconv.ParseInt(utils.DarajaTimestamp(t), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func numericMSISDN(phoneNumber string) any {
	n, err := strconv.ParseInt(phoneNumber, 10, 64)
	if err != nil {
		return phoneNumber
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
