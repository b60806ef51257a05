package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/validators"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/utils"
)

type C2BRegisterRequest struct {
	ShortCode       FlexString `json:"ShortCode"`
	ResponseType    string     `json:"ResponseType"`
	ConfirmationURL string     `json:"ConfirmationURL"`
	ValidationURL   string     `json:"ValidationURL"`
}

// C2BRegisterResponse carries the OriginatorCoversationID misspelling the
// live API ships with; clients match on the misspelled key.
type C2BRegisterResponse struct {
	OriginatorCoversationID string `json:"OriginatorCoversationID"`
	ResponseCode            string `json:"ResponseCode"`
	ResponseDescription     string `json:"ResponseDescription"`
}

type C2BSimulateRequest struct {
	ShortCode     FlexString `json:"ShortCode"`
	CommandID     string     `json:"CommandID"`
	Amount        FlexString `json:"Amount"`
	Msisdn        FlexString `json:"Msisdn"`
	BillRefNumber string     `json:"BillRefNumber"`
}

// C2BKickback is the payload POSTed to the merchant's validation and
// confirmation URLs.
type C2BKickback struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	OrgAccountBalance string `json:"OrgAccountBalance"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName"`
	LastName          string `json:"LastName"`
}

// C2BHandler serves the synchronous C2B endpoints and drives the
// validation-then-confirmation merchant flow.
type C2BHandler struct {
	Models       *data.Models
	ProjectID    int64
	Orchestrator *callbacks.Orchestrator
	Notifier     *events.TransactionNotifier
}

// RegisterURL serves POST /mpesa/c2b/v1/registerurl. Registration is
// one-shot per short code: a second call fails once both URLs are set.
func (h C2BHandler) RegisterURL(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var request C2BRegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		httperror.BadRequest("", "", err).WithInternal(fmt.Sprintf("decoding registerurl request: %s", err)).Render(ctx, rw)
		return
	}

	v := validators.NewDarajaValidator()
	v.ValidateResponseType("ResponseType", request.ResponseType)
	v.ValidateURL("ConfirmationURL", request.ConfirmationURL)
	v.ValidateURL("ValidationURL", request.ValidationURL)
	if v.HasErrors() {
		httperror.BadRequest("", v.FirstError(), nil).
			WithInternal(fmt.Sprintf("registerurl request rejected: %s", v.FirstError())).
			Render(ctx, rw)
		return
	}

	project, err := h.Models.Projects.Get(ctx, h.Models.DBConnectionPool, h.ProjectID)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	merchant, err := h.Models.MerchantAccounts.GetByNumber(ctx, h.Models.DBConnectionPool, project.BusinessID, request.ShortCode.String())
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Short code not found", err).
				WithInternal(fmt.Sprintf("no paybill or till %s for business %d", request.ShortCode, project.BusinessID)).
				Render(ctx, rw)
			return
		}
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	if merchant.HasRegisteredURLs() {
		httperror.URLsAlreadyRegistered(nil).
			WithInternal(fmt.Sprintf("%s %s already has validation and confirmation URLs", merchant.Kind, merchant.Number)).
			Render(ctx, rw)
		return
	}

	err = h.Models.MerchantAccounts.RegisterURLs(ctx, h.Models.DBConnectionPool, merchant, request.ValidationURL, request.ConfirmationURL, request.ResponseType)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	httpjson.Render(rw, C2BRegisterResponse{
		OriginatorCoversationID: uuid.NewString(),
		ResponseCode:            "000000",
		ResponseDescription:     "Success",
	})
}

// Simulate serves POST /mpesa/c2b/v1/simulate. The caller gets a synchronous
// ack; validation and confirmation run against the registered URLs in the
// background.
func (h C2BHandler) Simulate(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var request C2BSimulateRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		httperror.BadRequest("", "", err).WithInternal(fmt.Sprintf("decoding c2b simulate request: %s", err)).Render(ctx, rw)
		return
	}

	v := validators.NewDarajaValidator()
	v.ValidateMSISDN("Msisdn", request.Msisdn.String())
	amountCents := v.ValidateAmount("Amount", request.Amount.String())
	v.Check(request.CommandID == "CustomerPayBillOnline" || request.CommandID == "CustomerBuyGoodsOnline",
		"CommandID", `must be "CustomerPayBillOnline" or "CustomerBuyGoodsOnline"`)
	if v.HasErrors() {
		httperror.BadRequest("", v.FirstError(), nil).
			WithInternal(fmt.Sprintf("c2b simulate request rejected: %s", v.FirstError())).
			Render(ctx, rw)
		return
	}

	project, err := h.Models.Projects.Get(ctx, h.Models.DBConnectionPool, h.ProjectID)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	payer, err := h.Models.Users.GetByPhoneNumber(ctx, h.Models.DBConnectionPool, request.Msisdn.String())
	if err != nil {
		httperror.BadRequest("", "The subscriber is not registered", err).
			WithInternal(fmt.Sprintf("no user with phone number %s", request.Msisdn)).
			Render(ctx, rw)
		return
	}

	merchant, err := h.Models.MerchantAccounts.GetByNumber(ctx, h.Models.DBConnectionPool, project.BusinessID, request.ShortCode.String())
	if err != nil {
		httperror.NotFound("Short code not found", err).
			WithInternal(fmt.Sprintf("no paybill or till %s for business %d", request.ShortCode, project.BusinessID)).
			Render(ctx, rw)
		return
	}

	kind := data.TransactionTypePayBill
	if request.CommandID == "CustomerBuyGoodsOnline" {
		kind = data.TransactionTypeBuyGoods
	}

	transID, err := data.GenerateReceiptNumber()
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	flow := c2bFlow{
		handler:        h,
		conversationID: uuid.NewString(),
		payer:          *payer,
		merchant:       *merchant,
		amountCents:    amountCents,
		kind:           kind,
		transID:        transID,
		billRefNumber:  request.BillRefNumber,
	}
	go flow.run(context.Background())

	httpjson.Render(rw, C2BRegisterResponse{
		OriginatorCoversationID: flow.conversationID,
		ResponseCode:            "0",
		ResponseDescription:     "Accept the service request successfully.",
	})
}

// c2bFlow owns one simulated C2B payment end to end.
type c2bFlow struct {
	handler        C2BHandler
	conversationID string
	payer          data.User
	merchant       data.MerchantAccount
	amountCents    int64
	kind           data.TransactionType
	transID        string
	billRefNumber  string
}

func (f *c2bFlow) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("panic in c2b flow %s: %v", f.conversationID, r)
		}
	}()

	log := logrus.WithFields(logrus.Fields{
		"project_id":      f.handler.ProjectID,
		"conversation_id": f.conversationID,
	})

	if f.merchant.ValidationURL != nil && *f.merchant.ValidationURL != "" {
		accepted := f.validate(ctx, log)
		if !accepted {
			log.Info("c2b payment rejected by merchant validation; no ledger write")
			return
		}
	}

	txn, err := db.RunInTransactionWithResult(ctx, f.handler.Models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*data.Transaction, error) {
		return f.handler.Models.Transactions.Transfer(ctx, dbTx, data.TransferInput{
			FromAccountID: &f.payer.AccountID,
			ToAccountID:   f.merchant.AccountID,
			Amount:        f.amountCents,
			Kind:          f.kind,
			ID:            f.transID,
		})
	})
	if err != nil {
		log.Warnf("c2b transfer aborted: %s", err)
		return
	}
	f.handler.Notifier.NotifyCommitted(f.handler.ProjectID, *txn)

	if f.merchant.ConfirmationURL == nil || *f.merchant.ConfirmationURL == "" {
		return
	}

	merchantBalance, err := f.handler.Models.Accounts.Get(ctx, f.handler.Models.DBConnectionPool, f.merchant.AccountID)
	orgBalance := ""
	if err == nil {
		orgBalance = fmt.Sprintf("%.2f", centsToKES(merchantBalance.Balance))
	}

	f.handler.Orchestrator.HandleCallback(ctx, callbacks.Params{
		ProjectID:      f.handler.ProjectID,
		ConversationID: f.conversationID,
		OriginatorID:   f.conversationID,
		TransactionID:  &txn.ID,
		URL:            *f.merchant.ConfirmationURL,
		Type:           data.CallbackTypeC2BConfirmation,
	}, f.kickback(txn.CreatedAt.Format("20060102150405"), orgBalance))
}

// validate POSTs the validation payload and waits for the merchant's verdict.
// Only an explicit ResultCode "0" lets the payment through; a timeout,
// transport failure or any other code aborts it.
func (f *c2bFlow) validate(ctx context.Context, log *logrus.Entry) bool {
	response, err := f.handler.Orchestrator.DispatchAndWait(ctx, callbacks.Params{
		ProjectID:      f.handler.ProjectID,
		ConversationID: f.conversationID,
		OriginatorID:   f.conversationID,
		URL:            *f.merchant.ValidationURL,
		Type:           data.CallbackTypeC2BValidation,
	}, f.kickback(utils.DarajaTimestamp(time.Now()), ""))
	if err != nil {
		log.Warnf("c2b validation unreachable, aborting: %s", err)
		return false
	}

	var verdict struct {
		ResultCode FlexString `json:"ResultCode"`
	}
	if err := json.Unmarshal([]byte(response.Body), &verdict); err != nil {
		log.Warnf("c2b validation response is not JSON: %s", err)
		return false
	}
	return verdict.ResultCode.String() == "0"
}

func (f *c2bFlow) kickback(transTime, orgBalance string) C2BKickback {
	return C2BKickback{
		TransactionType:   f.kind.DarajaFormat(),
		TransID:           f.transID,
		TransTime:         transTime,
		TransAmount:       fmt.Sprintf("%d", f.amountCents/100),
		BusinessShortCode: f.merchant.Number,
		BillRefNumber:     f.billRefNumber,
		OrgAccountBalance: orgBalance,
		MSISDN:            f.payer.PhoneNumber,
		FirstName:         f.payer.FullName,
	}
}
