package callbacks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
)

// Params identifies one callback delivery.
type Params struct {
	ProjectID      int64
	ConversationID string
	OriginatorID   string
	TransactionID  *string
	URL            string
	Type           data.CallbackType
}

// Orchestrator persists a pending CallbackLog, invokes the dispatcher and
// records the single terminal outcome. It is fire-and-forget: every failure
// is logged and swallowed so the spawning job never sees it.
type Orchestrator struct {
	Models     *data.Models
	Dispatcher *Dispatcher
	Monitor    *monitor.Service
}

func (o *Orchestrator) HandleCallback(ctx context.Context, params Params, payload any) {
	log := logrus.WithFields(logrus.Fields{
		"project_id":      params.ProjectID,
		"conversation_id": params.ConversationID,
		"callback_type":   params.Type,
	})

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshalling callback payload: %s", err)
		return
	}

	callbackLog, err := o.Models.CallbackLogs.Insert(ctx, o.Models.DBConnectionPool, data.CallbackLogInsert{
		ProjectID:      params.ProjectID,
		ConversationID: params.ConversationID,
		OriginatorID:   params.OriginatorID,
		TransactionID:  params.TransactionID,
		URL:            params.URL,
		CallbackType:   params.Type,
		Payload:        string(payloadJSON),
	})
	if err != nil {
		log.Errorf("inserting pending callback log: %s", err)
		return
	}

	response, dispatchErr := o.Dispatcher.Dispatch(ctx, params.URL, payload)
	if dispatchErr != nil {
		o.Monitor.ObserveCallback(string(params.Type), false)
		if markErr := o.Models.CallbackLogs.MarkFailed(ctx, o.Models.DBConnectionPool, callbackLog.ID, dispatchErr.Error()); markErr != nil {
			log.Errorf("marking callback log %d failed: %s", callbackLog.ID, markErr)
		}
		log.Warnf("callback delivery to %s failed: %s", params.URL, dispatchErr)
		return
	}

	o.Monitor.ObserveCallback(string(params.Type), true)
	headersJSON, err := json.Marshal(response.Headers)
	if err != nil {
		headersJSON = []byte("{}")
	}
	err = o.Models.CallbackLogs.MarkDelivered(ctx, o.Models.DBConnectionPool, callbackLog.ID, response.StatusCode, response.Body, string(headersJSON))
	if err != nil {
		log.Errorf("marking callback log %d delivered: %s", callbackLog.ID, err)
		return
	}
	log.Infof("callback delivered to %s with status %d", params.URL, response.StatusCode)
}

// DispatchAndWait delivers a callback synchronously and returns the
// merchant's response. Used by the C2B validation leg, where the merchant's
// answer decides whether the transfer goes ahead.
func (o *Orchestrator) DispatchAndWait(ctx context.Context, params Params, payload any) (*DispatchResponse, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling callback payload: %w", err)
	}

	callbackLog, err := o.Models.CallbackLogs.Insert(ctx, o.Models.DBConnectionPool, data.CallbackLogInsert{
		ProjectID:      params.ProjectID,
		ConversationID: params.ConversationID,
		OriginatorID:   params.OriginatorID,
		TransactionID:  params.TransactionID,
		URL:            params.URL,
		CallbackType:   params.Type,
		Payload:        string(payloadJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("inserting pending callback log: %w", err)
	}

	// The caller is blocking on the merchant's answer; one attempt within the
	// per-attempt timeout, no backoff.
	oneShot := *o.Dispatcher
	oneShot.MaxAttempts = 1
	response, dispatchErr := oneShot.Dispatch(ctx, params.URL, payload)
	if dispatchErr != nil {
		o.Monitor.ObserveCallback(string(params.Type), false)
		if markErr := o.Models.CallbackLogs.MarkFailed(ctx, o.Models.DBConnectionPool, callbackLog.ID, dispatchErr.Error()); markErr != nil {
			logrus.Errorf("marking callback log %d failed: %s", callbackLog.ID, markErr)
		}
		return nil, dispatchErr
	}

	o.Monitor.ObserveCallback(string(params.Type), true)
	headersJSON, err := json.Marshal(response.Headers)
	if err != nil {
		headersJSON = []byte("{}")
	}
	if markErr := o.Models.CallbackLogs.MarkDelivered(ctx, o.Models.DBConnectionPool, callbackLog.ID, response.StatusCode, response.Body, string(headersJSON)); markErr != nil {
		logrus.Errorf("marking callback log %d delivered: %s", callbackLog.ID, markErr)
	}
	return response, nil
}
