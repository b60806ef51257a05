// Package asyncop is the shared two-phase request pipeline: a synchronous
// acknowledgement, a detached background execution, and a signed-off callback
// delivery. STK Push and B2C are both instances of it.
package asyncop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
)

// Operation is the capability interface a two-phase API implements. Job is
// whatever state Init hands to the background Execute step; it must own its
// lifetime, nothing request-scoped crosses the boundary.
type Operation[Req any, Ack any, Job any, Payload any] interface {
	// APIName names the operation in logs.
	APIName() string
	// ProjectID scopes the operation's callbacks.
	ProjectID() int64
	// CallbackType tags the resulting CallbackLog row.
	CallbackType() data.CallbackType
	// Init validates the request and produces the synchronous ack plus the
	// background job. Errors are surfaced synchronously.
	Init(ctx context.Context, req Req, conversationID string) (Ack, Job, *httperror.APIError)
	// Execute runs in the background, detached from the inbound request.
	Execute(ctx context.Context, job Job) (Payload, error)
	// FailurePayload turns an Execute error into the callback payload.
	FailurePayload(err error, job Job) Payload
	// CallbackURL returns where to deliver the final payload; empty means no
	// callback is sent.
	CallbackURL(job Job) string
	// OriginatorID echoes the client-supplied correlation identifier.
	OriginatorID(job Job) string
	// TransactionID links the callback log to a ledger transaction, if one
	// was committed.
	TransactionID(payload Payload) *string
}

// Handler assembles the pipeline into an http.HandlerFunc. Bearer validation
// happens upstream in the auth middleware; by the time Init runs the request
// is authenticated. The ack is rendered before the job goroutine starts, so
// the callback can never race ahead of it.
func Handler[Req any, Ack any, Job any, Payload any](op Operation[Req, Ack, Job, Payload], orchestrator *callbacks.Orchestrator) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		ctx := req.Context()

		var request Req
		if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
			httperror.BadRequest("", "", err).WithInternal(fmt.Sprintf("decoding %s request: %s", op.APIName(), err)).Render(ctx, rw)
			return
		}

		conversationID := uuid.NewString()

		ack, job, apiErr := op.Init(ctx, request, conversationID)
		if apiErr != nil {
			apiErr.Render(ctx, rw)
			return
		}

		renderAck(rw, ack)

		// The job outlives the request: background context, panic fence.
		go runJob(op, orchestrator, conversationID, job)
	}
}

func renderAck(rw http.ResponseWriter, ack any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(rw).Encode(ack); err != nil {
		logrus.Errorf("encoding sync ack: %s", err)
	}
}

func runJob[Req any, Ack any, Job any, Payload any](op Operation[Req, Ack, Job, Payload], orchestrator *callbacks.Orchestrator, conversationID string, job Job) {
	ctx := context.Background()
	log := logrus.WithFields(logrus.Fields{
		"api":             op.APIName(),
		"project_id":      op.ProjectID(),
		"conversation_id": conversationID,
	})

	var payload Payload
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic in background job: %v", r)
				payload = op.FailurePayload(fmt.Errorf("panic in background job: %v", r), job)
			}
		}()
		executed, err := op.Execute(ctx, job)
		if err != nil {
			log.Infof("background execution resolved to failure: %s", err)
			payload = op.FailurePayload(err, job)
			return
		}
		payload = executed
	}()

	callbackURL := op.CallbackURL(job)
	if callbackURL == "" {
		log.Debug("no callback URL; dropping final payload")
		return
	}

	orchestrator.HandleCallback(ctx, callbacks.Params{
		ProjectID:      op.ProjectID(),
		ConversationID: conversationID,
		OriginatorID:   op.OriginatorID(job),
		TransactionID:  op.TransactionID(payload),
		URL:            callbackURL,
		Type:           op.CallbackType(),
	}, payload)
}
