package asyncop_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/asyncop"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
)

type fakeRequest struct {
	Value string `json:"Value"`
}

type fakeAck struct {
	ResponseCode string `json:"ResponseCode"`
}

type fakeJob struct {
	Value       string
	CallbackURL string
}

type fakePayload struct {
	Outcome string `json:"Outcome"`
}

// fakeOperation drives the pipeline with pluggable behavior per test.
type fakeOperation struct {
	projectID int64
	initErr   *httperror.APIError
	execute   func(job fakeJob) (fakePayload, error)
}

func (o fakeOperation) APIName() string                   { return "fake" }
func (o fakeOperation) ProjectID() int64                  { return o.projectID }
func (o fakeOperation) CallbackType() data.CallbackType   { return data.CallbackTypeStkPush }
func (o fakeOperation) CallbackURL(job fakeJob) string    { return job.CallbackURL }
func (o fakeOperation) OriginatorID(job fakeJob) string   { return "orig-" + job.Value }
func (o fakeOperation) TransactionID(fakePayload) *string { return nil }

func (o fakeOperation) Init(_ context.Context, req fakeRequest, _ string) (fakeAck, fakeJob, *httperror.APIError) {
	if o.initErr != nil {
		return fakeAck{}, fakeJob{}, o.initErr
	}
	return fakeAck{ResponseCode: "0"}, fakeJob{Value: req.Value}, nil
}

func (o fakeOperation) Execute(_ context.Context, job fakeJob) (fakePayload, error) {
	return o.execute(job)
}

func (o fakeOperation) FailurePayload(err error, _ fakeJob) fakePayload {
	return fakePayload{Outcome: "failed: " + err.Error()}
}

func setup(t *testing.T) (*callbacks.Orchestrator, *data.Models, int64) {
	t.Helper()
	ctx := context.Background()

	dbConnectionPool := dbtest.Open(t)
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	business := data.CreateBusinessFixture(t, ctx, dbConnectionPool, "Acme Ltd", "174379")
	project := data.CreateProjectFixture(t, ctx, dbConnectionPool, business.ID, data.SimulationAlwaysSuccess, 0)

	orchestrator := &callbacks.Orchestrator{
		Models:     models,
		Dispatcher: callbacks.NewDispatcher(2*time.Second, 1),
	}
	return orchestrator, models, project.ID
}

func post(t *testing.T, handler http.HandlerFunc, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/fake", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func Test_Handler_ackThenCallback(t *testing.T) {
	orchestrator, models, projectID := setup(t)

	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		received <- body
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	op := urlOperation{
		fakeOperation: fakeOperation{projectID: projectID, execute: func(job fakeJob) (fakePayload, error) {
			return fakePayload{Outcome: "done-" + job.Value}, nil
		}},
		url: server.URL,
	}
	rec := post(t, asyncop.Handler[fakeRequest, fakeAck, fakeJob, fakePayload](op, orchestrator), fakeRequest{Value: "v1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var ack fakeAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "0", ack.ResponseCode)

	select {
	case body := <-received:
		var payload fakePayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "done-v1", payload.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("callback never arrived")
	}

	require.Eventually(t, func() bool {
		logs, err := models.CallbackLogs.ListByProject(context.Background(), models.DBConnectionPool, projectID, 10)
		require.NoError(t, err)
		return len(logs) == 1 && logs[0].Status == data.CallbackStatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

// urlOperation decorates fakeOperation with a fixed callback URL.
type urlOperation struct {
	fakeOperation
	url string
}

func (o urlOperation) Init(ctx context.Context, req fakeRequest, conversationID string) (fakeAck, fakeJob, *httperror.APIError) {
	ack, job, apiErr := o.fakeOperation.Init(ctx, req, conversationID)
	job.CallbackURL = o.url
	return ack, job, apiErr
}

func Test_Handler_initErrorIsSynchronous(t *testing.T) {
	orchestrator, models, projectID := setup(t)

	op := fakeOperation{
		projectID: projectID,
		initErr:   httperror.BadRequest("", "nope", nil),
		execute: func(fakeJob) (fakePayload, error) {
			t.Error("Execute must not run when Init fails")
			return fakePayload{}, nil
		},
	}
	rec := post(t, asyncop.Handler[fakeRequest, fakeAck, fakeJob, fakePayload](op, orchestrator), fakeRequest{Value: "v1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	time.Sleep(100 * time.Millisecond)
	logs, err := models.CallbackLogs.ListByProject(context.Background(), models.DBConnectionPool, projectID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func Test_Handler_malformedBody(t *testing.T) {
	orchestrator, _, projectID := setup(t)

	op := fakeOperation{projectID: projectID, execute: func(fakeJob) (fakePayload, error) {
		return fakePayload{}, nil
	}}
	handler := asyncop.Handler[fakeRequest, fakeAck, fakeJob, fakePayload](op, orchestrator)

	req := httptest.NewRequest(http.MethodPost, "/fake", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Handler_executePanicBecomesFailurePayload(t *testing.T) {
	orchestrator, _, projectID := setup(t)

	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		received <- body
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	op := urlOperation{
		fakeOperation: fakeOperation{projectID: projectID, execute: func(fakeJob) (fakePayload, error) {
			panic("boom")
		}},
		url: server.URL,
	}
	rec := post(t, asyncop.Handler[fakeRequest, fakeAck, fakeJob, fakePayload](op, orchestrator), fakeRequest{Value: "v1"})
	require.Equal(t, http.StatusOK, rec.Code) // the ack is already out when the job dies

	select {
	case body := <-received:
		var payload fakePayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Contains(t, payload.Outcome, "failed")
	case <-time.After(5 * time.Second):
		t.Fatal("failure callback never arrived")
	}
}
