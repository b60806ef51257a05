package httphandler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
)

// testWorld is the common cast: a funded payer, a business with mmf/utility
// accounts and one project pointing at it.
type testWorld struct {
	DBConnectionPool db.DBConnectionPool
	Models           *data.Models
	Orchestrator     *callbacks.Orchestrator
	Emitter          *events.CaptureEmitter
	Notifier         *events.TransactionNotifier

	Payer    *data.User
	Business *data.Business
	Project  *data.Project
	Utility  *data.Account
}

func newTestWorld(t *testing.T, mode data.SimulationMode, stkDelayMs int64) *testWorld {
	t.Helper()
	ctx := context.Background()

	dbConnectionPool := dbtest.Open(t)
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	payer := data.CreateUserFixture(t, ctx, dbConnectionPool, "254700000001", "1234", 100_00)
	business := data.CreateBusinessFixture(t, ctx, dbConnectionPool, "Acme Ltd", "174379")
	project := data.CreateProjectFixture(t, ctx, dbConnectionPool, business.ID, mode, stkDelayMs)
	utility, err := models.Businesses.GetUtilityAccount(ctx, dbConnectionPool, business.ID)
	require.NoError(t, err)

	dispatcher := callbacks.NewDispatcher(2*time.Second, 1)
	emitter := &events.CaptureEmitter{}

	return &testWorld{
		DBConnectionPool: dbConnectionPool,
		Models:           models,
		Orchestrator:     &callbacks.Orchestrator{Models: models, Dispatcher: dispatcher},
		Emitter:          emitter,
		Notifier:         &events.TransactionNotifier{Emitter: emitter},
		Payer:            payer,
		Business:         business,
		Project:          project,
		Utility:          utility,
	}
}

func (w *testWorld) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	account, err := w.Models.Accounts.Get(context.Background(), w.DBConnectionPool, accountID)
	require.NoError(t, err)
	return account.Balance
}

// callbackSink is a mock merchant endpoint that funnels received bodies into
// a channel.
type callbackSink struct {
	Server *httptest.Server
	Bodies chan []byte
}

func newCallbackSink(t *testing.T, status int) *callbackSink {
	t.Helper()
	sink := &callbackSink{Bodies: make(chan []byte, 8)}
	sink.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		sink.Bodies <- body
		rw.WriteHeader(status)
	}))
	t.Cleanup(sink.Server.Close)
	return sink
}

func (s *callbackSink) wait(t *testing.T) []byte {
	t.Helper()
	select {
	case body := <-s.Bodies:
		return body
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a callback delivery")
		return nil
	}
}

func (s *callbackSink) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case body := <-s.Bodies:
		t.Fatalf("unexpected callback delivery: %s", body)
	case <-time.After(within):
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
