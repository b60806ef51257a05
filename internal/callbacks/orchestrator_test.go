package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
)

func setupOrchestrator(t *testing.T) (*Orchestrator, *data.Models, int64) {
	t.Helper()

	dbConnectionPool := dbtest.Open(t)
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	ctx := context.Background()
	business := data.CreateBusinessFixture(t, ctx, dbConnectionPool, "Acme Ltd", "174379")
	project := data.CreateProjectFixture(t, ctx, dbConnectionPool, business.ID, data.SimulationAlwaysSuccess, 0)

	dispatcher := NewDispatcher(500*time.Millisecond, 3)
	dispatcher.baseBackoff = time.Millisecond

	return &Orchestrator{Models: models, Dispatcher: dispatcher}, models, project.ID
}

func Test_Orchestrator_HandleCallback_delivered(t *testing.T) {
	orchestrator, models, projectID := setupOrchestrator(t)
	ctx := context.Background()

	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		received.Store(body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	orchestrator.HandleCallback(ctx, Params{
		ProjectID:      projectID,
		ConversationID: "conv-1",
		OriginatorID:   "orig-1",
		URL:            server.URL,
		Type:           data.CallbackTypeStkPush,
	}, map[string]string{"hello": "world"})

	logs, err := models.CallbackLogs.ListByProject(ctx, models.DBConnectionPool, projectID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, data.CallbackStatusDelivered, logs[0].Status)
	require.NotNil(t, logs[0].ResponseStatus)
	assert.Equal(t, http.StatusOK, *logs[0].ResponseStatus)

	body, ok := received.Load().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "world", body["hello"])
}

func Test_Orchestrator_HandleCallback_retryExhaustion(t *testing.T) {
	orchestrator, models, projectID := setupOrchestrator(t)
	ctx := context.Background()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	orchestrator.HandleCallback(ctx, Params{
		ProjectID:      projectID,
		ConversationID: "conv-2",
		OriginatorID:   "orig-2",
		URL:            server.URL,
		Type:           data.CallbackTypeB2CResult,
	}, map[string]string{"hello": "world"})

	assert.EqualValues(t, 3, hits.Load())

	logs, err := models.CallbackLogs.ListByProject(ctx, models.DBConnectionPool, projectID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, data.CallbackStatusFailed, logs[0].Status)
	assert.Nil(t, logs[0].ResponseStatus)
	require.NotNil(t, logs[0].Error)
	assert.NotEmpty(t, *logs[0].Error)
}

func Test_Orchestrator_DispatchAndWait_singleAttempt(t *testing.T) {
	orchestrator, models, projectID := setupOrchestrator(t)
	ctx := context.Background()

	t.Run("returns the merchant verdict", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte(`{"ResultCode":"C2B00012"}`))
		}))
		defer server.Close()

		response, err := orchestrator.DispatchAndWait(ctx, Params{
			ProjectID:      projectID,
			ConversationID: "conv-3",
			OriginatorID:   "orig-3",
			URL:            server.URL,
			Type:           data.CallbackTypeC2BValidation,
		}, map[string]string{"TransID": "AAA111BBB2"})
		require.NoError(t, err)
		assert.Contains(t, response.Body, "C2B00012")
	})

	t.Run("does not retry a failing endpoint", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			rw.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := orchestrator.DispatchAndWait(ctx, Params{
			ProjectID:      projectID,
			ConversationID: "conv-4",
			OriginatorID:   "orig-4",
			URL:            server.URL,
			Type:           data.CallbackTypeC2BValidation,
		}, nil)
		require.Error(t, err)
		assert.EqualValues(t, 1, hits.Load())
	})

	logs, err := models.CallbackLogs.ListByProject(ctx, models.DBConnectionPool, projectID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
