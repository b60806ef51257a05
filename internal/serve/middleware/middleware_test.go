package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/db/dbtest"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/middleware"
)

func setupProject(t *testing.T) (db.DBConnectionPool, *data.Models, *data.Project) {
	t.Helper()
	ctx := context.Background()

	dbConnectionPool := dbtest.Open(t)
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	business := data.CreateBusinessFixture(t, ctx, dbConnectionPool, "Acme Ltd", "174379")
	project := data.CreateProjectFixture(t, ctx, dbConnectionPool, business.ID, data.SimulationAlwaysSuccess, 0)
	return dbConnectionPool, models, project
}

func Test_BearerAuthMiddleware(t *testing.T) {
	dbConnectionPool, models, project := setupProject(t)
	ctx := context.Background()

	token, err := models.AccessTokens.Insert(ctx, dbConnectionPool, project.ID)
	require.NoError(t, err)

	handler := middleware.BearerAuthMiddleware(models, project.ID, middleware.NewTokenCache())(
		http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			rw.WriteHeader(http.StatusNoContent)
		}))

	call := func(t *testing.T, authHeader string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/mpesa/stkpush/v1/processrequest", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid bearer passes, twice via the cache", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, call(t, "Bearer "+token.Token).Code)
		assert.Equal(t, http.StatusNoContent, call(t, "Bearer "+token.Token).Code)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, call(t, "").Code)
	})

	t.Run("not a bearer scheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, call(t, "Basic abc").Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, call(t, "Bearer AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHH").Code)
	})

	t.Run("token from another project is refused", func(t *testing.T) {
		otherProject := data.CreateProjectFixture(t, ctx, dbConnectionPool, project.BusinessID, data.SimulationAlwaysSuccess, 0)
		otherToken, insertErr := models.AccessTokens.Insert(ctx, dbConnectionPool, otherProject.ID)
		require.NoError(t, insertErr)

		assert.Equal(t, http.StatusUnauthorized, call(t, "Bearer "+otherToken.Token).Code)
	})
}

func Test_RequestLogMiddleware(t *testing.T) {
	dbConnectionPool, models, project := setupProject(t)
	ctx := context.Background()

	emitter := &events.CaptureEmitter{}

	mux := chi.NewMux()
	mux.Use(middleware.RequestLogMiddleware(models, project.ID, emitter, nil))
	mux.Post("/mpesa/c2b/v1/simulate", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte(`{"ResponseCode":"0"}`))
	})
	mux.Post("/boom", func(rw http.ResponseWriter, req *http.Request) {
		httperror.BadRequest("", "no good", nil).WithInternal("field X missing").Render(req.Context(), rw)
	})
	mux.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	t.Run("persists one row per served request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mpesa/c2b/v1/simulate", strings.NewReader(`{"Amount":"10"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		logs, err := models.APILogs.List(ctx, dbConnectionPool, project.ID, "", 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, http.MethodPost, logs[0].Method)
		assert.Equal(t, "/mpesa/c2b/v1/simulate", logs[0].Path)
		assert.Equal(t, http.StatusOK, logs[0].StatusCode)
		assert.Contains(t, logs[0].RequestBody, `"Amount"`)
		assert.Contains(t, logs[0].ResponseBody, `"ResponseCode"`)
		assert.Nil(t, logs[0].ErrorDesc)

		assert.Len(t, emitter.ByName(events.NewAPILogEvent), 1)
	})

	t.Run("captures the internal error description", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/boom", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		logs, err := models.APILogs.List(ctx, dbConnectionPool, project.ID, "", 10)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		require.NotNil(t, logs[0].ErrorDesc)
		assert.Equal(t, "field X missing", *logs[0].ErrorDesc)
	})

	t.Run("health checks are not logged", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		count, err := models.APILogs.Count(ctx, dbConnectionPool, project.ID, "")
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("method filter uses the method column", func(t *testing.T) {
		count, err := models.APILogs.Count(ctx, dbConnectionPool, project.ID, http.MethodPost)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)

		count, err = models.APILogs.Count(ctx, dbConnectionPool, project.ID, http.MethodGet)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func Test_RecoverHandler(t *testing.T) {
	handler := middleware.RecoverHandler(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		panic(fmt.Errorf("something broke"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}
