package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/utils"
)

type ContextKey string

const AccessTokenContextKey ContextKey = "access_token"

// RecoverHandler is a middleware that recovers from panics and logs the error.
func RecoverHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}

			// No need to recover when the client has disconnected:
			if errors.Is(err, http.ErrAbortHandler) {
				panic(err)
			}

			ctx := req.Context()
			logrus.WithContext(ctx).Errorf("panic while serving request: %+v", err)
			httperror.InternalError(ctx, err).Render(ctx, rw)
		}()

		next.ServeHTTP(rw, req)
	})
}

const tokenCacheSize = 1024

// NewTokenCache builds the LRU used to skip repeat access-token lookups.
func NewTokenCache() *lru.Cache[string, data.AccessToken] {
	cache, err := lru.New[string, data.AccessToken](tokenCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return cache
}

// BearerAuthMiddleware validates the Authorization bearer token against this
// sandbox's project before the handler runs.
func BearerAuthMiddleware(models *data.Models, projectID int64, cache *lru.Cache[string, data.AccessToken]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			ctx := req.Context()

			authHeader := req.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				httperror.InvalidAccessToken(nil).WithInternal("missing or malformed Authorization header").Render(ctx, rw)
				return
			}
			token := parts[1]

			if cached, ok := cache.Get(token); ok && cached.ProjectID == projectID {
				if time.Now().UTC().Before(cached.ExpiresAt) {
					ctx = context.WithValue(ctx, AccessTokenContextKey, cached)
					next.ServeHTTP(rw, req.WithContext(ctx))
					return
				}
				cache.Remove(token)
			}

			accessToken, err := models.AccessTokens.Validate(ctx, models.DBConnectionPool, token, projectID)
			if err != nil {
				httperror.InvalidAccessToken(err).WithInternal(fmt.Sprintf("bearer token rejected: %s", err)).Render(ctx, rw)
				return
			}

			cache.Add(token, *accessToken)
			ctx = context.WithValue(ctx, AccessTokenContextKey, *accessToken)
			next.ServeHTTP(rw, req.WithContext(ctx))
		})
	}
}

// RequestLogMiddleware persists an APILog row for every inbound call and
// emits new-api-log. The root path is exempt.
func RequestLogMiddleware(models *data.Models, projectID int64, emitter events.Emitter, monitorService *monitor.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/" || req.URL.Path == "/health" {
				next.ServeHTTP(rw, req)
				return
			}

			requestBody, err := io.ReadAll(req.Body)
			if err != nil {
				requestBody = nil
			}
			req.Body = io.NopCloser(bytes.NewReader(requestBody))

			ctx, internalDesc := httperror.NewInternalDescriptionHolder(req.Context())
			req = req.WithContext(ctx)

			mw := chimiddleware.NewWrapResponseWriter(rw, req.ProtoMajor)
			responseBuffer := new(bytes.Buffer)
			mw.Tee(responseBuffer)

			then := time.Now()
			next.ServeHTTP(mw, req)
			duration := time.Since(then)

			routePattern := utils.GetRoutePattern(req)
			monitorService.ObserveHTTPRequest(req.Method, routePattern, fmt.Sprintf("%d", mw.Status()), duration)

			apiLog := data.APILog{
				ProjectID:       projectID,
				Method:          req.Method,
				Path:            routePattern,
				StatusCode:      mw.Status(),
				RequestBody:     utils.FormatBody(requestBody),
				RequestHeaders:  utils.HeadersToJSON(req.Header),
				ResponseBody:    utils.FormatBody(responseBuffer.Bytes()),
				ResponseHeaders: utils.HeadersToJSON(mw.Header()),
				DurationMs:      duration.Milliseconds(),
			}
			if *internalDesc != "" {
				apiLog.ErrorDesc = internalDesc
			}

			if _, err := models.APILogs.Insert(req.Context(), models.DBConnectionPool, apiLog); err != nil {
				logrus.WithContext(req.Context()).Errorf("persisting api log: %s", err)
				return
			}
			if emitErr := emitter.EmitAll(events.NewAPILogEvent, map[string]any{"project_id": projectID}); emitErr != nil {
				logrus.WithContext(req.Context()).Errorf("emitting %s: %s", events.NewAPILogEvent, emitErr)
			}
		})
	}
}
