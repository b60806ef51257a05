package httphandler

import (
	"fmt"
	"net/http"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
)

// OAuthHandler mints bearer tokens from the project's Basic credentials.
type OAuthHandler struct {
	Models    *data.Models
	ProjectID int64
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// GenerateToken serves GET /oauth/v1/generate?grant_type=client_credentials.
func (h OAuthHandler) GenerateToken(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if grantType := req.URL.Query().Get("grant_type"); grantType != "client_credentials" {
		httperror.InvalidAuthentication(nil).
			WithInternal(fmt.Sprintf("unsupported grant_type %q", grantType)).
			Render(ctx, rw)
		return
	}

	consumerKey, consumerSecret, ok := req.BasicAuth()
	if !ok {
		httperror.InvalidAuthentication(nil).
			WithInternal("missing Basic Authorization header").
			Render(ctx, rw)
		return
	}

	apiKey, err := h.Models.APIKeys.GetByConsumerKey(ctx, h.Models.DBConnectionPool, consumerKey)
	if err != nil {
		httperror.InvalidAuthentication(err).
			WithInternal("unknown consumer key").
			Render(ctx, rw)
		return
	}
	if apiKey.ConsumerSecret != consumerSecret || apiKey.ProjectID != h.ProjectID {
		httperror.InvalidAuthentication(nil).
			WithInternal("consumer secret mismatch or credentials belong to another project").
			Render(ctx, rw)
		return
	}

	accessToken, err := h.Models.AccessTokens.Insert(ctx, h.Models.DBConnectionPool, h.ProjectID)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	httpjson.Render(rw, oauthResponse{
		AccessToken: accessToken.Token,
		ExpiresIn:   "3600",
	})
}
