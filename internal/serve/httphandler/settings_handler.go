package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/settings"
)

// SettingsHandler exposes the host settings document on the admin mux.
type SettingsHandler struct {
	Store *settings.Store
}

func (h SettingsHandler) Get(rw http.ResponseWriter, req *http.Request) {
	httpjson.Render(rw, h.Store.Get())
}

// Update replaces the fields present in the request body; absent fields keep
// their current values via the merge below. Keys outside the settings
// document are rejected instead of silently dropped.
func (h SettingsHandler) Update(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&patch); err != nil {
		httperror.BadRequest("", "", err).Render(ctx, rw)
		return
	}

	known := map[string]json.RawMessage{}
	current, err := json.Marshal(h.Store.Get())
	if err == nil {
		err = json.Unmarshal(current, &known)
	}
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}
	for key := range patch {
		if _, ok := known[key]; !ok {
			httperror.BadRequest("", fmt.Sprintf("unknown setting %q", key), nil).Render(ctx, rw)
			return
		}
	}

	updated, err := h.Store.Update(func(current *settings.Settings) {
		// Round-trip through JSON so only the provided keys change.
		raw, marshalErr := json.Marshal(patch)
		if marshalErr != nil {
			return
		}
		_ = json.Unmarshal(raw, current)
	})
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, updated)
}
