package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httperror"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httpjson"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
)

// SandboxController is the slice of the supervisor the admin API drives.
type SandboxController interface {
	Start(ctx context.Context, projectID int64) (SandboxInfo, error)
	Stop(ctx context.Context, projectID int64) error
	Status(projectID int64) string
	List() []SandboxInfo
}

// SandboxInfo is the admin-facing view of one running sandbox.
type SandboxInfo struct {
	ProjectID int64  `json:"project_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	BaseURL   string `json:"base_url"`
	Error     string `json:"error,omitempty"`
}

// AdminHandler is the host-facing control surface: project provisioning,
// sandbox lifecycle, log inspection and STK prompt resolution. It is not a
// Daraja API and speaks plain REST instead of the Daraja wire shapes.
type AdminHandler struct {
	Models    *data.Models
	Sandboxes SandboxController
	Registry  *stkpending.Registry
}

type CreateProjectRequest struct {
	Name           string              `json:"name"`
	BusinessName   string              `json:"business_name"`
	ShortCode      string              `json:"short_code"`
	CallbackURL    *string             `json:"callback_url"`
	SimulationMode data.SimulationMode `json:"simulation_mode"`
	StkDelayMs     int64               `json:"stk_delay_ms"`
	// InitialBalance seeds the business utility account, in cents.
	InitialBalance int64 `json:"initial_balance"`
}

type CreateProjectResponse struct {
	Project data.Project `json:"project"`
	APIKey  data.APIKey  `json:"api_key"`
}

// CreateProject provisions a business, its project and the API key triple in
// one transaction.
func (h AdminHandler) CreateProject(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var request CreateProjectRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		httperror.BadRequest("", "", err).Render(ctx, rw)
		return
	}
	if request.Name == "" || request.BusinessName == "" || request.ShortCode == "" {
		httperror.BadRequest("", "name, business_name and short_code are required", nil).Render(ctx, rw)
		return
	}

	response, err := db.RunInTransactionWithResult(ctx, h.Models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*CreateProjectResponse, error) {
		business, txErr := h.Models.Businesses.Insert(ctx, dbTx, request.BusinessName, request.ShortCode, 0)
		if txErr != nil {
			return nil, txErr
		}
		if request.InitialBalance > 0 {
			utility, accErr := h.Models.Businesses.GetUtilityAccount(ctx, dbTx, business.ID)
			if accErr != nil {
				return nil, accErr
			}
			if _, accErr = h.Models.Accounts.UpdateBalance(ctx, dbTx, utility.ID, request.InitialBalance); accErr != nil {
				return nil, accErr
			}
		}

		project, txErr := h.Models.Projects.Insert(ctx, dbTx, data.ProjectInsert{
			BusinessID:     business.ID,
			Name:           request.Name,
			CallbackURL:    request.CallbackURL,
			SimulationMode: request.SimulationMode,
			StkDelayMs:     request.StkDelayMs,
		})
		if txErr != nil {
			return nil, txErr
		}

		apiKey, txErr := h.Models.APIKeys.Insert(ctx, dbTx, project.ID)
		if txErr != nil {
			return nil, txErr
		}
		return &CreateProjectResponse{Project: *project, APIKey: *apiKey}, nil
	})
	if err != nil {
		if errors.Is(err, data.ErrRecordAlreadyExists) {
			httperror.BadRequest("", "short code already in use", err).Render(ctx, rw)
			return
		}
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	httpjson.RenderStatus(rw, http.StatusCreated, response)
}

type projectListing struct {
	data.Project
	SandboxStatus string `json:"sandbox_status"`
}

func (h AdminHandler) ListProjects(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projects, err := h.Models.Projects.GetAll(ctx, h.Models.DBConnectionPool)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}

	listings := make([]projectListing, 0, len(projects))
	for _, project := range projects {
		listings = append(listings, projectListing{Project: project, SandboxStatus: h.Sandboxes.Status(project.ID)})
	}
	httpjson.Render(rw, listings)
}

func (h AdminHandler) UpdateProject(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projectID, ok := h.projectIDParam(rw, req)
	if !ok {
		return
	}

	var update data.ProjectUpdate
	if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
		httperror.BadRequest("", "", err).Render(ctx, rw)
		return
	}

	project, err := h.Models.Projects.Update(ctx, h.Models.DBConnectionPool, projectID, update)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("project not found", err).Render(ctx, rw)
			return
		}
		httperror.BadRequest("", err.Error(), err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, project)
}

func (h AdminHandler) StartSandbox(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projectID, ok := h.projectIDParam(rw, req)
	if !ok {
		return
	}

	info, err := h.Sandboxes.Start(ctx, projectID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("project not found", err).Render(ctx, rw)
			return
		}
		httperror.BadRequest("", err.Error(), err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, info)
}

func (h AdminHandler) StopSandbox(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projectID, ok := h.projectIDParam(rw, req)
	if !ok {
		return
	}

	if err := h.Sandboxes.Stop(ctx, projectID); err != nil {
		httperror.BadRequest("", err.Error(), err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, map[string]string{"status": "off"})
}

func (h AdminHandler) ListSandboxes(rw http.ResponseWriter, req *http.Request) {
	httpjson.Render(rw, h.Sandboxes.List())
}

func (h AdminHandler) ListAPILogs(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projectID, ok := h.projectIDParam(rw, req)
	if !ok {
		return
	}

	method := req.URL.Query().Get("method")
	logs, err := h.Models.APILogs.List(ctx, h.Models.DBConnectionPool, projectID, method, listLimit(req))
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}
	total, err := h.Models.APILogs.Count(ctx, h.Models.DBConnectionPool, projectID, method)
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, map[string]any{"total": total, "logs": logs})
}

func (h AdminHandler) ListCallbackLogs(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	projectID, ok := h.projectIDParam(rw, req)
	if !ok {
		return
	}

	logs, err := h.Models.CallbackLogs.ListByProject(ctx, h.Models.DBConnectionPool, projectID, listLimit(req))
	if err != nil {
		httperror.InternalError(ctx, err).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, logs)
}

type ResolveStkRequest struct {
	CheckoutRequestID string                  `json:"checkout_request_id"`
	Action            stkpending.ResponseKind `json:"action"`
	PIN               string                  `json:"pin"`
}

// ResolveStk settles a pending realistic-mode STK prompt: the host plays the
// phone's part.
func (h AdminHandler) ResolveStk(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var request ResolveStkRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		httperror.BadRequest("", "", err).Render(ctx, rw)
		return
	}
	switch request.Action {
	case stkpending.ResponseAccepted, stkpending.ResponseCancelled, stkpending.ResponseOffline, stkpending.ResponseFailed:
	default:
		httperror.BadRequest("", fmt.Sprintf("unknown action %q", request.Action), nil).Render(ctx, rw)
		return
	}

	resolved := h.Registry.Resolve(request.CheckoutRequestID, stkpending.UserResponse{
		Kind: request.Action,
		PIN:  request.PIN,
	})
	if !resolved {
		httperror.NotFound("no pending prompt for that checkout request", nil).Render(ctx, rw)
		return
	}
	httpjson.Render(rw, map[string]string{"status": "resolved"})
}

func (h AdminHandler) projectIDParam(rw http.ResponseWriter, req *http.Request) (int64, bool) {
	raw := chi.URLParam(req, "projectID")
	projectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httperror.BadRequest("", fmt.Sprintf("invalid project id %q", raw), err).Render(req.Context(), rw)
		return 0, false
	}
	return projectID, true
}

const defaultListLimit = 100

func listLimit(req *http.Request) int {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
