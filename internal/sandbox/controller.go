package sandbox

import (
	"context"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve/httphandler"
)

// controller adapts the supervisor to the admin API's view of it.
type controller struct {
	supervisor *Supervisor
}

// Controller exposes the supervisor to the admin mux.
func (s *Supervisor) Controller() httphandler.SandboxController {
	return controller{supervisor: s}
}

func (c controller) Start(ctx context.Context, projectID int64) (httphandler.SandboxInfo, error) {
	sb, err := c.supervisor.Start(ctx, projectID)
	if err != nil {
		return httphandler.SandboxInfo{}, err
	}
	return toInfo(*sb), nil
}

func (c controller) Stop(ctx context.Context, projectID int64) error {
	return c.supervisor.Stop(ctx, projectID)
}

func (c controller) Status(projectID int64) string {
	return c.supervisor.Status(projectID)
}

func (c controller) List() []httphandler.SandboxInfo {
	started := c.supervisor.List()
	out := make([]httphandler.SandboxInfo, 0, len(started))
	for _, sb := range started {
		out = append(out, toInfo(sb))
	}
	return out
}

func toInfo(sb Sandbox) httphandler.SandboxInfo {
	return httphandler.SandboxInfo{
		ProjectID: sb.ProjectID,
		Host:      sb.Host,
		Port:      sb.Port,
		BaseURL:   sb.BaseURL(),
		Error:     sb.Error,
	}
}
