// Package sandbox runs one HTTP server per project and tracks their
// lifecycle. The supervisor is the only writer of sandbox_status events.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve"
)

// Status values reported over sandbox_status and by the admin API.
const (
	StatusStarting = "starting"
	StatusOn       = "on"
	StatusOff      = "off"
	StatusError    = "error"
)

const (
	basePort        = 8000
	portRange       = 1000
	shutdownTimeout = 5 * time.Second
)

// Sandbox is one live per-project server.
type Sandbox struct {
	ProjectID int64     `json:"project_id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	// Error records why the serve loop died; written under the supervisor
	// lock, kept until the sandbox is explicitly stopped.
	Error string `json:"error,omitempty"`

	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// BaseURL is what a merchant integration points its SDK at.
func (s *Sandbox) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Supervisor owns the set of running sandboxes. Start is idempotent: while a
// sandbox is alive, later Starts for the same project observe the existing
// entry instead of racing it.
type Supervisor struct {
	Models         *data.Models
	Emitter        events.Emitter
	MonitorService *monitor.Service
	Host           string
	SandboxOptions func(projectID int64) serve.ServeOptions

	mu        sync.Mutex
	sandboxes map[int64]*Sandbox
}

func NewSupervisor(models *data.Models, emitter events.Emitter, monitorService *monitor.Service, optionsFor func(projectID int64) serve.ServeOptions) *Supervisor {
	if emitter == nil {
		emitter = events.LogEmitter{}
	}
	return &Supervisor{
		Models:         models,
		Emitter:        emitter,
		MonitorService: monitorService,
		Host:           "127.0.0.1",
		SandboxOptions: optionsFor,
		sandboxes:      make(map[int64]*Sandbox),
	}
}

// Start brings up the sandbox server for projectID and returns once it is
// listening. The preferred port is deterministic so URLs stay stable across
// restarts; when it is taken the OS picks a free one and the assignment is
// logged.
func (s *Supervisor) Start(ctx context.Context, projectID int64) (*Sandbox, error) {
	project, err := s.Models.Projects.Get(ctx, s.Models.DBConnectionPool, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project %d: %w", projectID, err)
	}

	s.mu.Lock()
	if existing, ok := s.sandboxes[projectID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	// Reserve the slot before releasing the lock so concurrent Starts for the
	// same project all observe one entry.
	placeholder := &Sandbox{ProjectID: projectID}
	s.sandboxes[projectID] = placeholder
	s.mu.Unlock()

	s.emitStatus(projectID, StatusStarting, 0, "")

	handler, err := serve.NewSandboxHandler(s.SandboxOptions(projectID))
	if err != nil {
		s.unregister(projectID)
		s.emitStatus(projectID, StatusError, 0, err.Error())
		return nil, err
	}

	listener, err := s.listen(projectID)
	if err != nil {
		s.unregister(projectID)
		s.emitStatus(projectID, StatusError, 0, err.Error())
		return nil, fmt.Errorf("binding sandbox listener for project %d: %w", projectID, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	sandbox := &Sandbox{
		ProjectID: projectID,
		Host:      s.Host,
		Port:      port,
		StartedAt: time.Now().UTC(),
		server:    &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		listener:  listener,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.sandboxes[projectID] = sandbox
	s.mu.Unlock()
	s.syncGauge()

	go func() {
		serveErr := sandbox.server.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			// Keep the entry so Status and List can report the failure; Stop
			// clears it.
			s.mu.Lock()
			sandbox.Error = serveErr.Error()
			s.mu.Unlock()
			logrus.Errorf("sandbox for project %d stopped: %s", projectID, serveErr)
			s.emitStatus(projectID, StatusError, port, serveErr.Error())
			s.syncGauge()
			close(sandbox.done)
			return
		}
		s.unregister(projectID)
		close(sandbox.done)
	}()

	logrus.WithFields(logrus.Fields{
		"project_id":      projectID,
		"project_name":    project.Name,
		"simulation_mode": project.SimulationMode,
		"port":            port,
	}).Info("sandbox started")
	s.emitStatus(projectID, StatusOn, port, "")

	return sandbox, nil
}

func (s *Supervisor) listen(projectID int64) (net.Listener, error) {
	preferred := basePort + int(projectID%portRange)
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.Host, preferred))
	if err == nil {
		return listener, nil
	}
	logrus.Warnf("preferred port %d for project %d unavailable (%s), letting the OS pick one", preferred, projectID, err)
	return net.Listen("tcp", fmt.Sprintf("%s:0", s.Host))
}

// Stop gracefully shuts down the project's sandbox and waits for the serve
// loop to exit.
func (s *Supervisor) Stop(ctx context.Context, projectID int64) error {
	s.mu.Lock()
	sandbox, ok := s.sandboxes[projectID]
	s.mu.Unlock()
	if !ok || sandbox.server == nil {
		return fmt.Errorf("no running sandbox for project %d", projectID)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := sandbox.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down sandbox for project %d: %w", projectID, err)
	}
	<-sandbox.done
	// An errored sandbox stays registered until this explicit stop.
	s.unregister(projectID)

	logrus.WithField("project_id", projectID).Info("sandbox stopped")
	s.emitStatus(projectID, StatusOff, sandbox.Port, "")
	return nil
}

// StopAll shuts every sandbox down; used on supervisor exit.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.sandboxes))
	for id := range s.sandboxes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(ctx, id); err != nil {
			logrus.Warnf("stopping sandbox %d: %s", id, err)
		}
	}
}

// Status reports one project's lifecycle state, including a dead serve loop
// that has not been stopped yet.
func (s *Supervisor) Status(projectID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.sandboxes[projectID]
	switch {
	case !ok:
		return StatusOff
	case sb.Error != "":
		return StatusError
	case sb.server == nil:
		return StatusStarting
	default:
		return StatusOn
	}
}

// Get returns the live sandbox for a project, if any.
func (s *Supervisor) Get(projectID int64) (*Sandbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.sandboxes[projectID]
	if !ok || sb.server == nil || sb.Error != "" {
		return nil, false
	}
	return sb, true
}

// List snapshots the started sandboxes, errored ones included so callers can
// surface the failure.
func (s *Supervisor) List() []Sandbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sandbox, 0, len(s.sandboxes))
	for _, sb := range s.sandboxes {
		if sb.server != nil {
			out = append(out, *sb)
		}
	}
	return out
}

func (s *Supervisor) unregister(projectID int64) {
	s.mu.Lock()
	delete(s.sandboxes, projectID)
	s.mu.Unlock()
	s.syncGauge()
}

func (s *Supervisor) syncGauge() {
	s.mu.Lock()
	count := 0
	for _, sb := range s.sandboxes {
		if sb.server != nil && sb.Error == "" {
			count++
		}
	}
	s.mu.Unlock()
	s.MonitorService.SetRunningSandboxes(count)
}

func (s *Supervisor) emitStatus(projectID int64, status string, port int, errMsg string) {
	payload := map[string]any{
		"project_id": projectID,
		"status":     status,
	}
	if port != 0 {
		payload["port"] = port
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	if err := s.Emitter.EmitAll(events.SandboxStatusEvent, payload); err != nil {
		logrus.Errorf("emitting %s for project %d: %s", events.SandboxStatusEvent, projectID, err)
	}
}
