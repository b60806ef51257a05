package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
)

type SimulationMode string

const (
	SimulationAlwaysSuccess SimulationMode = "always_success"
	SimulationAlwaysFail    SimulationMode = "always_fail"
	SimulationRandom        SimulationMode = "random"
	SimulationRealistic     SimulationMode = "realistic"
)

func (s SimulationMode) IsValid() bool {
	switch s {
	case SimulationAlwaysSuccess, SimulationAlwaysFail, SimulationRandom, SimulationRealistic:
		return true
	}
	return false
}

// Project is the tenant scope for all simulated API calls. Each project gets
// its own sandbox port and exactly one API key triple.
type Project struct {
	ID             int64          `db:"id" json:"id"`
	BusinessID     int64          `db:"business_id" json:"business_id"`
	Name           string         `db:"name" json:"name"`
	CallbackURL    *string        `db:"callback_url" json:"callback_url"`
	SimulationMode SimulationMode `db:"simulation_mode" json:"simulation_mode"`
	// StkDelayMs is how long the simulated STK prompt is held before
	// auto-resolving, in milliseconds.
	StkDelayMs int64     `db:"stk_delay_ms" json:"stk_delay_ms"`
	Prefix     *string   `db:"prefix" json:"prefix"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (p *Project) StkDelay() time.Duration {
	return time.Duration(p.StkDelayMs) * time.Millisecond
}

type ProjectModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *ProjectModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id int64) (*Project, error) {
	var project Project
	query := `SELECT * FROM projects WHERE id = ?`
	err := sqlExec.GetContext(ctx, &project, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying project %d: %w", id, err)
	}
	return &project, nil
}

func (m *ProjectModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter) ([]Project, error) {
	var projects []Project
	query := `SELECT * FROM projects ORDER BY id`
	err := sqlExec.SelectContext(ctx, &projects, query)
	if err != nil {
		return nil, fmt.Errorf("querying all projects: %w", err)
	}
	return projects, nil
}

type ProjectInsert struct {
	BusinessID     int64          `json:"business_id"`
	Name           string         `json:"name"`
	CallbackURL    *string        `json:"callback_url"`
	SimulationMode SimulationMode `json:"simulation_mode"`
	StkDelayMs     int64          `json:"stk_delay_ms"`
	Prefix         *string        `json:"prefix"`
}

func (m *ProjectModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert ProjectInsert) (*Project, error) {
	if insert.Name == "" || insert.BusinessID == 0 {
		return nil, ErrMissingInput
	}
	if insert.SimulationMode == "" {
		insert.SimulationMode = SimulationAlwaysSuccess
	}
	if !insert.SimulationMode.IsValid() {
		return nil, fmt.Errorf("invalid simulation mode %q", insert.SimulationMode)
	}

	var project Project
	query := `
		INSERT INTO projects (business_id, name, callback_url, simulation_mode, stk_delay_ms, prefix)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING *
	`
	err := sqlExec.GetContext(ctx, &project, query,
		insert.BusinessID, insert.Name, insert.CallbackURL, insert.SimulationMode, insert.StkDelayMs, insert.Prefix)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return &project, nil
}

type ProjectUpdate struct {
	CallbackURL    *string         `json:"callback_url"`
	SimulationMode *SimulationMode `json:"simulation_mode"`
	StkDelayMs     *int64          `json:"stk_delay_ms"`
}

func (m *ProjectModel) Update(ctx context.Context, sqlExec db.SQLExecuter, id int64, update ProjectUpdate) (*Project, error) {
	if update.SimulationMode != nil && !update.SimulationMode.IsValid() {
		return nil, fmt.Errorf("invalid simulation mode %q", *update.SimulationMode)
	}
	query := `
		UPDATE projects SET
			callback_url = COALESCE(?, callback_url),
			simulation_mode = COALESCE(?, simulation_mode),
			stk_delay_ms = COALESCE(?, stk_delay_ms)
		WHERE id = ?
		RETURNING *
	`
	var project Project
	err := sqlExec.GetContext(ctx, &project, query, update.CallbackURL, update.SimulationMode, update.StkDelayMs, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("updating project %d: %w", id, err)
	}
	return &project, nil
}
