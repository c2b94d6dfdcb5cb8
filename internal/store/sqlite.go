package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/ids"

	_ "modernc.org/sqlite"
)

// Config holds the SQLite store's configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the store's documented defaults.
func DefaultConfig() Config {
	return Config{DataDir: "./data"}
}

// SQLiteStore is the reference Store implementation: a single SQLite
// database file under Config.DataDir, opened in WAL mode, with the same
// pragma list, idempotent CREATE TABLE IF NOT EXISTS migration style, and
// transaction shape for multi-row writes throughout.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config

	mu       sync.Mutex
	watchers map[ids.CrewId][]chan struct{}
}

// New creates the data directory if needed, opens SQLite with WAL mode and
// the pragmas below, and runs migrations.
func New(cfg Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "evocrew.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: single writer is simplest and matches teacher's usage
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, cfg: cfg, watchers: make(map[ids.CrewId][]chan struct{})}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id                TEXT PRIMARY KEY,
			role              TEXT NOT NULL,
			goal              TEXT NOT NULL,
			backstory         TEXT NOT NULL,
			personality_json  TEXT NOT NULL,
			experience_json   TEXT NOT NULL,
			evolution_cycles  INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			last_evolved_at   TEXT,
			reflections_json  TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS crews (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			agent_ids_json  TEXT NOT NULL,
			tasks_json      TEXT NOT NULL,
			autonomy_level  REAL NOT NULL,
			formation_date  TEXT NOT NULL,
			state           TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS workflows (
			id                  TEXT PRIMARY KEY,
			crew_id             TEXT NOT NULL,
			state               TEXT NOT NULL,
			started_at          TEXT NOT NULL,
			ended_at            TEXT,
			context_snapshot    TEXT,
			allow_evolution     INTEGER NOT NULL DEFAULT 0,
			result_json         TEXT,
			cancellation_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_workflows_crew ON workflows(crew_id);
		CREATE INDEX IF NOT EXISTS idx_workflows_state ON workflows(state);

		CREATE TABLE IF NOT EXISTS evolution_events (
			id                     TEXT PRIMARY KEY,
			agent_id               TEXT NOT NULL,
			cycle                  INTEGER NOT NULL,
			previous_traits_json   TEXT NOT NULL,
			new_traits_json        TEXT NOT NULL,
			kind                   TEXT NOT NULL,
			reason                 TEXT NOT NULL,
			created_at             TEXT NOT NULL,
			UNIQUE(agent_id, cycle)
		);
		CREATE INDEX IF NOT EXISTS idx_evo_agent ON evolution_events(agent_id, cycle);

		CREATE TABLE IF NOT EXISTS instructions (
			id           TEXT PRIMARY KEY,
			crew_id      TEXT NOT NULL,
			workflow_id  TEXT,
			kind         TEXT NOT NULL,
			priority     INTEGER NOT NULL,
			content      TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			processed_at TEXT,
			error        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_instr_crew_status ON instructions(crew_id, status, priority DESC, created_at ASC);

		CREATE TABLE IF NOT EXISTS audit_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT NOT NULL,
			client_id  TEXT NOT NULL,
			tool       TEXT NOT NULL,
			arg_hash   TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			latency_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_records(ts DESC);

		CREATE TABLE IF NOT EXISTS api_keys (
			id               TEXT PRIMARY KEY,
			key_hash         TEXT NOT NULL UNIQUE,
			permissions_json TEXT NOT NULL,
			quota_hourly     INTEGER NOT NULL DEFAULT 0,
			quota_burst      INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL,
			last_used_at     TEXT,
			disabled         INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// HashKey returns the hex-encoded SHA-256 of a plaintext API key. Callers
// must never persist or log the plaintext itself (spec invariant).
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// --- Agents ---

func (s *SQLiteStore) PutAgent(ctx context.Context, a *domain.Agent) error {
	personality, err := json.Marshal(a.Personality)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode agent personality", err)
	}
	experience, err := json.Marshal(a.Experience)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode agent experience", err)
	}
	reflections, err := json.Marshal(a.Reflections)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode agent reflections", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, role, goal, backstory, personality_json, experience_json, evolution_cycles, created_at, last_evolved_at, reflections_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			role=excluded.role, goal=excluded.goal, backstory=excluded.backstory,
			personality_json=excluded.personality_json, experience_json=excluded.experience_json,
			evolution_cycles=excluded.evolution_cycles, last_evolved_at=excluded.last_evolved_at,
			reflections_json=excluded.reflections_json
	`, string(a.ID), a.Role, a.Goal, a.Backstory, string(personality), string(experience),
		a.EvolutionCycles, a.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(a.LastEvolvedAt), string(reflections))
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "put agent", err)
	}
	return nil
}

func scanAgent(row interface {
	Scan(dest ...any) error
}) (*domain.Agent, error) {
	var (
		id, role, goal, backstory, personality, experience, reflections, createdAt string
		evolutionCycles                                                            int
		lastEvolvedAt                                                              sql.NullString
	)
	if err := row.Scan(&id, &role, &goal, &backstory, &personality, &experience, &evolutionCycles, &createdAt, &lastEvolvedAt, &reflections); err != nil {
		return nil, err
	}
	a := &domain.Agent{
		ID:              ids.AgentId(id),
		Role:            role,
		Goal:            goal,
		Backstory:       backstory,
		EvolutionCycles: evolutionCycles,
		CreatedAt:       parseTime(createdAt),
		LastEvolvedAt:   parseTimePtr(lastEvolvedAt),
	}
	if err := json.Unmarshal([]byte(personality), &a.Personality); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(experience), &a.Experience); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reflections), &a.Reflections); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id ids.AgentId) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, role, goal, backstory, personality_json, experience_json, evolution_cycles, created_at, last_evolved_at, reflections_json
		FROM agents WHERE id = ?`, string(id))
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.Newf(domainerr.NotFound, "agent %q not found", id)
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "get agent", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, goal, backstory, personality_json, experience_json, evolution_cycles, created_at, last_evolved_at, reflections_json
		FROM agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "list agents", err)
	}
	defer rows.Close()
	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, domainerr.Wrap(domainerr.Internal, "scan agent", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Crews ---

func (s *SQLiteStore) PutCrew(ctx context.Context, c *domain.Crew) error {
	agentIDs, err := json.Marshal(c.AgentIDs)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode crew agent ids", err)
	}
	tasks, err := json.Marshal(c.Tasks)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode crew tasks", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crews (id, name, agent_ids_json, tasks_json, autonomy_level, formation_date, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, agent_ids_json=excluded.agent_ids_json, tasks_json=excluded.tasks_json,
			autonomy_level=excluded.autonomy_level, state=excluded.state
	`, string(c.ID), c.Name, string(agentIDs), string(tasks), c.AutonomyLevel,
		c.FormationDate.UTC().Format(time.RFC3339Nano), string(c.State))
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "put crew", err)
	}
	return nil
}

func scanCrew(row interface{ Scan(dest ...any) error }) (*domain.Crew, error) {
	var id, name, agentIDs, tasks, formationDate, state string
	var autonomy float64
	if err := row.Scan(&id, &name, &agentIDs, &tasks, &autonomy, &formationDate, &state); err != nil {
		return nil, err
	}
	c := &domain.Crew{
		ID:            ids.CrewId(id),
		Name:          name,
		AutonomyLevel: autonomy,
		FormationDate: parseTime(formationDate),
		State:         domain.CrewState(state),
	}
	if err := json.Unmarshal([]byte(agentIDs), &c.AgentIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tasks), &c.Tasks); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) GetCrew(ctx context.Context, id ids.CrewId) (*domain.Crew, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, agent_ids_json, tasks_json, autonomy_level, formation_date, state
		FROM crews WHERE id = ?`, string(id))
	c, err := scanCrew(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.Newf(domainerr.NotFound, "crew %q not found", id)
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "get crew", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCrews(ctx context.Context) ([]*domain.Crew, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, agent_ids_json, tasks_json, autonomy_level, formation_date, state
		FROM crews ORDER BY formation_date ASC`)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "list crews", err)
	}
	defer rows.Close()
	var out []*domain.Crew
	for rows.Next() {
		c, err := scanCrew(rows)
		if err != nil {
			return nil, domainerr.Wrap(domainerr.Internal, "scan crew", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCrew(ctx context.Context, id ids.CrewId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crews WHERE id = ?`, string(id))
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "delete crew", err)
	}
	return nil
}

// --- Evolution events ---

func (s *SQLiteStore) AppendEvolutionEvent(ctx context.Context, e *domain.EvolutionEvent) error {
	return s.insertEvolutionEvent(ctx, s.db, e)
}

func (s *SQLiteStore) insertEvolutionEvent(ctx context.Context, ex execer, e *domain.EvolutionEvent) error {
	prev, err := json.Marshal(e.PreviousTraits)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode previous traits", err)
	}
	next, err := json.Marshal(e.NewTraits)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode new traits", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO evolution_events (id, agent_id, cycle, previous_traits_json, new_traits_json, kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(e.ID), string(e.AgentID), e.Cycle, string(prev), string(next), string(e.Kind), e.Reason, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domainerr.Wrap(domainerr.Conflict, "append evolution event", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) ListEvolutionEvents(ctx context.Context, agentID ids.AgentId, since int) ([]*domain.EvolutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, cycle, previous_traits_json, new_traits_json, kind, reason, created_at
		FROM evolution_events WHERE agent_id = ? AND cycle >= ? ORDER BY cycle ASC`, string(agentID), since)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "list evolution events", err)
	}
	defer rows.Close()
	var out []*domain.EvolutionEvent
	for rows.Next() {
		var id, agentIDStr, prev, next, kind, reason, createdAt string
		var cycle int
		if err := rows.Scan(&id, &agentIDStr, &cycle, &prev, &next, &kind, &reason, &createdAt); err != nil {
			return nil, domainerr.Wrap(domainerr.Internal, "scan evolution event", err)
		}
		e := &domain.EvolutionEvent{
			ID:        ids.EvolutionEventId(id),
			AgentID:   ids.AgentId(agentIDStr),
			Cycle:     cycle,
			Kind:      domain.EvolutionKind(kind),
			Reason:    reason,
			CreatedAt: parseTime(createdAt),
		}
		_ = json.Unmarshal([]byte(prev), &e.PreviousTraits)
		_ = json.Unmarshal([]byte(next), &e.NewTraits)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EvolveAgentTx(ctx context.Context, a *domain.Agent, e *domain.EvolutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domainerr.Wrap(domainerr.Unavailable, "begin evolution transaction", err)
	}
	defer tx.Rollback()

	personality, _ := json.Marshal(a.Personality)
	experience, _ := json.Marshal(a.Experience)
	reflections, _ := json.Marshal(a.Reflections)
	if _, err := tx.ExecContext(ctx, `
		UPDATE agents SET role=?, goal=?, backstory=?, personality_json=?, experience_json=?,
			evolution_cycles=?, last_evolved_at=?, reflections_json=?
		WHERE id=?
	`, a.Role, a.Goal, a.Backstory, string(personality), string(experience), a.EvolutionCycles,
		nullableTime(a.LastEvolvedAt), string(reflections), string(a.ID)); err != nil {
		return domainerr.Wrap(domainerr.Internal, "update agent in evolution tx", err)
	}

	if err := s.insertEvolutionEvent(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domainerr.Wrap(domainerr.Internal, "commit evolution transaction", err)
	}
	return nil
}

// --- Workflows ---

func (s *SQLiteStore) PutWorkflow(ctx context.Context, w *domain.Workflow) error {
	var resultJSON sql.NullString
	if w.Result != nil {
		b, err := json.Marshal(w.Result)
		if err != nil {
			return domainerr.Wrap(domainerr.Internal, "encode workflow result", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	allow := 0
	if w.AllowEvolution {
		allow = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, crew_id, state, started_at, ended_at, context_snapshot, allow_evolution, result_json, cancellation_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, ended_at=excluded.ended_at, result_json=excluded.result_json,
			cancellation_reason=excluded.cancellation_reason
	`, string(w.ID), string(w.CrewID), string(w.State), w.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(w.EndedAt), w.ContextSnapshot, allow, resultJSON, w.CancellationReason)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "put workflow", err)
	}
	return nil
}

func scanWorkflow(row interface{ Scan(dest ...any) error }) (*domain.Workflow, error) {
	var id, crewID, state, startedAt, contextSnapshot, cancellationReason string
	var endedAt, resultJSON sql.NullString
	var allow int
	if err := row.Scan(&id, &crewID, &state, &startedAt, &endedAt, &contextSnapshot, &allow, &resultJSON, &cancellationReason); err != nil {
		return nil, err
	}
	w := &domain.Workflow{
		ID:                 ids.WorkflowId(id),
		CrewID:             ids.CrewId(crewID),
		State:              domain.WorkflowState(state),
		StartedAt:          parseTime(startedAt),
		ContextSnapshot:    contextSnapshot,
		AllowEvolution:     allow != 0,
		CancellationReason: cancellationReason,
		EndedAt:            parseTimePtr(endedAt),
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var r domain.CrewResult
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err == nil {
			w.Result = &r
		}
	}
	return w, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id ids.WorkflowId) (*domain.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, crew_id, state, started_at, ended_at, context_snapshot, allow_evolution, result_json, cancellation_reason
		FROM workflows WHERE id = ?`, string(id))
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.Newf(domainerr.NotFound, "workflow %q not found", id)
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "get workflow", err)
	}
	return w, nil
}

func (s *SQLiteStore) ListActiveWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, crew_id, state, started_at, ended_at, context_snapshot, allow_evolution, result_json, cancellation_reason
		FROM workflows WHERE state IN ('Preparing','Executing','Debriefing','Cancelling') ORDER BY started_at ASC`)
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "list active workflows", err)
	}
	defer rows.Close()
	var out []*domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, domainerr.Wrap(domainerr.Internal, "scan workflow", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetActiveWorkflowForCrew(ctx context.Context, crewID ids.CrewId) (*domain.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, crew_id, state, started_at, ended_at, context_snapshot, allow_evolution, result_json, cancellation_reason
		FROM workflows WHERE crew_id = ? AND state IN ('Created','Preparing','Executing','Debriefing','Cancelling')
		ORDER BY started_at DESC LIMIT 1`, string(crewID))
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "get active workflow for crew", err)
	}
	return w, nil
}

// --- Instructions ---

func (s *SQLiteStore) EnqueueInstruction(ctx context.Context, i *domain.Instruction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instructions (id, crew_id, workflow_id, kind, priority, content, status, created_at, processed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(i.ID), string(i.CrewID), string(i.WorkflowID), string(i.Kind), i.Priority, i.Content,
		string(i.Status), i.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(i.ProcessedAt), i.Error)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "enqueue instruction", err)
	}
	s.notify(i.CrewID)
	return nil
}

func (s *SQLiteStore) UpdateInstructionStatus(ctx context.Context, id ids.InstructionId, status domain.InstructionStatus, stampProcessed bool, errMsg string) error {
	if stampProcessed {
		_, err := s.db.ExecContext(ctx, `UPDATE instructions SET status=?, processed_at=?, error=? WHERE id=?`,
			string(status), now(), errMsg, string(id))
		if err != nil {
			return domainerr.Wrap(domainerr.Internal, "update instruction status", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE instructions SET status=?, error=? WHERE id=?`, string(status), errMsg, string(id))
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "update instruction status", err)
	}
	return nil
}

func scanInstruction(row interface{ Scan(dest ...any) error }) (*domain.Instruction, error) {
	var id, crewID, kind, content, status, createdAt, errMsg string
	var workflowID, processedAt sql.NullString
	var priority int
	if err := row.Scan(&id, &crewID, &workflowID, &kind, &priority, &content, &status, &createdAt, &processedAt, &errMsg); err != nil {
		return nil, err
	}
	return &domain.Instruction{
		ID:          ids.InstructionId(id),
		CrewID:      ids.CrewId(crewID),
		WorkflowID:  ids.WorkflowId(workflowID.String),
		Kind:        domain.InstructionKind(kind),
		Priority:    priority,
		Content:     content,
		Status:      domain.InstructionStatus(status),
		CreatedAt:   parseTime(createdAt),
		ProcessedAt: parseTimePtr(processedAt),
		Error:       errMsg,
	}, nil
}

func (s *SQLiteStore) GetInstruction(ctx context.Context, id ids.InstructionId) (*domain.Instruction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, crew_id, workflow_id, kind, priority, content, status, created_at, processed_at, error
		FROM instructions WHERE id = ?`, string(id))
	i, err := scanInstruction(row)
	if err == sql.ErrNoRows {
		return nil, domainerr.Newf(domainerr.NotFound, "instruction %q not found", id)
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "get instruction", err)
	}
	return i, nil
}

func (s *SQLiteStore) ListInstructions(ctx context.Context, crewID ids.CrewId, status domain.InstructionStatus) ([]*domain.Instruction, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, crew_id, workflow_id, kind, priority, content, status, created_at, processed_at, error
			FROM instructions WHERE crew_id = ? ORDER BY priority DESC, created_at ASC`, string(crewID))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, crew_id, workflow_id, kind, priority, content, status, created_at, processed_at, error
			FROM instructions WHERE crew_id = ? AND status = ? ORDER BY priority DESC, created_at ASC`, string(crewID), string(status))
	}
	if err != nil {
		return nil, domainerr.Wrap(domainerr.Internal, "list instructions", err)
	}
	defer rows.Close()
	var out []*domain.Instruction
	for rows.Next() {
		i, err := scanInstruction(rows)
		if err != nil {
			return nil, domainerr.Wrap(domainerr.Internal, "scan instruction", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPendingInstructions(ctx context.Context, crewID ids.CrewId) ([]*domain.Instruction, error) {
	return s.ListInstructions(ctx, crewID, domain.InstructionPending)
}

// --- Audit ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, r *domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (ts, client_id, tool, arg_hash, outcome, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Timestamp.UTC().Format(time.RFC3339Nano), r.ClientID, r.Tool, r.ArgHash, r.Outcome, r.LatencyMS)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "append audit record", err)
	}
	return nil
}

// --- API keys ---

func (s *SQLiteStore) PutApiKey(ctx context.Context, k *domain.ApiKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "encode api key permissions", err)
	}
	disabled := 0
	if k.Disabled {
		disabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, permissions_json, quota_hourly, quota_burst, created_at, last_used_at, disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			permissions_json=excluded.permissions_json, quota_hourly=excluded.quota_hourly,
			quota_burst=excluded.quota_burst, disabled=excluded.disabled
	`, string(k.ID), k.KeyHash, string(perms), k.QuotaHourly, k.QuotaBurst,
		k.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTime(k.LastUsedAt), disabled)
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "put api key", err)
	}
	return nil
}

func (s *SQLiteStore) GetApiKeyByHash(ctx context.Context, hash string) (*domain.ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, key_hash, permissions_json, quota_hourly, quota_burst, created_at, last_used_at, disabled
		FROM api_keys WHERE key_hash = ?`, hash)
	var id, keyHash, perms, createdAt string
	var lastUsedAt sql.NullString
	var quotaHourly, quotaBurst, disabled int
	if err := row.Scan(&id, &keyHash, &perms, &quotaHourly, &quotaBurst, &createdAt, &lastUsedAt, &disabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerr.New(domainerr.Unauthenticated, "unknown api key")
		}
		return nil, domainerr.Wrap(domainerr.Internal, "get api key", err)
	}
	k := &domain.ApiKey{
		ID:          ids.ApiKeyId(id),
		KeyHash:     keyHash,
		QuotaHourly: quotaHourly,
		QuotaBurst:  quotaBurst,
		CreatedAt:   parseTime(createdAt),
		LastUsedAt:  parseTimePtr(lastUsedAt),
		Disabled:    disabled != 0,
	}
	_ = json.Unmarshal([]byte(perms), &k.Permissions)
	return k, nil
}

func (s *SQLiteStore) CountApiKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, domainerr.Wrap(domainerr.Internal, "count api keys", err)
	}
	return n, nil
}

func (s *SQLiteStore) TouchApiKeyLastUsed(ctx context.Context, id ids.ApiKeyId) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, now(), string(id))
	if err != nil {
		return domainerr.Wrap(domainerr.Internal, "touch api key", err)
	}
	return nil
}

// --- Watch ---

func (s *SQLiteStore) Watch(crewID ids.CrewId) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	s.watchers[crewID] = append(s.watchers[crewID], ch)
	return ch
}

// Unwatch removes ch from crewID's watcher list, so a finished workflow's
// channel stops receiving notifications and can be garbage collected.
func (s *SQLiteStore) Unwatch(crewID ids.CrewId, ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.watchers[crewID]
	for i, c := range chans {
		if c == ch {
			s.watchers[crewID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.watchers[crewID]) == 0 {
		delete(s.watchers, crewID)
	}
}

func (s *SQLiteStore) notify(crewID ids.CrewId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[crewID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

var _ Store = (*SQLiteStore)(nil)
