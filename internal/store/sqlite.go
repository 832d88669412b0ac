package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/events"
	"github.com/vesys/ve/internal/events/bus"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// SQLiteStore is the production Store backed by an embedded SQLite database.
// A single writer connection keeps every update serialised.
type SQLiteStore struct {
	db *sqlx.DB
	n  *notifier
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. The event bus may be nil when no broadcast fan-out is wanted.
func NewSQLiteStore(path string, eventBus bus.EventBus, log *logger.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db: db,
		n:  &notifier{bus: eventBus, log: log.WithFields(zap.String("component", "store"))},
	}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_units (
		chunk TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		blocked_by TEXT NOT NULL DEFAULT '[]',
		worktree TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		pending_answer TEXT NOT NULL DEFAULT '',
		attention_reason TEXT NOT NULL DEFAULT '',
		conflict_verdicts TEXT NOT NULL DEFAULT '{}',
		conflict_override TEXT NOT NULL DEFAULT '',
		displaced_chunk TEXT NOT NULL DEFAULT '',
		completion_retries INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk TEXT NOT NULL,
		old_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_history_chunk_at ON status_history(chunk, at);

	CREATE TABLE IF NOT EXISTS conflicts (
		chunk_a TEXT NOT NULL,
		chunk_b TEXT NOT NULL,
		verdict TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chunk_a, chunk_b)
	);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// workUnitRow is the database shape of a work unit.
type workUnitRow struct {
	Chunk             string    `db:"chunk"`
	Phase             string    `db:"phase"`
	Status            string    `db:"status"`
	Priority          int       `db:"priority"`
	BlockedBy         string    `db:"blocked_by"`
	Worktree          string    `db:"worktree"`
	SessionID         string    `db:"session_id"`
	PendingAnswer     string    `db:"pending_answer"`
	AttentionReason   string    `db:"attention_reason"`
	ConflictVerdicts  string    `db:"conflict_verdicts"`
	ConflictOverride  string    `db:"conflict_override"`
	DisplacedChunk    string    `db:"displaced_chunk"`
	CompletionRetries int       `db:"completion_retries"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func toRow(u *v1.WorkUnit) (*workUnitRow, error) {
	blockedBy, err := json.Marshal(u.BlockedBy)
	if err != nil {
		return nil, err
	}
	verdicts := u.ConflictVerdicts
	if verdicts == nil {
		verdicts = map[string]v1.Verdict{}
	}
	verdictsJSON, err := json.Marshal(verdicts)
	if err != nil {
		return nil, err
	}
	return &workUnitRow{
		Chunk:             u.Chunk,
		Phase:             string(u.Phase),
		Status:            string(u.Status),
		Priority:          u.Priority,
		BlockedBy:         string(blockedBy),
		Worktree:          u.Worktree,
		SessionID:         u.SessionID,
		PendingAnswer:     u.PendingAnswer,
		AttentionReason:   u.AttentionReason,
		ConflictVerdicts:  string(verdictsJSON),
		ConflictOverride:  string(u.ConflictOverride),
		DisplacedChunk:    u.DisplacedChunk,
		CompletionRetries: u.CompletionRetries,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}, nil
}

func (r *workUnitRow) toUnit() (*v1.WorkUnit, error) {
	var blockedBy []string
	if err := json.Unmarshal([]byte(r.BlockedBy), &blockedBy); err != nil {
		return nil, fmt.Errorf("corrupt blocked_by for %s: %w", r.Chunk, err)
	}
	verdicts := map[string]v1.Verdict{}
	if err := json.Unmarshal([]byte(r.ConflictVerdicts), &verdicts); err != nil {
		return nil, fmt.Errorf("corrupt conflict_verdicts for %s: %w", r.Chunk, err)
	}
	return &v1.WorkUnit{
		Chunk:             r.Chunk,
		Phase:             v1.Phase(r.Phase),
		Status:            v1.UnitStatus(r.Status),
		Priority:          r.Priority,
		BlockedBy:         blockedBy,
		Worktree:          r.Worktree,
		SessionID:         r.SessionID,
		PendingAnswer:     r.PendingAnswer,
		AttentionReason:   r.AttentionReason,
		ConflictVerdicts:  verdicts,
		ConflictOverride:  v1.Verdict(r.ConflictOverride),
		DisplacedChunk:    r.DisplacedChunk,
		CompletionRetries: r.CompletionRetries,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}, nil
}

const workUnitColumns = `chunk, phase, status, priority, blocked_by, worktree, session_id,
	pending_answer, attention_reason, conflict_verdicts, conflict_override,
	displaced_chunk, completion_retries, created_at, updated_at`

func (s *SQLiteStore) CreateWorkUnit(ctx context.Context, u *v1.WorkUnit) error {
	if err := validateUnit(u); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	row, err := toRow(u)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM work_units WHERE chunk = ?`, u.Chunk); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, u.Chunk)
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO work_units (`+workUnitColumns+`)
		VALUES (:chunk, :phase, :status, :priority, :blocked_by, :worktree, :session_id,
			:pending_answer, :attention_reason, :conflict_verdicts, :conflict_override,
			:displaced_chunk, :completion_retries, :created_at, :updated_at)
	`, row); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_history (chunk, old_status, new_status, at) VALUES (?, '', ?, ?)`,
		u.Chunk, string(u.Status), now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.n.unitChanged(ctx, events.WorkUnitCreated, u, "")
	return nil
}

func (s *SQLiteStore) GetWorkUnit(ctx context.Context, chunk string) (*v1.WorkUnit, error) {
	var row workUnitRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+workUnitColumns+` FROM work_units WHERE chunk = ?`, chunk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: work unit %s", ErrNotFound, chunk)
	}
	if err != nil {
		return nil, err
	}
	return row.toUnit()
}

func (s *SQLiteStore) ListWorkUnits(ctx context.Context, status v1.UnitStatus) ([]*v1.WorkUnit, error) {
	query := `SELECT ` + workUnitColumns + ` FROM work_units ORDER BY created_at ASC, chunk ASC`
	args := []interface{}{}
	if status != "" {
		query = `SELECT ` + workUnitColumns + ` FROM work_units WHERE status = ? ORDER BY created_at ASC, chunk ASC`
		args = append(args, string(status))
	}

	var rows []workUnitRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	units := make([]*v1.WorkUnit, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toUnit()
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (s *SQLiteStore) UpdateWorkUnit(ctx context.Context, u *v1.WorkUnit) error {
	if err := validateUnit(u); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current workUnitRow
	err = tx.GetContext(ctx, &current,
		`SELECT `+workUnitColumns+` FROM work_units WHERE chunk = ?`, u.Chunk)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: work unit %s", ErrNotFound, u.Chunk)
	}
	if err != nil {
		return err
	}

	oldStatus := v1.UnitStatus(current.Status)
	if oldStatus == v1.StatusDone && u.Status != v1.StatusDone {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, u.Chunk)
	}

	u.CreatedAt = current.CreatedAt.UTC()
	row, err := toRow(u)
	if err != nil {
		return err
	}
	if _, err := tx.NamedExecContext(ctx, `
		UPDATE work_units SET
			phase = :phase, status = :status, priority = :priority,
			blocked_by = :blocked_by, worktree = :worktree, session_id = :session_id,
			pending_answer = :pending_answer, attention_reason = :attention_reason,
			conflict_verdicts = :conflict_verdicts, conflict_override = :conflict_override,
			displaced_chunk = :displaced_chunk, completion_retries = :completion_retries,
			updated_at = :updated_at
		WHERE chunk = :chunk
	`, row); err != nil {
		return err
	}

	if oldStatus != u.Status {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO status_history (chunk, old_status, new_status, at) VALUES (?, ?, ?, ?)`,
			u.Chunk, string(oldStatus), string(u.Status), now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if oldStatus != u.Status {
		s.n.unitChanged(ctx, events.WorkUnitStatusChanged, u, oldStatus)
	} else {
		s.n.unitChanged(ctx, events.WorkUnitUpdated, u, oldStatus)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorkUnit(ctx context.Context, chunk string) error {
	u, err := s.GetWorkUnit(ctx, chunk)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM work_units WHERE chunk = ?`, chunk); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM status_history WHERE chunk = ?`, chunk); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conflicts WHERE chunk_a = ? OR chunk_b = ?`, chunk, chunk); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.n.unitDeleted(ctx, u)
	return nil
}

func (s *SQLiteStore) ReadyQueue(ctx context.Context, limit int) ([]*v1.WorkUnit, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	var rows []workUnitRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+workUnitColumns+` FROM work_units
		WHERE status = 'READY'
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	units := make([]*v1.WorkUnit, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toUnit()
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (s *SQLiteStore) AttentionQueue(ctx context.Context) ([]*v1.AttentionItem, error) {
	all, err := s.ListWorkUnits(ctx, "")
	if err != nil {
		return nil, err
	}
	return buildAttentionQueue(all, time.Now().UTC()), nil
}

func (s *SQLiteStore) History(ctx context.Context, chunk string) ([]*v1.StatusTransition, error) {
	type historyRow struct {
		Chunk     string    `db:"chunk"`
		OldStatus string    `db:"old_status"`
		NewStatus string    `db:"new_status"`
		At        time.Time `db:"at"`
	}
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT chunk, old_status, new_status, at FROM status_history
		WHERE chunk = ? ORDER BY at ASC, id ASC
	`, chunk)
	if err != nil {
		return nil, err
	}
	out := make([]*v1.StatusTransition, 0, len(rows))
	for _, r := range rows {
		out = append(out, &v1.StatusTransition{
			Chunk:     r.Chunk,
			OldStatus: v1.UnitStatus(r.OldStatus),
			NewStatus: v1.UnitStatus(r.NewStatus),
			At:        r.At.UTC(),
		})
	}
	return out, nil
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[v1.UnitStatus]int, error) {
	type countRow struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var rows []countRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM work_units GROUP BY status`)
	if err != nil {
		return nil, err
	}
	counts := make(map[v1.UnitStatus]int, len(rows))
	for _, r := range rows {
		counts[v1.UnitStatus(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *SQLiteStore) SaveConflict(ctx context.Context, c *v1.ConflictAnalysis) error {
	if !v1.ValidVerdict(c.Verdict) {
		return fmt.Errorf("invalid verdict %q", c.Verdict)
	}
	a, b := CanonicalPair(c.ChunkA, c.ChunkB)
	c.ChunkA, c.ChunkB = a, b
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (chunk_a, chunk_b, verdict, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chunk_a, chunk_b) DO UPDATE SET
			verdict = excluded.verdict, reason = excluded.reason, created_at = excluded.created_at
	`, a, b, string(c.Verdict), c.Reason, c.CreatedAt)
	if err != nil {
		return err
	}

	s.n.publish(ctx, events.ConflictAnalyzed, map[string]interface{}{
		"chunk_a": a,
		"chunk_b": b,
		"verdict": string(c.Verdict),
	})
	return nil
}

type conflictRow struct {
	ChunkA    string    `db:"chunk_a"`
	ChunkB    string    `db:"chunk_b"`
	Verdict   string    `db:"verdict"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *conflictRow) toAnalysis() *v1.ConflictAnalysis {
	return &v1.ConflictAnalysis{
		ChunkA:    r.ChunkA,
		ChunkB:    r.ChunkB,
		Verdict:   v1.Verdict(r.Verdict),
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *SQLiteStore) GetConflict(ctx context.Context, chunkA, chunkB string) (*v1.ConflictAnalysis, error) {
	a, b := CanonicalPair(chunkA, chunkB)
	var row conflictRow
	err := s.db.GetContext(ctx, &row,
		`SELECT chunk_a, chunk_b, verdict, reason, created_at FROM conflicts WHERE chunk_a = ? AND chunk_b = ?`,
		a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict (%s, %s)", ErrNotFound, a, b)
	}
	if err != nil {
		return nil, err
	}
	return row.toAnalysis(), nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, verdict v1.Verdict) ([]*v1.ConflictAnalysis, error) {
	query := `SELECT chunk_a, chunk_b, verdict, reason, created_at FROM conflicts ORDER BY chunk_a, chunk_b`
	args := []interface{}{}
	if verdict != "" {
		query = `SELECT chunk_a, chunk_b, verdict, reason, created_at FROM conflicts WHERE verdict = ? ORDER BY chunk_a, chunk_b`
		args = append(args, string(verdict))
	}
	var rows []conflictRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*v1.ConflictAnalysis, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAnalysis())
	}
	return out, nil
}

func (s *SQLiteStore) ConflictsFor(ctx context.Context, chunk string) ([]*v1.ConflictAnalysis, error) {
	var rows []conflictRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT chunk_a, chunk_b, verdict, reason, created_at FROM conflicts
		WHERE chunk_a = ? OR chunk_b = ? ORDER BY chunk_a, chunk_b
	`, chunk, chunk)
	if err != nil {
		return nil, err
	}
	out := make([]*v1.ConflictAnalysis, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAnalysis())
	}
	return out, nil
}

func (s *SQLiteStore) ClearConflictsFor(ctx context.Context, chunk string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conflicts WHERE chunk_a = ? OR chunk_b = ?`, chunk, chunk)
	return err
}

// Config keys.
const (
	configMaxAgents            = "max_agents"
	configDispatchInterval     = "dispatch_interval"
	configMaxCompletionRetries = "max_completion_retries"
	configBaseBranch           = "base_branch"
)

func (s *SQLiteStore) LoadConfig(ctx context.Context) (*v1.OrchestratorConfig, error) {
	type kvRow struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	var rows []kvRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM config`); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: config", ErrNotFound)
	}

	cfg := &v1.OrchestratorConfig{}
	for _, r := range rows {
		switch r.Key {
		case configMaxAgents:
			cfg.MaxAgents, _ = strconv.Atoi(r.Value)
		case configDispatchInterval:
			cfg.DispatchInterval, _ = strconv.ParseFloat(r.Value, 64)
		case configMaxCompletionRetries:
			cfg.MaxCompletionRetries, _ = strconv.Atoi(r.Value)
		case configBaseBranch:
			cfg.BaseBranch = r.Value
		}
	}
	return cfg, nil
}

func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *v1.OrchestratorConfig) error {
	if cfg.MaxAgents < 1 {
		return fmt.Errorf("max_agents must be >= 1")
	}
	if cfg.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch_interval must be > 0")
	}
	if cfg.MaxCompletionRetries < 0 {
		return fmt.Errorf("max_completion_retries must be >= 0")
	}
	if cfg.BaseBranch == "" {
		return fmt.Errorf("base_branch must not be empty")
	}

	pairs := map[string]string{
		configMaxAgents:            strconv.Itoa(cfg.MaxAgents),
		configDispatchInterval:     strconv.FormatFloat(cfg.DispatchInterval, 'f', -1, 64),
		configMaxCompletionRetries: strconv.Itoa(cfg.MaxCompletionRetries),
		configBaseBranch:           cfg.BaseBranch,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for key, value := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) EnsureConfig(ctx context.Context, defaults *v1.OrchestratorConfig) (*v1.OrchestratorConfig, error) {
	cfg, err := s.LoadConfig(ctx)
	if errors.Is(err, ErrNotFound) {
		cfg = &v1.OrchestratorConfig{}
	} else if err != nil {
		return nil, err
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = defaults.MaxAgents
	}
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = defaults.DispatchInterval
	}
	if cfg.MaxCompletionRetries == 0 && defaults.MaxCompletionRetries != 0 {
		cfg.MaxCompletionRetries = defaults.MaxCompletionRetries
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = defaults.BaseBranch
	}
	if err := s.SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildAttentionQueue enriches NEEDS_ATTENTION units with blocks_count and
// time_waiting and applies the triage ordering. Shared with the memory store.
func buildAttentionQueue(all []*v1.WorkUnit, now time.Time) []*v1.AttentionItem {
	blocksCount := make(map[string]int)
	for _, u := range all {
		for _, b := range u.BlockedBy {
			blocksCount[b]++
		}
	}

	var items []*v1.AttentionItem
	for _, u := range all {
		if u.Status != v1.StatusNeedsAttention {
			continue
		}
		items = append(items, &v1.AttentionItem{
			Chunk:       u.Chunk,
			Phase:       u.Phase,
			Reason:      u.AttentionReason,
			SessionID:   u.SessionID,
			BlocksCount: blocksCount[u.Chunk],
			TimeWaiting: now.Sub(u.UpdatedAt).Seconds(),
			UpdatedAt:   u.UpdatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].BlocksCount != items[j].BlocksCount {
			return items[i].BlocksCount > items[j].BlocksCount
		}
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	return items
}
