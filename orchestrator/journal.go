package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"xdao.co/routeplane/model"
)

const journalBusyTimeoutMs = 5000

// Journal persists plans and their latest per-network results in SQLite so
// an interrupted deployment can be resumed.
type Journal struct {
	db *sql.DB
}

// PlanSummary is one journaled plan and its last known status.
type PlanSummary struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	Epoch     uint64    `json:"epoch"`
	Root      string    `json:"root"`
	Status    Status    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OpenJournal opens (creating if needed) the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("journal: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.Clean(abs))
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", journalBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set busy timeout: %w", err)
	}
	j := &Journal{db: db}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			root TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			body BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			plan_id TEXT NOT NULL REFERENCES plans(id),
			position INTEGER NOT NULL,
			network TEXT NOT NULL,
			state TEXT NOT NULL,
			body BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (plan_id, network)
		)`,
	}
	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return fmt.Errorf("journal: create schema: %w", err)
		}
	}
	return nil
}

// SavePlan records p. Saving the same plan again is a no-op.
func (j *Journal) SavePlan(ctx context.Context, p *Plan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("journal: encode plan: %w", err)
	}
	now := time.Now().UTC().UnixMilli()
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO plans (id, version, epoch, root, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Version, int64(p.Epoch), p.Root.String(), body, p.CreatedAt.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("journal: save plan %s: %w", p.ID, err)
	}
	return nil
}

// LoadPlan returns plan id. A missing plan is an UnknownPlan state error.
func (j *Journal) LoadPlan(ctx context.Context, id string) (*Plan, error) {
	var body []byte
	err := j.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Errorf(model.CodeUnknownPlan, "no journaled plan %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load plan %s: %w", id, err)
	}
	var p Plan
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("journal: decode plan %s: %w", id, err)
	}
	return &p, nil
}

// SaveReport replaces the journaled results of r's plan with r's.
func (j *Journal) SaveReport(ctx context.Context, r *Report) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`, string(r.Status), now, r.PlanID)
	if err != nil {
		return fmt.Errorf("journal: update plan %s: %w", r.PlanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errorf(model.CodeUnknownPlan, "no journaled plan %q", r.PlanID)
	}
	for i, nr := range r.Results {
		body, err := json.Marshal(nr)
		if err != nil {
			return fmt.Errorf("journal: encode result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (plan_id, position, network, state, body, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(plan_id, network) DO UPDATE SET
			   position = excluded.position,
			   state = excluded.state,
			   body = excluded.body,
			   updated_at = excluded.updated_at`,
			r.PlanID, i, nr.Network, string(nr.State), body, now)
		if err != nil {
			return fmt.Errorf("journal: save result %s/%s: %w", r.PlanID, nr.Network, err)
		}
	}
	return tx.Commit()
}

// LoadReport returns the last journaled report for plan id. The report's
// timestamps are not journaled and are left zero.
func (j *Journal) LoadReport(ctx context.Context, id string) (*Report, error) {
	var status string
	err := j.db.QueryRowContext(ctx, `SELECT status FROM plans WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Errorf(model.CodeUnknownPlan, "no journaled plan %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load plan %s: %w", id, err)
	}
	rows, err := j.db.QueryContext(ctx, `SELECT body FROM results WHERE plan_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("journal: load results %s: %w", id, err)
	}
	defer rows.Close()

	r := &Report{PlanID: id, Status: Status(status)}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("journal: scan result: %w", err)
		}
		var nr NetworkResult
		if err := json.Unmarshal(body, &nr); err != nil {
			return nil, fmt.Errorf("journal: decode result: %w", err)
		}
		r.Results = append(r.Results, nr)
	}
	return r, rows.Err()
}

// Plans lists journaled plans, newest first.
func (j *Journal) Plans(ctx context.Context) ([]PlanSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, version, epoch, root, status, created_at, updated_at FROM plans ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("journal: list plans: %w", err)
	}
	defer rows.Close()

	var out []PlanSummary
	for rows.Next() {
		var (
			s                PlanSummary
			status           string
			epoch            int64
			created, updated int64
		)
		if err := rows.Scan(&s.ID, &s.Version, &epoch, &s.Root, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("journal: scan plan: %w", err)
		}
		s.Epoch = uint64(epoch)
		s.Status = Status(status)
		s.CreatedAt = time.UnixMilli(created).UTC()
		s.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
