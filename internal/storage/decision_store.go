// Package storage provides persistence for MarketPilot.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
)

// DecisionStore handles decision persistence. Updates are optimistic: the
// write is guarded by the version counter, so two concurrent step
// completions cannot both land on the same base version.
type DecisionStore struct {
	db *DB
}

// NewDecisionStore creates a new decision store
func NewDecisionStore(db *DB) *DecisionStore {
	return &DecisionStore{db: db}
}

// Create persists a newly triggered decision.
func (s *DecisionStore) Create(d *core.Decision) error {
	steps, recs, next, err := marshalDecisionLists(d)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = s.db.conn.Exec(`
		INSERT INTO decisions (
		    id, client_id, title, decision_type, impact_level, guidance_level,
		    current_stage, risk_level, budget_impact, timeline,
		    steps, recommendations, next_steps,
		    version, archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, d.ClientID, d.Title, d.DecisionType, d.ImpactLevel, d.GuidanceLevel,
		d.CurrentStage, d.RiskLevel, d.BudgetImpact, d.Timeline,
		steps, recs, next,
		d.Version, d.Archived, d.CreatedAt, d.UpdatedAt,
	)

	return err
}

// GetByID returns a decision by ID
func (s *DecisionStore) GetByID(id core.DecisionID) (*core.Decision, error) {
	return scanDecision(s.db.conn.QueryRow(selectDecision+" WHERE id = ?", id))
}

// ListByClient returns a client's decisions, newest first.
func (s *DecisionStore) ListByClient(clientID core.ClientID, limit int) ([]core.Decision, error) {
	rows, err := s.db.conn.Query(selectDecision+" WHERE client_id = ? ORDER BY created_at DESC LIMIT ?", clientID, limit)
	if err != nil {
		return nil, err
	}
	return collectDecisions(rows)
}

// ListActive returns non-archived decisions, newest first.
func (s *DecisionStore) ListActive(limit int) ([]core.Decision, error) {
	rows, err := s.db.conn.Query(selectDecision+" WHERE archived = 0 ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	return collectDecisions(rows)
}

// Update writes the decision guarded by its version counter and bumps it.
// Returns core.ErrVersionConflict when another writer landed first.
func (s *DecisionStore) Update(d *core.Decision) error {
	steps, recs, next, err := marshalDecisionLists(d)
	if err != nil {
		return err
	}

	d.UpdatedAt = time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE decisions SET
		    current_stage = ?, steps = ?, recommendations = ?, next_steps = ?,
		    version = version + 1, archived = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		d.CurrentStage, steps, recs, next,
		d.Archived, d.UpdatedAt,
		d.ID, d.Version,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(d.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: decision %s at version %d", core.ErrVersionConflict, d.ID, d.Version)
	}

	d.Version++
	return nil
}

// --- scanning helpers ---

const selectDecision = `
	SELECT id, client_id, title, decision_type, impact_level, guidance_level,
	       current_stage, risk_level, budget_impact, timeline,
	       steps, recommendations, next_steps,
	       version, archived, created_at, updated_at
	FROM decisions`

func scanDecision(row rowScanner) (*core.Decision, error) {
	d := &core.Decision{}
	var budget sql.NullFloat64
	var timeline sql.NullString
	var steps, recs, next string

	err := row.Scan(
		&d.ID, &d.ClientID, &d.Title, &d.DecisionType, &d.ImpactLevel, &d.GuidanceLevel,
		&d.CurrentStage, &d.RiskLevel, &budget, &timeline,
		&steps, &recs, &next,
		&d.Version, &d.Archived, &d.CreatedAt, &d.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrDecisionNotFound
	}
	if err != nil {
		return nil, err
	}

	d.BudgetImpact = budget.Float64
	d.Timeline = timeline.String

	if err := json.Unmarshal([]byte(steps), &d.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal([]byte(recs), &d.Recommendations); err != nil {
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(next), &d.NextSteps); err != nil {
		return nil, fmt.Errorf("unmarshal next steps: %w", err)
	}

	d.RecomputeProgress()
	return d, nil
}

func collectDecisions(rows *sql.Rows) ([]core.Decision, error) {
	defer rows.Close()

	var decisions []core.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	return decisions, rows.Err()
}

func marshalDecisionLists(d *core.Decision) (steps, recs, next string, err error) {
	stepsData, err := json.Marshal(d.Steps)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal steps: %w", err)
	}

	if d.Recommendations == nil {
		d.Recommendations = []core.Option{}
	}
	recsData, err := json.Marshal(d.Recommendations)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal recommendations: %w", err)
	}

	if d.NextSteps == nil {
		d.NextSteps = []string{}
	}
	nextData, err := json.Marshal(d.NextSteps)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal next steps: %w", err)
	}

	return string(stepsData), string(recsData), string(nextData), nil
}
