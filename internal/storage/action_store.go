// Package storage provides persistence for MarketPilot.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
)

// ActionStore handles action persistence. Status changes go through guarded
// updates so an action is never left half-mutated by a losing writer.
type ActionStore struct {
	db *DB
}

// NewActionStore creates a new action store
func NewActionStore(db *DB) *ActionStore {
	return &ActionStore{db: db}
}

// Create persists a freshly classified action.
func (s *ActionStore) Create(a *core.Action) error {
	evidence, err := json.Marshal(a.DataEvidence)
	if err != nil {
		return fmt.Errorf("marshal data evidence: %w", err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO actions (
		    id, client_id, campaign_id, action_type, confidence, risk_level,
		    priority, expected_impact, impact_level, reasoning, data_evidence,
		    requires_human_approval, requires_expert, status, held_from,
		    created_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.ClientID, a.CampaignID, a.ActionType, a.Confidence, a.RiskLevel,
		a.Priority, a.ExpectedImpact, a.ImpactLevel, a.Reasoning, string(evidence),
		a.RequiresHumanApproval, a.RequiresExpert, a.Status, nullString(string(a.HeldFrom)),
		a.CreatedAt, a.ExecutedAt,
	)

	return err
}

// GetByID returns an action by ID
func (s *ActionStore) GetByID(id core.ActionID) (*core.Action, error) {
	return scanAction(s.db.conn.QueryRow(selectAction+" WHERE id = ?", id))
}

// ListByStatus returns actions in a given status, newest first.
func (s *ActionStore) ListByStatus(status core.ActionStatus, limit int) ([]core.Action, error) {
	rows, err := s.db.conn.Query(selectAction+" WHERE status = ? ORDER BY created_at DESC LIMIT ?", status, limit)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

// ListByClient returns a client's actions, newest first.
func (s *ActionStore) ListByClient(clientID core.ClientID, limit int) ([]core.Action, error) {
	rows, err := s.db.conn.Query(selectAction+" WHERE client_id = ? ORDER BY created_at DESC LIMIT ?", clientID, limit)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

// UpdateGuarded writes the full action row, but only if the stored status
// still equals expect. A guard miss on an existing action means a concurrent
// writer got there first; nothing is written.
func (s *ActionStore) UpdateGuarded(a *core.Action, expect core.ActionStatus) error {
	evidence, err := json.Marshal(a.DataEvidence)
	if err != nil {
		return fmt.Errorf("marshal data evidence: %w", err)
	}

	res, err := s.db.conn.Exec(`
		UPDATE actions SET
		    confidence = ?, risk_level = ?, priority = ?, expected_impact = ?,
		    reasoning = ?, data_evidence = ?,
		    requires_human_approval = ?, requires_expert = ?,
		    status = ?, held_from = ?, executed_at = ?
		WHERE id = ? AND status = ?
	`,
		a.Confidence, a.RiskLevel, a.Priority, a.ExpectedImpact,
		a.Reasoning, string(evidence),
		a.RequiresHumanApproval, a.RequiresExpert,
		a.Status, nullString(string(a.HeldFrom)), a.ExecutedAt,
		a.ID, expect,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(a.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: action %s left status %s", core.ErrInvalidTransition, a.ID, expect)
	}

	return nil
}

// TryMarkExecuting acquires the per-action execution lock by swapping an
// approved or proposed action into executing. Returns the pre-lock status so
// a failed execution can restore it. The compare-and-set is what makes
// execution at-most-once.
func (s *ActionStore) TryMarkExecuting(id core.ActionID) (core.ActionStatus, error) {
	var prev core.ActionStatus

	err := s.db.Transaction(func(tx *sql.Tx) error {
		err := tx.QueryRow("SELECT status FROM actions WHERE id = ?", id).Scan(&prev)
		if err == sql.ErrNoRows {
			return core.ErrActionNotFound
		}
		if err != nil {
			return err
		}

		switch {
		case prev == core.StatusExecuting:
			return core.ErrAlreadyExecuting
		case prev.Terminal():
			return fmt.Errorf("%w: action %s is %s", core.ErrActionImmutable, id, prev)
		case prev != core.StatusApproved && prev != core.StatusProposed:
			return fmt.Errorf("%w: cannot execute from %s", core.ErrInvalidTransition, prev)
		}

		res, err := tx.Exec(
			"UPDATE actions SET status = ? WHERE id = ? AND status = ?",
			core.StatusExecuting, id, prev,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return core.ErrAlreadyExecuting
		}
		return nil
	})

	if err != nil {
		return "", err
	}
	return prev, nil
}

// FinishExecution moves an executing action to executed and stamps it.
func (s *ActionStore) FinishExecution(id core.ActionID, executedAt time.Time) error {
	res, err := s.db.conn.Exec(
		"UPDATE actions SET status = ?, executed_at = ? WHERE id = ? AND status = ?",
		core.StatusExecuted, executedAt, id, core.StatusExecuting,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: action %s is not executing", core.ErrInvalidTransition, id)
	}
	return nil
}

// RestoreStatus releases the execution lock after a failure, putting the
// action back into its pre-execution status so it can be retried or escalated.
func (s *ActionStore) RestoreStatus(id core.ActionID, prev core.ActionStatus) error {
	res, err := s.db.conn.Exec(
		"UPDATE actions SET status = ? WHERE id = ? AND status = ?",
		prev, id, core.StatusExecuting,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: action %s is not executing", core.ErrInvalidTransition, id)
	}
	return nil
}

// ApplyExpertVerdict writes the verdict's action update and the expert
// decision row in one transaction. At most one decision per action: if one
// is already recorded, the transaction rolls back and the action keeps its
// stored state. The status guard works like UpdateGuarded.
func (s *ActionStore) ApplyExpertVerdict(a *core.Action, expect core.ActionStatus, ed *core.ExpertDecision) error {
	evidence, err := json.Marshal(a.DataEvidence)
	if err != nil {
		return fmt.Errorf("marshal data evidence: %w", err)
	}
	var mods interface{}
	if ed.Modifications != nil {
		data, err := json.Marshal(ed.Modifications)
		if err != nil {
			return fmt.Errorf("marshal modifications: %w", err)
		}
		mods = string(data)
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRow("SELECT COUNT(*) FROM expert_decisions WHERE action_id = ?", ed.ActionID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return core.ErrExpertDecisionExists
		}

		res, err := tx.Exec(`
			UPDATE actions SET
			    confidence = ?, risk_level = ?, priority = ?, expected_impact = ?,
			    reasoning = ?, data_evidence = ?,
			    requires_human_approval = ?, requires_expert = ?,
			    status = ?, held_from = ?, executed_at = ?
			WHERE id = ? AND status = ?
		`,
			a.Confidence, a.RiskLevel, a.Priority, a.ExpectedImpact,
			a.Reasoning, string(evidence),
			a.RequiresHumanApproval, a.RequiresExpert,
			a.Status, nullString(string(a.HeldFrom)), a.ExecutedAt,
			a.ID, expect,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: action %s left status %s", core.ErrInvalidTransition, a.ID, expect)
		}

		_, err = tx.Exec(`
			INSERT INTO expert_decisions (action_id, expert_id, verdict, reasoning, modifications, decided_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ed.ActionID, ed.ExpertID, ed.Verdict, ed.Reasoning, mods, ed.DecidedAt)
		return err
	})
}

// GetExpertDecision returns the expert decision for an action, if any.
func (s *ActionStore) GetExpertDecision(id core.ActionID) (*core.ExpertDecision, error) {
	ed := &core.ExpertDecision{}
	var mods sql.NullString

	err := s.db.conn.QueryRow(`
		SELECT action_id, expert_id, verdict, reasoning, modifications, decided_at
		FROM expert_decisions WHERE action_id = ?
	`, id).Scan(&ed.ActionID, &ed.ExpertID, &ed.Verdict, &ed.Reasoning, &mods, &ed.DecidedAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}

	if mods.Valid {
		ed.Modifications = &core.ActionPatch{}
		if err := json.Unmarshal([]byte(mods.String), ed.Modifications); err != nil {
			return nil, fmt.Errorf("unmarshal modifications: %w", err)
		}
	}

	return ed, nil
}

// CountByStatus returns how many actions sit in each status.
func (s *ActionStore) CountByStatus() (map[core.ActionStatus]int, error) {
	rows, err := s.db.conn.Query("SELECT status, COUNT(*) FROM actions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[core.ActionStatus]int)
	for rows.Next() {
		var status core.ActionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- scanning helpers ---

const selectAction = `
	SELECT id, client_id, campaign_id, action_type, confidence, risk_level,
	       priority, expected_impact, impact_level, reasoning, data_evidence,
	       requires_human_approval, requires_expert, status, held_from,
	       created_at, executed_at
	FROM actions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*core.Action, error) {
	a := &core.Action{}
	var campaignID, reasoning, heldFrom sql.NullString
	var evidence string
	var executedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.ClientID, &campaignID, &a.ActionType, &a.Confidence, &a.RiskLevel,
		&a.Priority, &a.ExpectedImpact, &a.ImpactLevel, &reasoning, &evidence,
		&a.RequiresHumanApproval, &a.RequiresExpert, &a.Status, &heldFrom,
		&a.CreatedAt, &executedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}

	a.CampaignID = campaignID.String
	a.Reasoning = reasoning.String
	a.HeldFrom = core.ActionStatus(heldFrom.String)
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	if evidence != "" && evidence != "{}" {
		if err := json.Unmarshal([]byte(evidence), &a.DataEvidence); err != nil {
			return nil, fmt.Errorf("unmarshal data evidence: %w", err)
		}
	}

	return a, nil
}

func collectActions(rows *sql.Rows) ([]core.Action, error) {
	defer rows.Close()

	var actions []core.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
