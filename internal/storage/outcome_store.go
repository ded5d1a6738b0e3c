// Package storage provides persistence for MarketPilot.
package storage

import (
	"database/sql"

	"github.com/marketpilot/marketpilot/internal/core"
)

// OutcomeStore persists execution outcome records, the feed for the
// profile learning updater.
type OutcomeStore struct {
	db *DB
}

// NewOutcomeStore creates a new outcome store
func NewOutcomeStore(db *DB) *OutcomeStore {
	return &OutcomeStore{db: db}
}

// Record persists the outcome of an execution attempt. One row per action:
// a retry after a failed attempt replaces the failure with the final result.
func (s *OutcomeStore) Record(o *core.OutcomeRecord) error {
	_, err := s.db.conn.Exec(`
		INSERT INTO outcomes (action_id, client_id, executed_at, success, result_summary)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
		    executed_at = excluded.executed_at,
		    success = excluded.success,
		    result_summary = excluded.result_summary
	`, o.ActionID, o.ClientID, o.ExecutedAt, o.Success, o.ResultSummary)
	return err
}

// GetByAction returns the outcome for an action, if recorded.
func (s *OutcomeStore) GetByAction(id core.ActionID) (*core.OutcomeRecord, error) {
	o := &core.OutcomeRecord{}
	var summary sql.NullString

	err := s.db.conn.QueryRow(`
		SELECT action_id, client_id, executed_at, success, result_summary
		FROM outcomes WHERE action_id = ?
	`, id).Scan(&o.ActionID, &o.ClientID, &o.ExecutedAt, &o.Success, &summary)

	if err == sql.ErrNoRows {
		return nil, core.ErrActionNotFound
	}
	if err != nil {
		return nil, err
	}

	o.ResultSummary = summary.String
	return o, nil
}

// ListByClient returns a client's outcomes, newest first.
func (s *OutcomeStore) ListByClient(clientID core.ClientID, limit int) ([]core.OutcomeRecord, error) {
	rows, err := s.db.conn.Query(`
		SELECT action_id, client_id, executed_at, success, result_summary
		FROM outcomes WHERE client_id = ?
		ORDER BY executed_at DESC LIMIT ?
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []core.OutcomeRecord
	for rows.Next() {
		var o core.OutcomeRecord
		var summary sql.NullString
		if err := rows.Scan(&o.ActionID, &o.ClientID, &o.ExecutedAt, &o.Success, &summary); err != nil {
			return nil, err
		}
		o.ResultSummary = summary.String
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
