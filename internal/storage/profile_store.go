// Package storage provides persistence for MarketPilot.
package storage

import (
	"database/sql"
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
)

// ProfileStore handles autonomy profile persistence. Profiles are an
// append-only snapshot history: updates insert a new row with seq+1, reads
// of the "current" profile take the highest seq. Old snapshots are the
// audit trail for how a client's policy drifted.
type ProfileStore struct {
	db *DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Append inserts a new snapshot for the client, assigning the next seq.
func (s *ProfileStore) Append(p *core.AutonomyProfile) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		var last sql.NullInt64
		err := tx.QueryRow(
			"SELECT MAX(seq) FROM profile_snapshots WHERE client_id = ?",
			p.ClientID,
		).Scan(&last)
		if err != nil {
			return err
		}

		p.Seq = last.Int64 + 1
		if p.LastUpdated.IsZero() {
			p.LastUpdated = time.Now().UTC()
		}

		_, err = tx.Exec(`
			INSERT INTO profile_snapshots (
			    client_id, seq, preference_level, risk_tolerance,
			    learning_rate, outcome_count, last_updated
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ClientID, p.Seq, p.PreferenceLevel, p.RiskTolerance,
			p.LearningRate, p.OutcomeCount, p.LastUpdated)
		return err
	})
}

// Latest returns the current (highest-seq) profile snapshot for a client.
func (s *ProfileStore) Latest(clientID core.ClientID) (*core.AutonomyProfile, error) {
	p := &core.AutonomyProfile{}

	err := s.db.conn.QueryRow(`
		SELECT client_id, seq, preference_level, risk_tolerance,
		       learning_rate, outcome_count, last_updated
		FROM profile_snapshots WHERE client_id = ?
		ORDER BY seq DESC LIMIT 1
	`, clientID).Scan(
		&p.ClientID, &p.Seq, &p.PreferenceLevel, &p.RiskTolerance,
		&p.LearningRate, &p.OutcomeCount, &p.LastUpdated,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

// History returns snapshots for a client, newest first.
func (s *ProfileStore) History(clientID core.ClientID, limit int) ([]core.AutonomyProfile, error) {
	rows, err := s.db.conn.Query(`
		SELECT client_id, seq, preference_level, risk_tolerance,
		       learning_rate, outcome_count, last_updated
		FROM profile_snapshots WHERE client_id = ?
		ORDER BY seq DESC LIMIT ?
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []core.AutonomyProfile
	for rows.Next() {
		var p core.AutonomyProfile
		err := rows.Scan(
			&p.ClientID, &p.Seq, &p.PreferenceLevel, &p.RiskTolerance,
			&p.LearningRate, &p.OutcomeCount, &p.LastUpdated,
		)
		if err != nil {
			return nil, err
		}
		history = append(history, p)
	}

	return history, rows.Err()
}
