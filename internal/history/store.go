package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// QuotaPoint is a single historical quota reading for one account.
type QuotaPoint struct {
	Timestamp     time.Time
	Tier          string
	ClaudePercent sql.NullFloat64
	GeminiPercent sql.NullFloat64
}

// Transition is a recorded account status change.
type Transition struct {
	Timestamp time.Time
	Email     string
	From      models.Status
	To        models.Status
}

// AppendQuota records a quota snapshot for an account. Family percentages
// are nullable so readings with a missing family stay distinguishable
// from zero.
func (db *DB) AppendQuota(ctx context.Context, rec *models.QuotaRecord) error {
	var claude, gemini sql.NullFloat64
	if rec.Claude.Present {
		claude = sql.NullFloat64{Float64: rec.Claude.RemainingPercent, Valid: true}
	}
	if rec.Gemini.Present {
		gemini = sql.NullFloat64{Float64: rec.Gemini.RemainingPercent, Valid: true}
	}

	var fetchErr sql.NullString
	if rec.FetchError != "" {
		fetchErr = sql.NullString{String: rec.FetchError, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO quota_snapshots (email, claude_percent, gemini_percent, tier, fetch_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Email, claude, gemini, rec.Tier, fetchErr, rec.FetchedAt.UTC())
	return err
}

// AppendTransition records a status change for an account.
func (db *DB) AppendTransition(ctx context.Context, email string, from, to models.Status, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO status_transitions (email, from_status, to_status, timestamp)
		VALUES (?, ?, ?, ?)`,
		email, string(from), string(to), at.UTC())
	return err
}

// QuotaSeries returns quota readings for an account since the given time,
// oldest first.
func (db *DB) QuotaSeries(ctx context.Context, email string, since time.Time) ([]QuotaPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT claude_percent, gemini_percent, tier, timestamp
		FROM quota_snapshots
		WHERE email = ? AND timestamp >= ? AND fetch_error IS NULL
		ORDER BY timestamp ASC`,
		email, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []QuotaPoint
	for rows.Next() {
		var p QuotaPoint
		if err := rows.Scan(&p.ClaudePercent, &p.GeminiPercent, &p.Tier, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Transitions returns status changes across all accounts since the given
// time, newest first, capped at limit.
func (db *DB) Transitions(ctx context.Context, since time.Time, limit int) ([]Transition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT email, from_status, to_status, timestamp
		FROM status_transitions
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		if err := rows.Scan(&t.Email, &from, &to, &t.Timestamp); err != nil {
			return nil, err
		}
		t.From = models.Status(from)
		t.To = models.Status(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Emails returns the distinct account emails that have quota history.
func (db *DB) Emails(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT email FROM quota_snapshots ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// Prune deletes history rows older than the cutoff.
func (db *DB) Prune(ctx context.Context, cutoff time.Time) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM quota_snapshots WHERE timestamp < ?`, cutoff.UTC()); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `DELETE FROM status_transitions WHERE timestamp < ?`, cutoff.UTC())
	return err
}
