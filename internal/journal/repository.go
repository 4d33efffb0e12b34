package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Session is one run of the engine, from Start to Stop.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Feeds      []string   `json:"feeds"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// LightEvent records one light command.
type LightEvent struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
	Brightness         int       `json:"brightness"`
	PreviousBrightness int       `json:"previous_brightness"`
	State              string    `json:"state"`
	Source             string    `json:"source"`
	PeopleCount        int       `json:"people_count"`
	Score              float64   `json:"score"`
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
}

// Filter controls which light events to return.
type Filter struct {
	SessionID string    // optional
	Source    string    // optional: auto, manual, legacy, stop
	Since     time.Time // optional: events at or after this instant
	Limit     int       // default 50, max 500
	Offset    int
}

// ListResult contains a page of light events.
type ListResult struct {
	Events []LightEvent `json:"events"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// Repository defines the journal operations.
type Repository interface {
	StartSession(ctx context.Context, feeds []string, at time.Time) (string, error)
	EndSession(ctx context.Context, id, reason string, at time.Time) error
	GetSession(ctx context.Context, id string) (*Session, error)
	RecordLightEvent(ctx context.Context, ev LightEvent) error
	ListLightEvents(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// StartSession opens a session and returns its ID.
func (r *SQLiteRepository) StartSession(ctx context.Context, feeds []string, at time.Time) (string, error) {
	id := "ses-" + uuid.NewString()[:8]

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, feeds) VALUES (?, ?, ?)`,
		id, formatTime(at), strings.Join(feeds, ","),
	)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// EndSession closes a session.
func (r *SQLiteRepository) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, stop_reason = ? WHERE id = ? AND ended_at IS NULL`,
		formatTime(at), nullableString(reason), id,
	)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports rows affected
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession returns a session by ID.
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	var startedAt, feeds string
	var endedAt, reason sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, feeds, stop_reason FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &startedAt, &endedAt, &feeds, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		s.EndedAt = &t
	}
	if reason.Valid {
		s.StopReason = reason.String
	}
	s.Feeds = []string{}
	if feeds != "" {
		s.Feeds = strings.Split(feeds, ",")
	}
	return &s, nil
}

// RecordLightEvent inserts an event. ID and OccurredAt are generated if
// empty.
func (r *SQLiteRepository) RecordLightEvent(ctx context.Context, ev LightEvent) error {
	if ev.ID == "" {
		ev.ID = "lev-" + uuid.NewString()[:8]
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO light_events
		   (id, session_id, occurred_at, brightness, previous_brightness, state, source, people_count, score, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, nullableString(ev.SessionID), formatTime(ev.OccurredAt),
		ev.Brightness, ev.PreviousBrightness, ev.State, ev.Source,
		ev.PeopleCount, ev.Score, boolToInt(ev.Success), nullableString(ev.Error),
	)
	if err != nil {
		return fmt.Errorf("inserting light event: %w", err)
	}
	return nil
}

// ListLightEvents returns events matching the filter, most recent first.
func (r *SQLiteRepository) ListLightEvents(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic WHERE assembly
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 { //nolint:mnd // max page size
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM light_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting light events: %w", err)
	}

	query := `SELECT id, session_id, occurred_at, brightness, previous_brightness, state, source,
	                 people_count, score, success, error
	          FROM light_events ` + where + ` ORDER BY occurred_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying light events: %w", err)
	}
	defer rows.Close()

	events := []LightEvent{}
	for rows.Next() {
		var ev LightEvent
		var sessionID, errText sql.NullString
		var occurredAt string
		var success int

		if err := rows.Scan(&ev.ID, &sessionID, &occurredAt, &ev.Brightness, &ev.PreviousBrightness,
			&ev.State, &ev.Source, &ev.PeopleCount, &ev.Score, &success, &errText); err != nil {
			return nil, fmt.Errorf("scanning light event: %w", err)
		}
		ev.SessionID = sessionID.String
		ev.Error = errText.String
		ev.Success = success != 0
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating light events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
