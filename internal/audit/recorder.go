package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB adalah subset pgxpool.Pool yang dibutuhkan Recorder.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Recorder menulis dan membaca audit_logs.
type Recorder struct {
	db DB
}

// NewRecorder membuat Recorder baru.
func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

// Record mempersistenkan satu entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit recorder not initialised")
	}
	if entry.Event == "" || entry.Category == "" {
		return errors.New("audit entry requires event/category")
	}
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	at := entry.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, `INSERT INTO audit_logs (event, category, actor_id, details, occurred_at) VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		entry.Event, entry.Category, entry.ActorID, detailsJSON, at)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ListEntries mengambil entry sesuai filter, terbaru lebih dulu.
func (r *Recorder) ListEntries(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < $%d", filters.To)
	}
	if v := strings.TrimSpace(filters.Actor); v != "" {
		add("actor_id = $%d", v)
	}
	if v := strings.TrimSpace(filters.Event); v != "" {
		add("event = $%d", v)
	}
	if v := strings.TrimSpace(filters.Category); v != "" {
		add("category = $%d", v)
	}
	query := `SELECT event, category, COALESCE(actor_id, ''), details, occurred_at FROM audit_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, offset, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC OFFSET $%d LIMIT $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry   Entry
			details []byte
		)
		if err := rows.Scan(&entry.Event, &entry.Category, &entry.ActorID, &details, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Purge menghapus entry yang lebih tua dari before.
func (r *Recorder) Purge(ctx context.Context, before time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit recorder not initialised")
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
