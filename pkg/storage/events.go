package storage

import (
	"context"
	"database/sql"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/domain/workflow"
)

const defaultEventLimit = 100

// AppendEvent writes one journal record and fills in its id. The journal is
// append-only; UPDATE and DELETE are rejected by triggers.
func AppendEvent(ctx context.Context, q Querier, ev *workflow.Event) error {
	if ev.Source == "" {
		ev.Source = "daemon"
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = workflow.UTCNow()
	}
	var runID any
	if ev.RunID != nil {
		runID = *ev.RunID
	}
	res, err := q.ExecContext(ctx, `
        INSERT INTO events (session_id, run_id, event_type, summary, payload_text, source, user_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, runID, ev.EventType, ev.Summary, ev.PayloadText,
		ev.Source, nullIfEmpty(ev.UserID), formatTime(ev.CreatedAt))
	if err != nil {
		return domainerrors.Internal("append event", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return domainerrors.Internal("event id", err)
	}
	return nil
}

// SearchEvents runs a full-text query over the session's journal. An empty
// query returns the most recent events. FTS syntax errors fall back to a
// LIKE scan so operator typos never surface as failures.
func SearchEvents(ctx context.Context, q Querier, sessionID, query string, limit int) ([]workflow.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if query == "" {
		rows, err := q.QueryContext(ctx, `
            SELECT id, session_id, run_id, event_type, summary, payload_text, source,
                   COALESCE(user_id, ''), created_at
            FROM events WHERE session_id = ?
            ORDER BY id DESC LIMIT ?`, sessionID, limit)
		if err != nil {
			return nil, domainerrors.Internal("list events", err)
		}
		return collectEvents(rows)
	}

	rows, err := q.QueryContext(ctx, `
        SELECT e.id, e.session_id, e.run_id, e.event_type, e.summary, e.payload_text, e.source,
               COALESCE(e.user_id, ''), e.created_at
        FROM events_fts f JOIN events e ON e.id = f.rowid
        WHERE e.session_id = ? AND events_fts MATCH ?
        ORDER BY e.id DESC LIMIT ?`, sessionID, query, limit)
	if err != nil {
		return searchEventsLike(ctx, q, sessionID, query, limit)
	}
	return collectEvents(rows)
}

func searchEventsLike(ctx context.Context, q Querier, sessionID, query string, limit int) ([]workflow.Event, error) {
	pattern := "%" + query + "%"
	rows, err := q.QueryContext(ctx, `
        SELECT id, session_id, run_id, event_type, summary, payload_text, source,
               COALESCE(user_id, ''), created_at
        FROM events
        WHERE session_id = ?
          AND (event_type LIKE ? OR summary LIKE ? OR payload_text LIKE ?)
        ORDER BY id DESC LIMIT ?`, sessionID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, domainerrors.Internal("search events", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]workflow.Event, error) {
	defer rows.Close()
	events := []workflow.Event{}
	for rows.Next() {
		var (
			ev        workflow.Event
			runID     sql.NullInt64
			createdAt string
		)
		err := rows.Scan(&ev.ID, &ev.SessionID, &runID, &ev.EventType, &ev.Summary,
			&ev.PayloadText, &ev.Source, &ev.UserID, &createdAt)
		if err != nil {
			return nil, domainerrors.Internal("scan event", err)
		}
		if runID.Valid {
			id := runID.Int64
			ev.RunID = &id
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, domainerrors.Internal("parse event created_at", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.Internal("iterate events", err)
	}
	return events, nil
}
