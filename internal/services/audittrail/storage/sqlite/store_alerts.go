package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/audittrail/internal/services/audittrail/storage"
)

// AppendAlertEvent records an operator action on a surfaced break.
func (s *Store) AppendAlertEvent(ctx context.Context, evt storage.AlertEvent) (storage.AlertEvent, error) {
	if err := s.ready(ctx); err != nil {
		return storage.AlertEvent{}, err
	}
	evt.RunID = strings.TrimSpace(evt.RunID)
	evt.Actor = strings.TrimSpace(evt.Actor)
	evt.Note = strings.TrimSpace(evt.Note)
	if evt.RunID == "" {
		return storage.AlertEvent{}, fmt.Errorf("run id is required")
	}
	switch evt.Action {
	case storage.AlertAcknowledged, storage.AlertCleared:
	default:
		return storage.AlertEvent{}, fmt.Errorf("alert action %q is invalid", evt.Action)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.nowUTC()
	}

	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO alert_acknowledgements (run_id, action, actor, note, created_at)
VALUES (?, ?, ?, ?, ?)
`, evt.RunID, string(evt.Action), evt.Actor, evt.Note, toMillis(evt.CreatedAt))
	if err != nil {
		return storage.AlertEvent{}, fmt.Errorf("append alert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storage.AlertEvent{}, fmt.Errorf("read alert event id: %w", err)
	}
	evt.ID = id
	evt.CreatedAt = fromMillis(toMillis(evt.CreatedAt))
	return evt, nil
}

// LatestAlertEvents returns the newest alert event per run id.
func (s *Store) LatestAlertEvents(ctx context.Context, runIDs []string) (map[string]storage.AlertEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]storage.AlertEvent, len(runIDs))
	if len(runIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(runIDs))
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, run_id, action, actor, note, created_at FROM alert_acknowledgements
WHERE id IN (
	SELECT MAX(id) FROM alert_acknowledgements
	WHERE run_id IN (`+strings.Join(placeholders, ", ")+`)
	GROUP BY run_id
)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			evt       storage.AlertEvent
			action    string
			createdAt int64
		)
		if err := rows.Scan(&evt.ID, &evt.RunID, &action, &evt.Actor, &evt.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		evt.Action = storage.AlertAction(action)
		evt.CreatedAt = fromMillis(createdAt)
		out[evt.RunID] = evt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert events: %w", err)
	}
	return out, nil
}
