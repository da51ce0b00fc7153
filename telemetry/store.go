package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// StoredEvent is one row of the append-only event table described in
// §4.I: indexed columns plus the full original event retained verbatim
// in Payload.
type StoredEvent struct {
	ID          int64
	Type        EventType
	TimestampMs int64
	NodeID      string
	Direction   string
	PeerID      string
	PacketID    string
	Amount      string
	Destination string
	Payload     Event
}

// QueryFilter selects a subset of stored events. Limit defaults to 50 and
// Offset to 0 when the zero value is passed via NewQueryFilter.
type QueryFilter struct {
	EventTypes []EventType
	Since      *time.Time
	Until      *time.Time
	PeerID     string
	PacketID   string
	Direction  string
	Limit      int
	Offset     int
}

const defaultQueryLimit = 50

// NewQueryFilter applies the §4.I defaults (limit 50, offset 0).
func NewQueryFilter() QueryFilter {
	return QueryFilter{Limit: defaultQueryLimit}
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	node_id TEXT NOT NULL,
	direction TEXT,
	peer_id TEXT,
	packet_id TEXT,
	amount TEXT,
	destination TEXT,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_peer ON events(peer_id);
CREATE INDEX IF NOT EXISTS idx_events_packet ON events(packet_id);
`

// SQLStore is the embedded-SQL-backed EventStore described in §4.I,
// implemented atop modernc.org/sqlite the way the teacher's channeldb
// package wraps an embedded store (bbolt there; sqlite here, since §4.I
// explicitly calls for indexed SQL query semantics).
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if necessary) the event store at path and
// runs its schema migration.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating event store schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func normalizeTimestampMs(e Event) int64 {
	if e.Timestamp.IsZero() {
		return time.Now().UnixMilli()
	}
	return e.Timestamp.UnixMilli()
}

// StoreEvent persists a single event and returns its row id.
func (s *SQLStore) StoreEvent(ctx context.Context, e Event) (int64, error) {
	ids, err := s.StoreEvents(ctx, []Event{e})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// StoreEvents persists a batch of events atomically, per §4.I.
func (s *SQLStore) StoreEvents(ctx context.Context, events []Event) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning event store transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
			(event_type, timestamp, node_id, direction, peer_id, packet_id, amount, destination, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		fields := extractIndexedFields(e)
		payload, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshaling event payload: %w", err)
		}

		res, err := stmt.ExecContext(ctx,
			string(e.Type), normalizeTimestampMs(e), e.NodeID,
			nullIfEmpty(fields.Direction), nullIfEmpty(fields.PeerID),
			nullIfEmpty(fields.PacketID), nullIfEmpty(fields.Amount),
			nullIfEmpty(fields.Destination), string(payload),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading inserted id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing event store transaction: %w", err)
	}
	return ids, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func buildWhere(f QueryFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if f.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.PeerID != "" {
		clauses = append(clauses, "peer_id = ?")
		args = append(args, f.PeerID)
	}
	if f.PacketID != "" {
		clauses = append(clauses, "packet_id = ?")
		args = append(args, f.PacketID)
	}
	if f.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, f.Direction)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// QueryEvents returns stored events matching filter, ordered by
// timestamp DESC, per §8 property 5.
func (s *SQLStore) QueryEvents(ctx context.Context, f QueryFilter) ([]StoredEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	where, args := buildWhere(f)
	query := fmt.Sprintf(`
		SELECT id, event_type, timestamp, node_id, direction, peer_id, packet_id, amount, destination, payload
		FROM events
		%s
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			row                                                  StoredEvent
			direction, peerID, packetID, amount, destination, pl sql.NullString
			eventType                                             string
		)
		if err := rows.Scan(&row.ID, &eventType, &row.TimestampMs, &row.NodeID,
			&direction, &peerID, &packetID, &amount, &destination, &pl); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		row.Type = EventType(eventType)
		row.Direction = direction.String
		row.PeerID = peerID.String
		row.PacketID = packetID.String
		row.Amount = amount.String
		row.Destination = destination.String
		if pl.Valid {
			if err := json.Unmarshal([]byte(pl.String), &row.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling stored payload: %w", err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountEvents returns the number of events matching filter, ignoring
// Limit/Offset. Per §8 property 5, this equals
// len(QueryEvents(filter, limit=∞)).
func (s *SQLStore) CountEvents(ctx context.Context, f QueryFilter) (int, error) {
	where, args := buildWhere(f)
	query := fmt.Sprintf("SELECT COUNT(*) FROM events %s", where)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}

// PruneByAge deletes rows older than maxAge, per §4.I retention.
func (s *SQLStore) PruneByAge(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	_, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("pruning by age: %w", err)
	}
	return nil
}

// PruneByCount retains only the newest maxCount rows.
func (s *SQLStore) PruneByCount(ctx context.Context, maxCount int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id NOT IN (
			SELECT id FROM events ORDER BY timestamp DESC LIMIT ?
		)
	`, maxCount)
	if err != nil {
		return fmt.Errorf("pruning by count: %w", err)
	}
	return nil
}

// RunRetentionPolicy runs both prune operations; the caller is
// responsible for scheduling it periodically (§4.I).
func (s *SQLStore) RunRetentionPolicy(ctx context.Context, maxAge time.Duration, maxCount int) error {
	if err := s.PruneByAge(ctx, maxAge); err != nil {
		return err
	}
	return s.PruneByCount(ctx, maxCount)
}
