// Package sqlite is the durable store.Store implementation: a pure-Go
// (modernc.org/sqlite, no cgo) backend with a hand-rolled migration runner
// adapted from the teacher's pkg/store/sqlite/migrate package.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/store"
	"github.com/bryannaegele/maestro/pkg/store/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Option configures a Store.
type Option func(*options)

type options struct {
	dsn string
}

// WithDSN sets the sqlite data source name, e.g. "file:/var/lib/maestro/events.db?_pragma=busy_timeout(5000)".
// Defaults to an in-memory database shared across the process.
func WithDSN(dsn string) Option {
	return func(o *options) { o.dsn = dsn }
}

// New opens (creating if necessary) a SQLite store and runs pending
// migrations.
func New(opts ...Option) (*Store, error) {
	o := &options{dsn: "file::memory:?cache=shared"}
	for _, opt := range opts {
		opt(o)
	}

	db, err := sql.Open("sqlite", o.dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn.

	m := migrate.New(db, "schema_migrations")
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: load migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying connection, e.g. for an observability exporter
// that shares the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Append implements store.Store.
func (s *Store) Append(ctx context.Context, req store.AppendRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreUnavailable(err)
	}
	defer tx.Rollback()

	if req.CommandID != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM command_results WHERE command_id = ?`, req.CommandID).Scan(&exists)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return domain.StoreUnavailable(err)
		}
	}

	var current uint64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`, req.AggregateID).Scan(&current)
	if err != nil {
		return domain.StoreUnavailable(err)
	}
	if current != req.ExpectedSequence {
		return domain.ErrConflict
	}

	for _, evt := range req.Events {
		for _, uc := range evt.UniqueConstraints {
			if err := applyConstraint(ctx, tx, req.AggregateID, uc); err != nil {
				return err
			}
		}

		data, err := proto.Marshal(evt.Data)
		if err != nil {
			return domain.InvalidCommand(fmt.Sprintf("marshal event data: %v", err))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (aggregate_id, sequence, event_id, type, data,
				timestamp_physical, timestamp_logical, timestamp_node,
				correlation_id, causation_id, principal_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.AggregateID, evt.Sequence, evt.ID, evt.Type, data,
			evt.Timestamp.Physical, evt.Timestamp.Logical, evt.Timestamp.Node,
			evt.Metadata.CorrelationID, evt.Metadata.CausationID, evt.Metadata.PrincipalID,
		)
		if err != nil {
			return domain.StoreUnavailable(err)
		}
	}

	for _, handler := range req.Projections {
		if err := handler(ctx, req.Events); err != nil {
			return fmt.Errorf("sqlite store: projection failed: %w", err)
		}
	}

	if req.CommandID != "" {
		sequences := make([]string, len(req.Events))
		for i, evt := range req.Events {
			sequences[i] = strconv.FormatUint(evt.Sequence, 10)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO command_results (command_id, aggregate_id, sequences, processed_at)
			VALUES (?, ?, ?, ?)`,
			req.CommandID, req.AggregateID, strings.Join(sequences, ","), nowUnixMilli())
		if err != nil {
			return domain.StoreUnavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StoreUnavailable(err)
	}
	return nil
}

func applyConstraint(ctx context.Context, tx *sql.Tx, aggregateID string, uc domain.UniqueConstraint) error {
	switch uc.Operation {
	case domain.ConstraintClaim:
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT aggregate_id FROM unique_constraints WHERE index_name = ? AND value = ?`, uc.IndexName, uc.Value).Scan(&owner)
		switch {
		case err == nil && owner != aggregateID:
			return fmt.Errorf("sqlite store: constraint %s=%q already claimed by %s", uc.IndexName, uc.Value, owner)
		case err == nil:
			return nil
		case err != sql.ErrNoRows:
			return domain.StoreUnavailable(err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO unique_constraints (index_name, value, aggregate_id) VALUES (?, ?, ?)`, uc.IndexName, uc.Value, aggregateID)
		if err != nil {
			return domain.StoreUnavailable(err)
		}
	case domain.ConstraintRelease:
		_, err := tx.ExecContext(ctx, `DELETE FROM unique_constraints WHERE index_name = ? AND value = ? AND aggregate_id = ?`, uc.IndexName, uc.Value, aggregateID)
		if err != nil {
			return domain.StoreUnavailable(err)
		}
	}
	return nil
}

// GetEvents implements store.Store.
func (s *Store) GetEvents(ctx context.Context, aggregateID string, afterSeq, maxSeq uint64) ([]domain.Event, error) {
	query := `
		SELECT sequence, event_id, type, data, timestamp_physical, timestamp_logical, timestamp_node,
			correlation_id, causation_id, principal_id
		FROM events WHERE aggregate_id = ? AND sequence > ?`
	args := []any{aggregateID, afterSeq}
	if maxSeq != 0 {
		query += ` AND sequence <= ?`
		args = append(args, maxSeq)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StoreUnavailable(err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var evt domain.Event
		var data []byte
		evt.AggregateID = aggregateID
		if err := rows.Scan(&evt.Sequence, &evt.ID, &evt.Type, &data,
			&evt.Timestamp.Physical, &evt.Timestamp.Logical, &evt.Timestamp.Node,
			&evt.Metadata.CorrelationID, &evt.Metadata.CausationID, &evt.Metadata.PrincipalID); err != nil {
			return nil, domain.StoreUnavailable(err)
		}
		body := &structpb.Struct{}
		if len(data) > 0 {
			if err := proto.Unmarshal(data, body); err != nil {
				return nil, domain.StoreUnavailable(err)
			}
		}
		evt.Data = body
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreUnavailable(err)
	}
	return events, nil
}

// GetSnapshot implements store.Store.
func (s *Store) GetSnapshot(ctx context.Context, aggregateID string, minSeq, maxSeq uint64) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var body []byte
	snap.AggregateID = aggregateID

	err := s.db.QueryRowContext(ctx, `SELECT sequence, body FROM snapshots WHERE aggregate_id = ?`, aggregateID).Scan(&snap.Sequence, &body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreUnavailable(err)
	}
	if snap.Sequence < minSeq || (maxSeq != 0 && snap.Sequence > maxSeq) {
		return nil, nil
	}

	snapBody := &structpb.Struct{}
	if len(body) > 0 {
		if err := proto.Unmarshal(body, snapBody); err != nil {
			return nil, domain.StoreUnavailable(err)
		}
	}
	snap.Body = snapBody
	return &snap, nil
}

// CommitSnapshot implements store.Store.
func (s *Store) CommitSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := proto.Marshal(snap.Body)
	if err != nil {
		return domain.InvalidCommand(fmt.Sprintf("marshal snapshot body: %v", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, sequence, body) VALUES (?, ?, ?)
		ON CONFLICT(aggregate_id) DO UPDATE SET sequence = excluded.sequence, body = excluded.body
		WHERE excluded.sequence > snapshots.sequence`,
		snap.AggregateID, snap.Sequence, data)
	if err != nil {
		return domain.StoreUnavailable(err)
	}
	return nil
}

// MaxSequence implements store.Store.
func (s *Store) MaxSequence(ctx context.Context, aggregateID string) (uint64, error) {
	var max uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&max)
	if err != nil {
		return 0, domain.StoreUnavailable(err)
	}
	return max, nil
}

// CommandResult implements store.Store.
func (s *Store) CommandResult(ctx context.Context, commandID string) (*domain.CommandResult, error) {
	var aggregateID, sequences string
	var processedAtMs int64
	err := s.db.QueryRowContext(ctx, `SELECT aggregate_id, sequences, processed_at FROM command_results WHERE command_id = ?`, commandID).
		Scan(&aggregateID, &sequences, &processedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreUnavailable(err)
	}

	var events []domain.Event
	for _, seqStr := range strings.Split(sequences, ",") {
		seq, convErr := strconv.ParseUint(seqStr, 10, 64)
		if convErr != nil {
			continue
		}
		matched, err := s.GetEvents(ctx, aggregateID, seq-1, seq)
		if err != nil {
			return nil, err
		}
		events = append(events, matched...)
	}

	return &domain.CommandResult{
		CommandID:        commandID,
		Events:           events,
		AlreadyProcessed: true,
		ProcessedAt:      unixMilliToTime(processedAtMs),
	}, nil
}

var _ store.Store = (*Store)(nil)
