// Package memory implements store.Store entirely in process memory, for
// tests and the property-style suites in pkg/aggregate. Conflict detection
// compares the caller's expected sequence against len(stream) — the same
// length-check the teacher's in-memory event store uses.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/bryannaegele/maestro/pkg/domain"
	"github.com/bryannaegele/maestro/pkg/store"
)

type constraintKey struct {
	index string
	value string
}

// Store is a goroutine-safe, in-memory store.Store.
type Store struct {
	mu             sync.Mutex
	streams        map[string][]domain.Event
	snapshots      map[string]domain.Snapshot
	commandResults map[string]domain.CommandResult
	constraints    map[constraintKey]string // claimed value -> owning aggregate ID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		streams:        make(map[string][]domain.Event),
		snapshots:      make(map[string]domain.Snapshot),
		commandResults: make(map[string]domain.CommandResult),
		constraints:    make(map[constraintKey]string),
	}
}

// Append implements store.Store.
func (s *Store) Append(ctx context.Context, req store.AppendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.CommandID != "" {
		if res, ok := s.commandResults[req.CommandID]; ok {
			_ = res
			return nil
		}
	}

	stream := s.streams[req.AggregateID]
	if uint64(len(stream)) != req.ExpectedSequence {
		return domain.ErrConflict
	}

	if err := s.applyConstraints(req.AggregateID, req.Events); err != nil {
		return err
	}

	for _, handler := range req.Projections {
		if err := handler(ctx, req.Events); err != nil {
			s.rollbackConstraints(req.AggregateID, req.Events)
			return fmt.Errorf("memory store: projection failed: %w", err)
		}
	}

	s.streams[req.AggregateID] = append(stream, req.Events...)

	if req.CommandID != "" {
		s.commandResults[req.CommandID] = domain.CommandResult{
			CommandID: req.CommandID,
			Events:    append([]domain.Event(nil), req.Events...),
		}
	}

	return nil
}

func (s *Store) applyConstraints(aggregateID string, events []domain.Event) error {
	for _, evt := range events {
		for _, uc := range evt.UniqueConstraints {
			key := constraintKey{index: uc.IndexName, value: uc.Value}
			switch uc.Operation {
			case domain.ConstraintClaim:
				if owner, claimed := s.constraints[key]; claimed && owner != aggregateID {
					return fmt.Errorf("memory store: constraint %s=%q already claimed by %s", uc.IndexName, uc.Value, owner)
				}
				s.constraints[key] = aggregateID
			case domain.ConstraintRelease:
				delete(s.constraints, key)
			}
		}
	}
	return nil
}

func (s *Store) rollbackConstraints(aggregateID string, events []domain.Event) {
	for _, evt := range events {
		for _, uc := range evt.UniqueConstraints {
			key := constraintKey{index: uc.IndexName, value: uc.Value}
			if uc.Operation == domain.ConstraintClaim {
				delete(s.constraints, key)
			}
		}
	}
}

// GetEvents implements store.Store.
func (s *Store) GetEvents(ctx context.Context, aggregateID string, afterSeq, maxSeq uint64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	out := make([]domain.Event, 0, len(stream))
	for _, evt := range stream {
		if evt.Sequence <= afterSeq {
			continue
		}
		if maxSeq != 0 && evt.Sequence > maxSeq {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// GetSnapshot implements store.Store.
func (s *Store) GetSnapshot(ctx context.Context, aggregateID string, minSeq, maxSeq uint64) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	if snap.Sequence < minSeq {
		return nil, nil
	}
	if maxSeq != 0 && snap.Sequence > maxSeq {
		return nil, nil
	}
	return &snap, nil
}

// CommitSnapshot implements store.Store.
func (s *Store) CommitSnapshot(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.snapshots[snap.AggregateID]
	if ok && existing.Sequence >= snap.Sequence {
		return nil
	}
	s.snapshots[snap.AggregateID] = snap
	return nil
}

// MaxSequence implements store.Store.
func (s *Store) MaxSequence(ctx context.Context, aggregateID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.streams[aggregateID])), nil
}

// CommandResult implements store.Store.
func (s *Store) CommandResult(ctx context.Context, commandID string) (*domain.CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.commandResults[commandID]
	if !ok {
		return nil, nil
	}
	res.AlreadyProcessed = true
	return &res, nil
}

var _ store.Store = (*Store)(nil)
