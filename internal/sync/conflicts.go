package sync

import (
	"context"
	"fmt"

	"github.com/jubeeworld/synckit/internal/conflict"
	"github.com/jubeeworld/synckit/internal/store"
)

// Conflicts returns every pending conflict group.
func (e *Engine) Conflicts(ctx context.Context) ([]*conflict.Group, error) {
	return e.conflicts.List(ctx)
}

// ConflictsByCollection returns pending groups for one collection.
func (e *Engine) ConflictsByCollection(ctx context.Context, collection string) ([]*conflict.Group, error) {
	return e.conflicts.ListByCollection(ctx, collection)
}

// Diagnosis returns the recommended strategy for one pending group without
// resolving it.
func (e *Engine) Diagnosis(ctx context.Context, id string) (conflict.Choice, error) {
	return e.conflicts.Diagnose(ctx, id)
}

// ResolveConflict applies a strategy to one group and persists the winning
// record locally as unsynced, so the next pass pushes the decision.
func (e *Engine) ResolveConflict(ctx context.Context, id string, choice conflict.Choice) error {
	resolution, err := e.conflicts.Resolve(ctx, id, choice)
	if err != nil {
		return err
	}
	return e.persistResolutions(ctx, []*conflict.Resolution{resolution})
}

// ResolveConflicts resolves the given groups with one strategy.
func (e *Engine) ResolveConflicts(ctx context.Context, ids []string, choice conflict.Choice) (int, error) {
	resolutions, err := e.conflicts.ResolveBatch(ctx, ids, choice)
	if err != nil {
		return 0, err
	}
	return len(resolutions), e.persistResolutions(ctx, resolutions)
}

// ResolveAllConflicts resolves every pending group with one strategy.
func (e *Engine) ResolveAllConflicts(ctx context.Context, choice conflict.Choice) (int, error) {
	resolutions, err := e.conflicts.ResolveAll(ctx, choice)
	if err != nil {
		return 0, err
	}
	return len(resolutions), e.persistResolutions(ctx, resolutions)
}

// ResolveCollectionConflicts resolves every pending group in one collection.
func (e *Engine) ResolveCollectionConflicts(ctx context.Context, collection string, choice conflict.Choice) (int, error) {
	resolutions, err := e.conflicts.ResolveByCollection(ctx, collection, choice)
	if err != nil {
		return 0, err
	}
	return len(resolutions), e.persistResolutions(ctx, resolutions)
}

// persistResolutions writes resolved records back to the store, one bulk
// write per collection. Resolution forces synced on the winning record, so
// the decision is final locally and nothing is re-pushed.
func (e *Engine) persistResolutions(ctx context.Context, resolutions []*conflict.Resolution) error {
	byCollection := make(map[string][]*store.Record)
	for _, resolution := range resolutions {
		byCollection[resolution.Collection] = append(byCollection[resolution.Collection], resolution.Record)
	}
	for collection, records := range byCollection {
		if err := e.store.PutBulk(ctx, collection, records); err != nil {
			return fmt.Errorf("persist %d resolutions for %s: %w", len(records), collection, err)
		}
	}
	return nil
}
