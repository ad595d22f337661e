package projections

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
)

const (
	opCreateIndex = "create_index"
	opClearIndex  = "clear_index"
	opSingle      = "single"
	opQuery       = "query"
	opUpsert      = "upsert"
	opDelete      = "delete"
	opDeleteAll   = "delete_all"
)

// Repository reads and writes the documents of one schema and manages the lifecycle of its index versions.
//
// Every schema version lives in its own backend index. Reads and writes pick the index through a Selector,
// so documents of a new schema version stay invisible to writers until their rebuild has completed.
type Repository struct {
	schema    DocumentSchema
	indexName string
	backend   Backend
	states    indexStateStore
	registry  *Registry
	opts      *options
}

// Schema returns the schema of the repository.
func (r *Repository) Schema() DocumentSchema {
	return r.schema
}

// IndexName returns the name of the index holding the current schema version.
func (r *Repository) IndexName() string {
	return r.indexName
}

// State returns the persisted lifecycle state of all index versions of the schema.
func (r *Repository) State(ctx context.Context) (IndexState, error) {
	if err := r.registry.checkOpen(); err != nil {
		return IndexState{}, err
	}

	return r.states.load(ctx, r.schema.Name)
}

// ResolveIndex returns the index version serving the selector.
// The current schema version is registered and its backend index created first, if necessary.
func (r *Repository) ResolveIndex(ctx context.Context, selector Selector) (IndexVersion, error) {
	if err := r.registry.checkOpen(); err != nil {
		return IndexVersion{}, err
	}

	state, err := r.ensureCurrentVersion(ctx)
	if err != nil {
		return IndexVersion{}, err
	}

	version, err := state.selectVersion(selector, r.schema.Hash())
	if err != nil {
		return IndexVersion{}, err
	}

	r.opts.logDebug(ctx, logMsgIndexResolved,
		logAttrSchema, r.schema.Name, logAttrIndex, version.IndexName, logAttrSelector, selector.String())

	return version, nil
}

func (r *Repository) ensureCurrentVersion(ctx context.Context) (IndexState, error) {
	state, err := r.states.load(ctx, r.schema.Name)
	if err != nil {
		return IndexState{}, err
	}

	if _, ok := state.Version(r.schema.Hash()); ok {
		return state, nil
	}

	if err = r.backend.CreateIndex(ctx, r.indexName, r.schema); err != nil {
		return IndexState{}, &IndexError{Index: r.indexName, Op: opCreateIndex, Err: err}
	}

	created := false

	state, err = r.states.mutate(ctx, r.schema.Name, func(fresh *IndexState) error {
		if _, ok := fresh.Version(r.schema.Hash()); ok {
			return errNoChange
		}

		fresh.replace(IndexVersion{IndexName: r.indexName, SchemaHash: r.schema.Hash(), CreatedAt: r.opts.now().UTC()})
		created = true

		return nil
	})
	if err != nil {
		return IndexState{}, err
	}

	if created {
		r.opts.logInfo(ctx, logMsgIndexVersionCreated, logAttrSchema, r.schema.Name, logAttrIndex, r.indexName)
	}

	return state, nil
}

// Get reads a document through SelectReadOnly. A missing document yields ErrDocumentNotFound.
func (r *Repository) Get(ctx context.Context, id string, partitionKey string) (Document, error) {
	version, err := r.ResolveIndex(ctx, SelectReadOnly)
	if err != nil {
		return nil, err
	}

	return r.GetFrom(ctx, version.IndexName, id, partitionKey)
}

// GetFrom reads a document from the named index.
func (r *Repository) GetFrom(ctx context.Context, indexName string, id string, partitionKey string) (Document, error) {
	var doc Document

	err := r.withIndex(ctx, indexName, opSingle, func() error {
		var err error
		doc, err = r.backend.Single(ctx, indexName, r.schema, id, partitionKey)

		return err
	})

	return doc, err
}

// Query runs the query through SelectReadOnly. An empty partitionKey queries all partitions.
func (r *Repository) Query(ctx context.Context, query Query, partitionKey string) (QueryResult, error) {
	version, err := r.ResolveIndex(ctx, SelectReadOnly)
	if err != nil {
		return QueryResult{}, err
	}

	var result QueryResult

	err = r.withIndex(ctx, version.IndexName, opQuery, func() error {
		var queryErr error
		result, queryErr = r.backend.Query(ctx, version.IndexName, r.schema, query, partitionKey)

		return queryErr
	})

	return result, err
}

// Upsert validates the document and writes it through SelectWrite.
func (r *Repository) Upsert(ctx context.Context, doc Document, partitionKey string) error {
	if err := r.schema.Validate(doc); err != nil {
		return err
	}

	version, err := r.ResolveIndex(ctx, SelectWrite)
	if err != nil {
		return err
	}

	return r.UpsertTo(ctx, version.IndexName, doc, partitionKey, r.opts.now())
}

// UpsertTo validates the document and writes it to the named index.
func (r *Repository) UpsertTo(
	ctx context.Context,
	indexName string,
	doc Document,
	partitionKey string,
	updatedAt time.Time,
) error {

	if err := r.schema.Validate(doc); err != nil {
		return err
	}

	id, _ := doc.ID(r.schema)

	return r.withIndex(ctx, indexName, opUpsert, func() error {
		return r.backend.Upsert(ctx, indexName, doc, id, partitionKey, updatedAt)
	})
}

// Delete removes a document through SelectWrite.
func (r *Repository) Delete(ctx context.Context, id string, partitionKey string) error {
	version, err := r.ResolveIndex(ctx, SelectWrite)
	if err != nil {
		return err
	}

	return r.DeleteFrom(ctx, version.IndexName, id, partitionKey)
}

// DeleteFrom removes a document from the named index.
func (r *Repository) DeleteFrom(ctx context.Context, indexName string, id string, partitionKey string) error {
	return r.withIndex(ctx, indexName, opDelete, func() error {
		return r.backend.Delete(ctx, indexName, id, partitionKey)
	})
}

// DeleteAll removes all documents of the partition through SelectWrite; an empty partitionKey removes all.
func (r *Repository) DeleteAll(ctx context.Context, partitionKey string) error {
	version, err := r.ResolveIndex(ctx, SelectWrite)
	if err != nil {
		return err
	}

	return r.withIndex(ctx, version.IndexName, opDeleteAll, func() error {
		return r.backend.DeleteAll(ctx, version.IndexName, partitionKey)
	})
}

// ClearIndex drops and recreates the index of the current schema version.
func (r *Repository) ClearIndex(ctx context.Context) error {
	if err := r.registry.checkOpen(); err != nil {
		return err
	}

	if err := r.backend.DeleteIndex(ctx, r.indexName); err != nil {
		return &IndexError{Index: r.indexName, Op: opClearIndex, Err: err}
	}

	if err := r.backend.CreateIndex(ctx, r.indexName, r.schema); err != nil {
		return &IndexError{Index: r.indexName, Op: opClearIndex, Err: err}
	}

	return nil
}

// withIndex runs op; if the index is missing, it creates the index and retries once.
// Errors other than ErrDocumentNotFound carry the index name and the operation.
func (r *Repository) withIndex(ctx context.Context, indexName string, op string, fn func() error) error {
	if err := r.registry.checkOpen(); err != nil {
		return err
	}

	err := fn()
	if errors.Is(err, ErrIndexNotFound) {
		if createErr := r.backend.CreateIndex(ctx, indexName, r.schema); createErr != nil {
			return &IndexError{Index: indexName, Op: op, Err: errors.Join(err, createErr)}
		}

		r.opts.logInfo(ctx, logMsgIndexCreatedOnDemand, logAttrSchema, r.schema.Name, logAttrIndex, indexName)

		err = fn()
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDocumentNotFound):
		return err
	default:
		return &IndexError{Index: indexName, Op: op, Err: err}
	}
}

// AcquireRebuildLock claims the rebuild of the current schema version for owner.
//
// Only a version that was never started or whose rebuild stalled can be claimed. The claim is written
// with compare-and-swap, then read back: the lock is held only if the persisted timestamps, truncated
// to the lock precision, and the owner still match. Losing either check yields false without an error.
func (r *Repository) AcquireRebuildLock(ctx context.Context, owner string) (IndexVersion, bool, error) {
	if err := r.registry.checkOpen(); err != nil {
		return IndexVersion{}, false, err
	}

	state, err := r.ensureCurrentVersion(ctx)
	if err != nil {
		return IndexVersion{}, false, err
	}

	now := r.opts.now().UTC()
	version, _ := state.Version(r.schema.Hash())

	switch status := version.Status(now, r.opts.stallThreshold); status {
	case IndexStatusCreated, IndexStatusStalled:
	default:
		r.opts.logDebug(ctx, logMsgRebuildLockNotAcquired,
			logAttrSchema, r.schema.Name, logAttrIndex, version.IndexName, logAttrStatus, string(status))

		return IndexVersion{}, false, nil
	}

	version.RebuildStartedAt = &now
	version.RebuildHealthCheckAt = &now
	version.RebuildCompletedAt = nil
	version.RebuildOwner = owner
	version.EventsProcessed = 0
	version.TotalEventsToProcess = 0

	state = state.clone()
	state.replace(version)

	if _, err = r.states.save(ctx, state); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			r.opts.logDebug(ctx, logMsgRebuildLockNotAcquired,
				logAttrSchema, r.schema.Name, logAttrIndex, version.IndexName, logAttrOwner, owner)

			return IndexVersion{}, false, nil
		}

		return IndexVersion{}, false, err
	}

	reread, err := r.states.load(ctx, r.schema.Name)
	if err != nil {
		return IndexVersion{}, false, err
	}

	persisted, ok := reread.Version(r.schema.Hash())
	if !ok || !r.holdsLock(persisted, version) {
		r.opts.logDebug(ctx, logMsgRebuildLockNotAcquired,
			logAttrSchema, r.schema.Name, logAttrIndex, version.IndexName, logAttrOwner, owner)

		return IndexVersion{}, false, nil
	}

	r.opts.logInfo(ctx, logMsgRebuildLockAcquired,
		logAttrSchema, r.schema.Name, logAttrIndex, persisted.IndexName, logAttrOwner, owner)

	return persisted, true, nil
}

func (r *Repository) holdsLock(persisted, claimed IndexVersion) bool {
	return persisted.RebuildOwner == claimed.RebuildOwner &&
		persisted.RebuildCompletedAt == nil &&
		sameInstant(persisted.RebuildStartedAt, claimed.RebuildStartedAt, r.opts.lockPrecision) &&
		sameInstant(persisted.RebuildHealthCheckAt, claimed.RebuildHealthCheckAt, r.opts.lockPrecision)
}

func sameInstant(a, b *time.Time, precision time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Truncate(precision).Equal(b.Truncate(precision))
}

// Heartbeat records rebuild progress and keeps the rebuild from being considered stalled.
// It returns ErrRebuildLockLost if another owner took over.
func (r *Repository) Heartbeat(ctx context.Context, owner string, eventsProcessed, totalEvents int64) error {
	return r.mutateOwnedVersion(ctx, owner, func(version *IndexVersion, now time.Time) {
		version.RebuildHealthCheckAt = &now
		version.EventsProcessed = eventsProcessed
		version.TotalEventsToProcess = totalEvents
	})
}

// CompleteRebuild marks the rebuild of the current schema version as completed, which makes
// the index the target of SelectWrite. It returns ErrRebuildLockLost if another owner took over.
func (r *Repository) CompleteRebuild(ctx context.Context, owner string) error {
	return r.mutateOwnedVersion(ctx, owner, func(version *IndexVersion, now time.Time) {
		version.RebuildHealthCheckAt = &now
		version.RebuildCompletedAt = &now
	})
}

// ReleaseRebuildLock resets an unfinished rebuild to the created state so that it can be claimed again
// right away instead of after the stall threshold.
func (r *Repository) ReleaseRebuildLock(ctx context.Context, owner string) error {
	return r.mutateOwnedVersion(ctx, owner, func(version *IndexVersion, _ time.Time) {
		version.RebuildStartedAt = nil
		version.RebuildHealthCheckAt = nil
		version.RebuildOwner = ""
	})
}

func (r *Repository) mutateOwnedVersion(
	ctx context.Context,
	owner string,
	fn func(version *IndexVersion, now time.Time),
) error {

	if err := r.registry.checkOpen(); err != nil {
		return err
	}

	_, err := r.states.mutate(ctx, r.schema.Name, func(state *IndexState) error {
		version, ok := state.Version(r.schema.Hash())
		if !ok || version.RebuildOwner != owner || version.RebuildCompletedAt != nil {
			return fmt.Errorf("%w: schema %q, owner %q", ErrRebuildLockLost, r.schema.Name, owner)
		}

		fn(&version, r.opts.now().UTC())
		state.replace(version)

		return nil
	})

	if errors.Is(err, ErrRebuildLockLost) {
		r.opts.logWarn(ctx, logMsgRebuildLockLost, logAttrSchema, r.schema.Name, logAttrOwner, owner)
	}

	return err
}
