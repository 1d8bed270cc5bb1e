// Package incremental batches document add/update/delete events and
// applies them to the search indexes on a timer, rather than on every
// single mutation. Consolidation collapses redundant events for the same
// document before they ever reach the indexes.
package incremental

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corvus-labs/hybridcore/internal/hconfig"
	"github.com/corvus-labs/hybridcore/internal/store"
)

// IndexSink is the capability the manager mutates a batch's changes
// through. An *engine.Engine satisfies this structurally — the manager
// never imports the engine package, which is what keeps the engine/
// incremental reference cycle one-directional (engine owns Manager,
// Manager only ever sees this narrower capability).
type IndexSink interface {
	ApplyDeletes(ctx context.Context, ids []string) error
	ApplyUpserts(ctx context.Context, docs []*store.Document) error
	Persist(ctx context.Context) error
	InvalidateCache()
	TombstoneCount() int
	RequestRebuild()
}

// Stats mirrors incremental_stats() (§6).
type Stats struct {
	TotalProcessed int64
	Successful     int64
	Failed         int64
	QueueSize      int
	IsProcessing   bool
	LastUpdateTime *time.Time
}

// FlushResult is the outcome of one batch application.
type FlushResult struct {
	Processed int
	Errors    int
}

// Manager queues document changes and flushes them to an IndexSink in
// batches, either when BatchSize pending changes accumulate or when the
// oldest pending change exceeds StalenessTimeout.
type Manager struct {
	cfg    hconfig.IncrementalConfig
	sink   IndexSink
	logger *slog.Logger

	mu             sync.Mutex
	pending        map[string]*store.Change
	pendingOrder   *list.List               // front = oldest enqueued doc_id, for MaxPending eviction
	pendingElem    map[string]*list.Element // doc_id -> its pendingOrder element
	firstPendingAt time.Time
	isProcessing   bool

	totalProcessed int64
	successful     int64
	failed         int64
	lastUpdate     *time.Time

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager starts the background flush loop immediately; callers must
// call Stop to drain pending work and release the goroutine.
func NewManager(cfg hconfig.IncrementalConfig, sink IndexSink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}

	m := &Manager{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		pending:      make(map[string]*store.Change),
		pendingOrder: list.New(),
		pendingElem:  make(map[string]*list.Element),
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go m.run()
	return m
}

// consolidate folds an incoming change over a pending one for the same
// document per the consolidation table: Add+Delete cancel outright;
// Delete+anything becomes an Add (the prior delete never reached the
// indexes, so the document is new again); everything else is a plain
// replace, last write wins.
func consolidate(existing, incoming *store.Change) *store.Change {
	if existing == nil {
		return incoming
	}

	switch {
	case existing.Kind == store.ChangeAdd && incoming.Kind == store.ChangeDelete:
		return nil
	case existing.Kind == store.ChangeUpdate && incoming.Kind == store.ChangeDelete:
		return incoming
	case existing.Kind == store.ChangeDelete && incoming.Kind != store.ChangeDelete:
		return &store.Change{
			DocID:     incoming.DocID,
			Kind:      store.ChangeAdd,
			Doc:       incoming.Doc,
			Timestamp: incoming.Timestamp,
		}
	default:
		return incoming
	}
}

// Enqueue adds a change to the pending batch, consolidating it against
// any change already pending for the same document ID. Consolidating
// into an existing entry never moves its place in enqueue order — only a
// genuinely new doc_id is appended to the back.
func (m *Manager) Enqueue(change store.Change) {
	m.mu.Lock()
	wasEmpty := len(m.pending) == 0
	existing, alreadyPending := m.pending[change.DocID]
	result := consolidate(existing, &change)

	if result == nil {
		m.removePendingLocked(change.DocID)
	} else {
		m.pending[change.DocID] = result
		if !alreadyPending {
			m.pendingElem[change.DocID] = m.pendingOrder.PushBack(change.DocID)
		}
	}

	if wasEmpty && len(m.pending) > 0 {
		m.firstPendingAt = time.Now()
	}

	m.evictOldestLocked()

	size := len(m.pending)
	batchSize := m.cfg.BatchSize
	m.mu.Unlock()

	select {
	case m.wakeCh <- struct{}{}:
	default:
	}

	if batchSize > 0 && size >= batchSize {
		go m.flush(context.Background())
	}
}

// removePendingLocked drops docID from the pending map and its enqueue-
// order tracking. Caller holds m.mu.
func (m *Manager) removePendingLocked(docID string) {
	delete(m.pending, docID)
	if elem, ok := m.pendingElem[docID]; ok {
		m.pendingOrder.Remove(elem)
		delete(m.pendingElem, docID)
	}
}

// evictOldestLocked drops the oldest-enqueued pending doc_ids while the
// queue exceeds MaxPending, logging each eviction. Caller holds m.mu.
func (m *Manager) evictOldestLocked() {
	maxPending := m.cfg.MaxPending
	if maxPending <= 0 {
		return
	}
	for len(m.pending) > maxPending {
		front := m.pendingOrder.Front()
		if front == nil {
			return
		}
		docID := front.Value.(string)
		m.logger.Warn("incremental queue at capacity, dropping oldest pending change",
			"doc_id", docID, "max_pending", maxPending)
		m.removePendingLocked(docID)
	}
}

func (m *Manager) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.flush(context.Background())
			return
		case <-ticker.C:
			m.flushIfDue()
		case <-m.wakeCh:
			m.flushIfDue()
		}
	}
}

func (m *Manager) flushIfDue() {
	m.mu.Lock()
	size := len(m.pending)
	stale := size > 0 && !m.firstPendingAt.IsZero() && time.Since(m.firstPendingAt) > m.cfg.StalenessTimeout
	due := (m.cfg.BatchSize > 0 && size >= m.cfg.BatchSize) || stale
	m.mu.Unlock()

	if due {
		m.flush(context.Background())
	}
}

// Flush forces an immediate application of whatever is currently pending,
// implementing flush_pending() (§6).
func (m *Manager) Flush(ctx context.Context) FlushResult {
	return m.flush(ctx)
}

// flush applies the §4.F order: deletes, then adds/updates, then persist,
// then cache invalidation, then stats update. A flush already in flight is
// a no-op — the next timer tick or Enqueue wake will retry.
func (m *Manager) flush(ctx context.Context) FlushResult {
	m.mu.Lock()
	if m.isProcessing || len(m.pending) == 0 {
		m.mu.Unlock()
		return FlushResult{}
	}
	batch := m.pending
	m.pending = make(map[string]*store.Change)
	m.pendingOrder = list.New()
	m.pendingElem = make(map[string]*list.Element)
	m.firstPendingAt = time.Time{}
	m.isProcessing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isProcessing = false
		m.mu.Unlock()
	}()

	var deletes []string
	var upserts []*store.Document
	for _, c := range batch {
		if c.Kind == store.ChangeDelete {
			deletes = append(deletes, c.DocID)
			continue
		}
		if c.Doc != nil {
			upserts = append(upserts, c.Doc)
		}
	}

	var processed, errs int

	if len(deletes) > 0 {
		if err := m.sink.ApplyDeletes(ctx, deletes); err != nil {
			m.logger.Error("incremental apply deletes failed", "error", err, "count", len(deletes))
			errs += len(deletes)
		} else {
			processed += len(deletes)
		}
	}

	if len(upserts) > 0 {
		if err := m.sink.ApplyUpserts(ctx, upserts); err != nil {
			m.logger.Error("incremental apply upserts failed", "error", err, "count", len(upserts))
			errs += len(upserts)
		} else {
			processed += len(upserts)
		}
	}

	if err := m.sink.Persist(ctx); err != nil {
		m.logger.Error("incremental persist failed", "error", err)
	}

	m.sink.InvalidateCache()

	now := time.Now()
	m.mu.Lock()
	m.totalProcessed += int64(processed + errs)
	m.successful += int64(processed)
	m.failed += int64(errs)
	m.lastUpdate = &now
	m.mu.Unlock()

	if m.sink.TombstoneCount() >= m.cfg.TombstoneThreshold {
		m.sink.RequestRebuild()
	}

	return FlushResult{Processed: processed, Errors: errs}
}

// Stats reports the manager's running counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		TotalProcessed: m.totalProcessed,
		Successful:     m.successful,
		Failed:         m.failed,
		QueueSize:      len(m.pending),
		IsProcessing:   m.isProcessing,
		LastUpdateTime: m.lastUpdate,
	}
}

// Stop flushes any remaining pending work and stops the background loop.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}
