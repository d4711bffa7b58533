package offdata

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rbrundritt/offline-data-manager/pkg/logger"
)

// DownloadEngine owns the drain loop, per-item fetch state machine, chunked
// Range transfers, retry/backoff, quota-aware deferral, cancellation, and
// the connectivity hook. One pipeline runs per item; the drain cycle orders
// items by priority and dispatches up to the configured concurrency.
type DownloadEngine struct {
	store        Store
	events       *Emitter
	probe        StorageProbe
	connectivity Connectivity
	router       *SchemeRouter
	registry     *RegistryManager
	config       Config
	log          logger.Logger

	w *wake

	mu          sync.Mutex
	running     bool
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	loopDone    chan struct{}
	abortTokens map[string]context.CancelFunc
	concurrency int

	bufMu    sync.Mutex
	partials map[string][]byte
}

// EngineOption customizes a DownloadEngine built by NewDownloadEngine.
type EngineOption func(*DownloadEngine)

// WithLogger overrides the engine's logger (default logger.NopLogger{}).
func WithLogger(l logger.Logger) EngineOption {
	return func(e *DownloadEngine) { e.log = l }
}

// NewDownloadEngine wires a DownloadEngine to its collaborators and attaches
// itself to registry as its Notifier; the engine owns the wake primitive,
// the registry only ever calls Notify.
func NewDownloadEngine(store Store, events *Emitter, probe StorageProbe, connectivity Connectivity, router *SchemeRouter, registry *RegistryManager, cfg Config, opts ...EngineOption) *DownloadEngine {
	cfg = cfg.normalize()
	e := &DownloadEngine{
		store:        store,
		events:       events,
		probe:        probe,
		connectivity: connectivity,
		router:       router,
		registry:     registry,
		config:       cfg,
		log:          logger.NopLogger{},
		w:            newWake(),
		abortTokens:  make(map[string]context.CancelFunc),
		concurrency:  cfg.Concurrency,
		partials:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(e)
	}
	if registry != nil {
		registry.SetNotifier(e)
	}
	return e
}

// Notify wakes the drain loop. Satisfies the Notifier interface the
// RegistryManager calls into.
func (e *DownloadEngine) Notify() {
	e.w.notify()
}

// IsRunning reports whether the drain loop is active.
func (e *DownloadEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins the persistent drain loop with the given concurrency (0 or
// negative falls back to the configured default). Idempotent: a second call
// while already running is a no-op.
func (e *DownloadEngine) Start(concurrency int) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.rootCtx = ctx
	e.rootCancel = cancel
	e.loopDone = make(chan struct{})
	e.running = true
	e.mu.Unlock()

	go e.driveLoop(ctx, e.loopDone)
}

// Stop halts the drain loop: flips running false, wakes the loop, aborts
// every in-flight fetch (driving those rows to paused), awaits settlement,
// and emits stopped.
func (e *DownloadEngine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	done := e.loopDone
	cancel := e.rootCancel
	e.mu.Unlock()

	e.AbortAllDownloads()
	e.w.notify()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	e.events.Emit(TopicStopped, StoppedPayload{})
}

// AbortDownload cancels id's in-flight fetch, if any. Its cancellation path
// transitions the row to paused.
func (e *DownloadEngine) AbortDownload(id string) {
	e.mu.Lock()
	cancel, ok := e.abortTokens[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// AbortAllDownloads cancels every in-flight fetch.
func (e *DownloadEngine) AbortAllDownloads() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.abortTokens))
	for _, c := range e.abortTokens {
		cancels = append(cancels, c)
	}
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// RetryFailed rewrites every failed queue row to pending with retryCount
// reset and errorMessage cleared, then wakes the loop.
func (e *DownloadEngine) RetryFailed(ctx context.Context) error {
	rows, err := e.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return err
	}
	for id, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil || entry.Status != StatusFailed {
			continue
		}
		queue, err := e.getQueueEntry(ctx, id)
		if err != nil || queue == nil {
			continue
		}
		entry.Status = StatusPending
		entry.RetryCount = 0
		entry.ErrorMessage = nil
		entry.UpdatedAt = nowMillis()
		queue.Status = StatusPending
		queue.RetryCount = 0
		queue.ErrorMessage = nil
		if err := e.putRegistryAndQueue(ctx, entry, queue); err != nil {
			continue
		}
	}
	e.w.notify()
	return nil
}

// Reprioritize changes a registered item's priority without a delete and
// re-register cycle. Takes effect on the next drain selection.
func (e *DownloadEngine) Reprioritize(ctx context.Context, id string, priority Priority) error {
	entry, err := e.getRegistryEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotRegistered
	}
	entry.Priority = priority
	entry.UpdatedAt = nowMillis()
	return e.putRegistry(ctx, entry)
}

// Stats is a cheap aggregate snapshot for UI polling.
type Stats struct {
	Active  int
	Waiting int
	Paused  int
	Failed  int
}

// Stats returns the current counts across every registry row.
func (e *DownloadEngine) Stats(ctx context.Context) (Stats, error) {
	rows, err := e.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil {
			continue
		}
		switch entry.Status {
		case StatusInProgress:
			s.Active++
		case StatusPending, StatusDeferred:
			s.Waiting++
		case StatusPaused:
			s.Paused++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// driveLoop is the single logical driver: alternates connectivity check,
// expiry evaluation, selection, bounded dispatch, and waiting on the wake
// primitive when the selection empties.
func (e *DownloadEngine) driveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if e.connectivity != nil && !e.connectivity.IsOnline() {
			e.pauseAllInFlight(ctx, "network-offline")
			e.events.Emit(TopicConnectivity, ConnectivityPayload{Online: false})
			e.w.wait(ctx.Done())
			continue
		}

		if e.registry != nil {
			_, _ = e.registry.EvaluateExpiry(ctx)
		}

		selection, err := e.selectEligible(ctx)
		if err != nil {
			e.log.Error("offdata: selection failed: %v", err)
			e.w.wait(ctx.Done())
			continue
		}

		if len(selection) == 0 {
			e.w.wait(ctx.Done())
			continue
		}

		if progressed := e.dispatch(ctx, selection); progressed == 0 {
			// Every item in the selection was deferred for storage space
			// without a network attempt. Nothing will change until a
			// complete/delete elsewhere frees space and notifies, so wait
			// instead of spinning on the same deferred rows.
			e.w.wait(ctx.Done())
		}
	}
}

// selectEligible reads every registry row and returns entries in
// eligible-for-drain status, sorted by priority ascending with a stable
// tie-break on insertion order.
func (e *DownloadEngine) selectEligible(ctx context.Context) ([]*RegistryEntry, error) {
	rows, err := e.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return nil, err
	}
	selection := make([]*RegistryEntry, 0, len(rows))
	for _, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil {
			continue
		}
		if !entry.Status.eligibleForDrain() {
			continue
		}
		selection = append(selection, entry)
	}
	sort.SliceStable(selection, func(i, j int) bool {
		if selection[i].Priority != selection[j].Priority {
			return selection[i].Priority < selection[j].Priority
		}
		return selection[i].InsertionSeq < selection[j].InsertionSeq
	})
	return selection, nil
}

// dispatch runs the current selection through a semaphore-bounded worker
// pool (up to concurrency in parallel; when a slot frees the next item
// starts), waiting for the whole batch to settle before the driver loops
// back to re-evaluate connectivity/expiry/selection. Returns the number of
// items that made a real network attempt, as opposed to being deferred on
// the storage precheck.
func (e *DownloadEngine) dispatch(ctx context.Context, selection []*RegistryEntry) int {
	sem := semaphore.NewWeighted(int64(e.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	progressed := 0
	for _, entry := range selection {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(entry *RegistryEntry) {
			defer wg.Done()
			defer sem.Release(1)
			if e.processItem(ctx, entry.ID) {
				mu.Lock()
				progressed++
				mu.Unlock()
			}
		}(entry)
	}
	wg.Wait()
	return progressed
}

// pauseAllInFlight transitions every in-progress row to paused with the
// given deferredReason.
func (e *DownloadEngine) pauseAllInFlight(ctx context.Context, reason string) {
	e.AbortAllDownloads()
	rows, err := e.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return
	}
	for id, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil || entry.Status != StatusInProgress {
			continue
		}
		queue, err := e.getQueueEntry(ctx, id)
		if err != nil || queue == nil {
			continue
		}
		entry.Status = StatusPaused
		entry.DeferredReason = stringPtr(reason)
		entry.UpdatedAt = nowMillis()
		queue.Status = StatusPaused
		queue.DeferredReason = stringPtr(reason)
		_ = e.putRegistryAndQueue(ctx, entry, queue)
	}
}

func (e *DownloadEngine) getRegistryEntry(ctx context.Context, id string) (*RegistryEntry, error) {
	raw, ok, err := e.store.Get(ctx, TableRegistry, id)
	if err != nil || !ok {
		return nil, err
	}
	return decodeRegistryEntry(raw)
}

func (e *DownloadEngine) getQueueEntry(ctx context.Context, id string) (*QueueEntry, error) {
	raw, ok, err := e.store.Get(ctx, TableQueue, id)
	if err != nil || !ok {
		return nil, err
	}
	return decodeQueueEntry(raw)
}

func (e *DownloadEngine) putRegistry(ctx context.Context, entry *RegistryEntry) error {
	raw, err := encodeRegistryEntry(entry)
	if err != nil {
		return err
	}
	return e.store.Put(ctx, TableRegistry, entry.ID, raw)
}

func (e *DownloadEngine) putQueue(ctx context.Context, queue *QueueEntry) error {
	raw, err := encodeQueueEntry(queue)
	if err != nil {
		return err
	}
	return e.store.Put(ctx, TableQueue, queue.ID, raw)
}

func (e *DownloadEngine) putRegistryAndQueue(ctx context.Context, entry *RegistryEntry, queue *QueueEntry) error {
	if err := e.putQueue(ctx, queue); err != nil {
		return err
	}
	return e.putRegistry(ctx, entry)
}
