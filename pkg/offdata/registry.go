package offdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Notifier is the Download Engine's wake entry point. The Registry Manager
// calls it after any mutation that should wake the drain loop; the engine
// owns the wake primitive and exposes Notify, the registry only ever calls
// it.
type Notifier interface {
	Notify()
}

// noopNotifier is used when a RegistryManager is constructed without an
// engine attached yet (e.g. in isolation in tests).
type noopNotifier struct{}

func (noopNotifier) Notify() {}

// FileRegistration is the caller-supplied shape for RegisterFile/
// RegisterFiles: everything a caller may set, as opposed to
// RegistryEntry's full persisted shape which also carries manager-owned
// fields (RegisteredAt, UpdatedAt, mirrored queue status). Priority is a
// pointer so "not supplied" (nil, defaults to DefaultPriority) is
// distinguishable from an explicit zero priority.
type FileRegistration struct {
	ID          string
	DownloadURL string
	MimeType    *string
	Version     int64
	Protected   bool
	Priority    *Priority
	TTLSeconds  int64
	TotalBytes  *int64
	Metadata    map[string]any
}

// RegisterFilesResult is returned by RegisterFiles.
type RegisterFilesResult struct {
	Registered []string
	Removed    []string
}

// RegistryManager owns validation, version comparison, metadata merge,
// expiry evaluation, and the status-projection view. All state lives in the
// injected Store; the mutex only serializes read-modify-write cycles across
// the registry and queue tables.
type RegistryManager struct {
	store    Store
	events   *Emitter
	probe    StorageProbe
	notifier Notifier

	mu  sync.Mutex
	seq int64
}

// NewRegistryManager creates a RegistryManager with a no-op notifier;
// SetNotifier attaches the engine once it is constructed
// (NewDownloadEngine does this for the registry it is given).
func NewRegistryManager(store Store, events *Emitter, probe StorageProbe) *RegistryManager {
	return &RegistryManager{
		store:    store,
		events:   events,
		probe:    probe,
		notifier: noopNotifier{},
	}
}

// SetNotifier attaches the Download Engine's wake entry point.
func (m *RegistryManager) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	m.notifier = n
}

// LoadInsertionSequence scans the registry to recover the highest persisted
// InsertionSeq, so a restarted process continues assigning increasing
// sequence numbers instead of colliding with rows from a prior run.
func (m *RegistryManager) LoadInsertionSequence(ctx context.Context) error {
	rows, err := m.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil {
			continue
		}
		if entry.InsertionSeq > m.seq {
			m.seq = entry.InsertionSeq
		}
	}
	return nil
}

func validateRegistration(in FileRegistration) error {
	if strings.TrimSpace(in.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(in.DownloadURL) == "" {
		return fmt.Errorf("%w: downloadUrl is required", ErrValidation)
	}
	if in.Version < 0 {
		return fmt.Errorf("%w: version must be non-negative", ErrValidation)
	}
	if in.TTLSeconds < 0 {
		return fmt.Errorf("%w: ttl must be non-negative", ErrValidation)
	}
	return nil
}

func priorityOrDefault(p *Priority) Priority {
	if p == nil {
		return DefaultPriority
	}
	return *p
}

// RegisterFile validates and inserts or refreshes a single item.
// A brand-new id inserts fresh registry + queue rows and emits
// registered{reason:"new"}. An existing id with entry.Version > the stored
// version updates the registry row, resets the queue row's attempt state
// to pending while retaining Data/MimeType, and emits
// registered{reason:"version-updated"}. Any other version is a no-op. In
// either mutating case the engine is woken afterward.
func (m *RegistryManager) RegisterFile(ctx context.Context, in FileRegistration) error {
	if err := validateRegistration(in); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerFileLocked(ctx, in)
}

func (m *RegistryManager) registerFileLocked(ctx context.Context, in FileRegistration) error {
	existing, err := m.getRegistryEntry(ctx, in.ID)
	if err != nil {
		return err
	}
	now := nowMillis()

	if existing == nil {
		m.seq++
		entry := &RegistryEntry{
			ID:           in.ID,
			DownloadURL:  in.DownloadURL,
			MimeType:     in.MimeType,
			Version:      in.Version,
			Protected:    in.Protected,
			Priority:     priorityOrDefault(in.Priority),
			TTLSeconds:   in.TTLSeconds,
			TotalBytes:   in.TotalBytes,
			Metadata:     in.Metadata,
			RegisteredAt: now,
			UpdatedAt:    now,
			Status:       StatusPending,
			InsertionSeq: m.seq,
		}
		queue := &QueueEntry{ID: in.ID, Status: StatusPending, TotalBytes: in.TotalBytes}

		if err := m.putRegistryAndQueue(ctx, entry, queue); err != nil {
			return m.handleWriteError(ctx, in.ID, err)
		}
		m.events.Emit(TopicRegistered, RegisteredPayload{ID: in.ID, Reason: "new"})
		m.notifier.Notify()
		return nil
	}

	if in.Version <= existing.Version {
		return nil
	}

	existing.DownloadURL = in.DownloadURL
	existing.MimeType = in.MimeType
	existing.Version = in.Version
	existing.Protected = in.Protected
	if in.Priority != nil {
		existing.Priority = *in.Priority
	}
	existing.TTLSeconds = in.TTLSeconds
	existing.TotalBytes = in.TotalBytes
	existing.Metadata = in.Metadata
	existing.UpdatedAt = now
	existing.Status = StatusPending
	existing.BytesDownloaded = 0
	existing.ByteOffset = 0
	existing.RetryCount = 0
	existing.LastAttemptAt = nil
	existing.CompletedAt = nil
	existing.ExpiresAt = nil
	existing.ErrorMessage = nil
	existing.DeferredReason = nil

	queue, err := m.getQueueEntry(ctx, in.ID)
	if err != nil {
		return err
	}
	if queue == nil {
		queue = &QueueEntry{ID: in.ID}
	}
	queue.Status = StatusPending
	queue.BytesDownloaded = 0
	queue.ByteOffset = 0
	queue.RetryCount = 0
	queue.LastAttemptAt = nil
	queue.CompletedAt = nil
	queue.ExpiresAt = nil
	queue.ErrorMessage = nil
	queue.DeferredReason = nil
	queue.TotalBytes = in.TotalBytes
	// Data and MimeType are deliberately left untouched: retrieve(id) must
	// keep yielding the prior payload until the refresh completes.

	if err := m.putRegistryAndQueue(ctx, existing, queue); err != nil {
		return m.handleWriteError(ctx, in.ID, err)
	}
	m.events.Emit(TopicRegistered, RegisteredPayload{ID: in.ID, Reason: "version-updated"})
	m.notifier.Notify()
	return nil
}

// handleWriteError: a storage-quota failure during registration is emitted
// as an error event (keyed by the id being registered) rather than
// propagated to the caller; any other store failure is propagated.
func (m *RegistryManager) handleWriteError(_ context.Context, id string, err error) error {
	if isQuotaError(err) {
		m.events.Emit(TopicError, ErrorPayload{ID: id, Err: err, RetryCount: 0, WillRetry: false})
		return nil
	}
	return err
}

func isQuotaError(err error) bool {
	return errors.Is(err, ErrStorageQuota)
}

// RegisterFiles reconciles the registry against entries: ids present in the
// store but absent from entries are removed unless protected, then each
// incoming entry is fed through RegisterFile. Validation
// failures and store errors for individual ids are aggregated rather than
// aborting the whole batch.
func (m *RegistryManager) RegisterFiles(ctx context.Context, entries []FileRegistration) (RegisterFilesResult, error) {
	var result RegisterFilesResult
	var merr *multierror.Error

	incoming := make(map[string]FileRegistration, len(entries))
	var valid []FileRegistration
	for _, e := range entries {
		if err := validateRegistration(e); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("id %q: %w", e.ID, err))
			continue
		}
		incoming[e.ID] = e
		valid = append(valid, e)
	}

	m.mu.Lock()
	existingIDs, err := m.store.GetAllIDs(ctx, TableRegistry)
	m.mu.Unlock()
	if err != nil {
		merr = multierror.Append(merr, err)
		return result, merr.ErrorOrNil()
	}

	for _, id := range existingIDs {
		if _, ok := incoming[id]; ok {
			continue
		}
		entry, err := m.getRegistryEntry(ctx, id)
		if err != nil || entry == nil {
			if err != nil {
				merr = multierror.Append(merr, err)
			}
			continue
		}
		if entry.Protected {
			continue
		}
		if err := m.removeRow(ctx, id); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("id %q: %w", id, err))
			continue
		}
		result.Removed = append(result.Removed, id)
		m.events.Emit(TopicDeleted, DeletedPayload{ID: id, RegistryRemoved: true})
	}

	for _, e := range valid {
		m.mu.Lock()
		err := m.registerFileLocked(ctx, e)
		m.mu.Unlock()
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("id %q: %w", e.ID, err))
			continue
		}
		result.Registered = append(result.Registered, e.ID)
	}

	return result, merr.ErrorOrNil()
}

// EvaluateExpiry transitions every complete row whose expiresAt has passed
// to expired, mirrors the transition onto both tables, and emits expired
// for each. Idempotent: a second call with no clock movement
// transitions nothing further.
func (m *RegistryManager) EvaluateExpiry(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return nil, err
	}
	now := nowMillis()
	var transitioned []string
	for id, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil {
			continue
		}
		if entry.Status != StatusComplete || entry.ExpiresAt == nil || now < *entry.ExpiresAt {
			continue
		}
		entry.Status = StatusExpired
		entry.UpdatedAt = now

		queue, err := m.getQueueEntry(ctx, id)
		if err != nil {
			continue
		}
		if queue == nil {
			queue = &QueueEntry{ID: id}
		}
		queue.Status = StatusExpired

		if err := m.putRegistryAndQueue(ctx, entry, queue); err != nil {
			continue
		}
		m.events.Emit(TopicExpired, ExpiredPayload{ID: id})
		transitioned = append(transitioned, id)
	}
	return transitioned, nil
}

// GetStatus projects a single registry row into a StatusView. A missing id
// returns (nil, nil) rather than an error.
func (m *RegistryManager) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	entry, err := m.getRegistryEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	view := projectStatusView(entry)
	return &view, nil
}

// GetAllStatus projects every registry row, sorted by priority ascending
// with a stable tie-break on insertion order, and attaches a StorageSummary
// from the StorageProbe.
func (m *RegistryManager) GetAllStatus(ctx context.Context) ([]StatusView, *StorageSummary, error) {
	rows, err := m.store.GetAll(ctx, TableRegistry)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]*RegistryEntry, 0, len(rows))
	for _, raw := range rows {
		entry, err := decodeRegistryEntry(raw)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].InsertionSeq < entries[j].InsertionSeq
	})

	views := make([]StatusView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, projectStatusView(entry))
	}

	var summary *StorageSummary
	if m.probe != nil {
		if est, err := m.probe.Estimate(); err == nil {
			summary = &StorageSummary{
				UsageBytes:     est.UsageBytes,
				QuotaBytes:     est.QuotaBytes,
				AvailableBytes: est.AvailableBytes,
			}
		}
	}
	return views, summary, nil
}

func projectStatusView(entry *RegistryEntry) StatusView {
	var percent *int
	if entry.TotalBytes != nil && *entry.TotalBytes > 0 {
		p := int(math.Round(float64(entry.BytesDownloaded) / float64(*entry.TotalBytes) * 100))
		percent = &p
	}
	return StatusView{
		ID:              entry.ID,
		Status:          entry.Status,
		Percent:         percent,
		BytesDownloaded: entry.BytesDownloaded,
		TotalBytes:      entry.TotalBytes,
		MimeType:        entry.MimeType,
		Priority:        entry.Priority,
		ErrorMessage:    entry.ErrorMessage,
		DeferredReason:  entry.DeferredReason,
		ExpiresAt:       entry.ExpiresAt,
		UpdatedAt:       entry.UpdatedAt,
	}
}

// IsReady reports whether id's payload is currently addressable: a non-nil
// queue payload. Retrievability is deliberately decoupled from drain
// status — a version bump resets the row to pending for the drain loop
// while the retained prior payload stays addressable until the refreshed
// download atomically swaps it in. A missing id is simply not ready.
func (m *RegistryManager) IsReady(ctx context.Context, id string) (bool, error) {
	entry, err := m.getRegistryEntry(ctx, id)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	queue, err := m.getQueueEntry(ctx, id)
	if err != nil {
		return false, err
	}
	return queue != nil && queue.Data != nil, nil
}

// Retrieve returns the payload and resolved MIME type for a ready item, or
// ErrNotRegistered / ErrNotReady. The payload is served whenever one is
// stored, mid-refresh included (see IsReady); only a row that never
// completed, or whose payload was cleared by a protected delete, is not
// ready.
func (m *RegistryManager) Retrieve(ctx context.Context, id string) ([]byte, string, error) {
	entry, err := m.getRegistryEntry(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if entry == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	queue, err := m.getQueueEntry(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if queue == nil || queue.Data == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrNotReady, id)
	}
	mime := "application/octet-stream"
	if queue.MimeType != nil {
		mime = *queue.MimeType
	}
	return queue.Data, mime, nil
}

// UpdateRegistryMetadata shallow-merges patch into id's Metadata, ignoring
// nil values, with no effect on queue state.
func (m *RegistryManager) UpdateRegistryMetadata(ctx context.Context, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.getRegistryEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}
	if entry.Metadata == nil {
		entry.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			continue
		}
		entry.Metadata[k] = v
	}
	entry.UpdatedAt = nowMillis()
	return m.putRegistry(ctx, entry)
}

func (m *RegistryManager) getRegistryEntry(ctx context.Context, id string) (*RegistryEntry, error) {
	raw, ok, err := m.store.Get(ctx, TableRegistry, id)
	if err != nil || !ok {
		return nil, err
	}
	return decodeRegistryEntry(raw)
}

func (m *RegistryManager) getQueueEntry(ctx context.Context, id string) (*QueueEntry, error) {
	raw, ok, err := m.store.Get(ctx, TableQueue, id)
	if err != nil || !ok {
		return nil, err
	}
	return decodeQueueEntry(raw)
}

func (m *RegistryManager) putRegistry(ctx context.Context, entry *RegistryEntry) error {
	raw, err := encodeRegistryEntry(entry)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, TableRegistry, entry.ID, raw)
}

func (m *RegistryManager) putQueue(ctx context.Context, queue *QueueEntry) error {
	raw, err := encodeQueueEntry(queue)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, TableQueue, queue.ID, raw)
}

// putRegistryAndQueue writes queue then registry. The store offers no
// cross-row transaction, so a reader may observe the queue write before the
// registry mirror lands.
func (m *RegistryManager) putRegistryAndQueue(ctx context.Context, entry *RegistryEntry, queue *QueueEntry) error {
	if err := m.putQueue(ctx, queue); err != nil {
		return err
	}
	return m.putRegistry(ctx, entry)
}

func (m *RegistryManager) removeRow(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, TableQueue, id); err != nil {
		return err
	}
	return m.store.Delete(ctx, TableRegistry, id)
}

