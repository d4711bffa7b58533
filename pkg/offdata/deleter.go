package offdata

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DeleteFile aborts any active fetch for id, then either removes both rows
// (removeProtected or the entry isn't protected) or resets the queue row to
// a fresh pending state while the registry row survives.
// Either way emits deleted{id, registryRemoved}.
func (e *DownloadEngine) DeleteFile(ctx context.Context, id string, removeProtected bool) error {
	entry, err := e.getRegistryEntry(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %q", ErrNotRegistered, id)
	}

	e.AbortDownload(id)

	if removeProtected || !entry.Protected {
		if err := e.store.Delete(ctx, TableQueue, id); err != nil {
			return err
		}
		if err := e.store.Delete(ctx, TableRegistry, id); err != nil {
			return err
		}
		e.clearPartial(id)
		e.events.Emit(TopicDeleted, DeletedPayload{ID: id, RegistryRemoved: true})
		// Freeing a row's storage may unblock another item parked in
		// deferred by the quota precheck: wake the loop so it re-evaluates
		// rather than waiting for an unrelated registration or retry.
		e.w.notify()
		return nil
	}

	now := nowMillis()
	entry.Status = StatusPending
	entry.BytesDownloaded = 0
	entry.ByteOffset = 0
	entry.RetryCount = 0
	entry.LastAttemptAt = nil
	entry.CompletedAt = nil
	entry.ExpiresAt = nil
	entry.ErrorMessage = nil
	entry.DeferredReason = nil
	entry.UpdatedAt = now

	queue := &QueueEntry{ID: id, Status: StatusPending}
	if err := e.putRegistryAndQueue(ctx, entry, queue); err != nil {
		return err
	}
	e.clearPartial(id)
	e.events.Emit(TopicDeleted, DeletedPayload{ID: id, RegistryRemoved: false})
	e.w.notify()
	return nil
}

// DeleteAllFiles aborts every in-flight fetch, then applies DeleteFile to
// every registered id, aggregating per-id failures.
func (e *DownloadEngine) DeleteAllFiles(ctx context.Context, removeProtected bool) error {
	e.AbortAllDownloads()

	ids, err := e.store.GetAllIDs(ctx, TableRegistry)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, id := range ids {
		if err := e.DeleteFile(ctx, id, removeProtected); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("id %q: %w", id, err))
		}
	}
	return merr.ErrorOrNil()
}
