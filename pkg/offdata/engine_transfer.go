package offdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// processItem runs the per-item fetch state machine for id to completion:
// in-progress → {complete | paused | failed | deferred}, with the bounded
// retry/backoff loop folded in as an internal loop within this single
// invocation rather than a re-entry through the outer drain selection.
// Returns whether a real network attempt was made, as opposed to a
// same-cycle storage-quota deferral.
func (e *DownloadEngine) processItem(ctx context.Context, id string) bool {
	itemCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.abortTokens[id] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.abortTokens, id)
		e.mu.Unlock()
		cancel()
	}()

	attempted := false
	for {
		entry, err := e.getRegistryEntry(itemCtx, id)
		if err != nil || entry == nil {
			return attempted
		}
		queue, err := e.getQueueEntry(itemCtx, id)
		if err != nil {
			return attempted
		}
		if queue == nil {
			queue = &QueueEntry{ID: id}
		}

		if deferred := e.checkQuota(itemCtx, entry, queue); deferred {
			return attempted
		}
		attempted = true

		now := nowMillis()
		entry.Status = StatusInProgress
		entry.LastAttemptAt = int64Ptr(now)
		entry.ErrorMessage = nil
		entry.UpdatedAt = now
		queue.Status = StatusInProgress
		queue.LastAttemptAt = int64Ptr(now)
		queue.ErrorMessage = nil
		if err := e.putRegistryAndQueue(itemCtx, entry, queue); err != nil {
			return true
		}
		e.events.Emit(TopicStatus, StatusPayload{ID: id, Status: StatusInProgress})

		attemptErr := e.attempt(itemCtx, entry, queue)
		if attemptErr == nil {
			return true
		}

		if errors.Is(attemptErr, ErrAbort) {
			// itemCtx is already canceled here; the paused write must not
			// inherit that cancellation or a context-aware Store drops it.
			e.settlePaused(context.WithoutCancel(itemCtx), id)
			return true
		}

		attemptID := uuid.NewString()
		e.log.Error("offdata: attempt %s for %s failed: %v", attemptID, id, attemptErr)

		entry, err = e.getRegistryEntry(itemCtx, id)
		if err != nil || entry == nil {
			return true
		}
		queue, err = e.getQueueEntry(itemCtx, id)
		if err != nil {
			return true
		}
		if queue == nil {
			queue = &QueueEntry{ID: id}
		}

		retryCount := queue.RetryCount + 1
		errMsg := attemptErr.Error()
		now = nowMillis()

		if retryCount > MaxRetries {
			entry.Status = StatusFailed
			entry.RetryCount = retryCount
			entry.ErrorMessage = &errMsg
			entry.UpdatedAt = now
			queue.Status = StatusFailed
			queue.RetryCount = retryCount
			queue.ErrorMessage = &errMsg
			_ = e.putRegistryAndQueue(itemCtx, entry, queue)
			e.events.Emit(TopicError, ErrorPayload{ID: id, Err: attemptErr, RetryCount: retryCount, WillRetry: false})
			e.clearPartial(id)
			return true
		}

		entry.Status = StatusPending
		entry.RetryCount = retryCount
		entry.ErrorMessage = &errMsg
		entry.UpdatedAt = now
		queue.Status = StatusPending
		queue.RetryCount = retryCount
		queue.ErrorMessage = &errMsg
		_ = e.putRegistryAndQueue(itemCtx, entry, queue)
		e.events.Emit(TopicError, ErrorPayload{ID: id, Err: attemptErr, RetryCount: retryCount, WillRetry: true})

		if sleepErr := sleepOrAbort(itemCtx, backoffDelay(retryCount)); sleepErr != nil {
			e.settlePaused(context.WithoutCancel(itemCtx), id)
			return true
		}
		// loop back for the next attempt within this same invocation
	}
}

// checkQuota is the pre-dispatch storage check: when the item's known size
// doesn't fit while holding back the safety margin, the row transitions to
// deferred and the slot is released without a network attempt. Items with
// no size hint skip the check.
func (e *DownloadEngine) checkQuota(ctx context.Context, entry *RegistryEntry, queue *QueueEntry) bool {
	if e.probe == nil {
		return false
	}
	var need int64
	if entry.TotalBytes != nil {
		need = *entry.TotalBytes
	} else if queue.TotalBytes != nil {
		need = *queue.TotalBytes
	}
	if need <= 0 {
		return false
	}
	ok, err := e.probe.HasEnoughSpace(need)
	if err != nil || ok {
		return false
	}
	entry.Status = StatusDeferred
	entry.DeferredReason = stringPtr("insufficient-storage")
	entry.UpdatedAt = nowMillis()
	queue.Status = StatusDeferred
	queue.DeferredReason = stringPtr("insufficient-storage")
	_ = e.putRegistryAndQueue(ctx, entry, queue)
	e.events.Emit(TopicDeferred, DeferredPayload{ID: entry.ID, Reason: "insufficient-storage"})
	return true
}

// settlePaused re-reads the row and writes paused, used on both abort and
// retry-sleep cancellation paths. An abort delivered while the host is
// offline records the network-offline reason here too, since the worker
// may settle the row before the offline-edge scan observes it as
// in-progress.
func (e *DownloadEngine) settlePaused(ctx context.Context, id string) {
	entry, err := e.getRegistryEntry(ctx, id)
	if err != nil || entry == nil {
		return
	}
	queue, err := e.getQueueEntry(ctx, id)
	if err != nil {
		return
	}
	if queue == nil {
		queue = &QueueEntry{ID: id}
	}
	entry.Status = StatusPaused
	entry.UpdatedAt = nowMillis()
	queue.Status = StatusPaused
	if e.connectivity != nil && !e.connectivity.IsOnline() {
		entry.DeferredReason = stringPtr("network-offline")
		queue.DeferredReason = stringPtr("network-offline")
	}
	_ = e.putRegistryAndQueue(ctx, entry, queue)
	e.events.Emit(TopicStatus, StatusPayload{ID: id, Status: StatusPaused})
}

// attempt runs one full fetch attempt: HEAD probe (unless resuming),
// transfer-mode selection, the chosen transfer, and the atomic success
// write. Returns ErrAbort on cancellation, a wrapped ErrTransport on any
// other failure, or nil on success (the complete event has already been
// emitted by the time this returns nil).
func (e *DownloadEngine) attempt(ctx context.Context, entry *RegistryEntry, queue *QueueEntry) error {
	client, err := e.router.ClientFor(entry.DownloadURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var supportsRange bool
	var totalBytes *int64
	var probedMime *string

	if queue.ByteOffset == 0 {
		resp, herr := client.Fetch(ctx, FetchRequest{Method: "HEAD", URL: entry.DownloadURL})
		if herr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
			}
			// HEAD failures are tolerated: fall through with
			// supportsRange=false, totalBytes=nil, mimeType=nil.
		} else if resp != nil && resp.OK {
			supportsRange = resp.header("Accept-Ranges") == "bytes"
			totalBytes = contentLengthUnlessEncoded(resp)
			probedMime = contentTypeToken(resp)
		}
	} else {
		supportsRange = true
		totalBytes = queue.TotalBytes
		probedMime = queue.MimeType
	}

	chunked := supportsRange && totalBytes != nil && *totalBytes > e.config.ChunkThreshold

	var data []byte
	var getMime *string
	if chunked {
		data, getMime, err = e.runChunked(ctx, entry, queue, client, *totalBytes)
	} else {
		data, totalBytes, getMime, err = e.runFullBody(ctx, entry, queue, client, totalBytes)
	}
	if err != nil {
		return err
	}

	finalMime := resolveMime(entry.MimeType, probedMime, getMime)
	now := nowMillis()
	var expiresAt *int64
	if entry.TTLSeconds > 0 {
		expiresAt = int64Ptr(now + entry.TTLSeconds*1000)
	}
	size := int64(len(data))

	entry.Status = StatusComplete
	entry.MimeType = &finalMime
	entry.BytesDownloaded = size
	entry.ByteOffset = size
	entry.TotalBytes = int64Ptr(size)
	entry.CompletedAt = int64Ptr(now)
	entry.ExpiresAt = expiresAt
	entry.ErrorMessage = nil
	entry.DeferredReason = nil
	entry.UpdatedAt = now

	queue.Status = StatusComplete
	queue.Data = data
	queue.MimeType = &finalMime
	queue.BytesDownloaded = size
	queue.ByteOffset = size
	queue.TotalBytes = int64Ptr(size)
	queue.CompletedAt = int64Ptr(now)
	queue.ExpiresAt = expiresAt
	queue.ErrorMessage = nil
	queue.DeferredReason = nil

	if err := e.putRegistryAndQueue(ctx, entry, queue); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	e.clearPartial(entry.ID)
	e.events.Emit(TopicComplete, CompletePayload{ID: entry.ID, MimeType: finalMime})
	return nil
}

// runChunked issues sequential Range GETs of ChunkSize bytes from
// queue.ByteOffset to totalBytes-1, persisting byteOffset/bytesDownloaded
// and emitting progress after each chunk. Bytes accumulate in an
// engine-owned in-memory buffer that survives a pause within the engine's
// lifetime (see partial.go), so a resumed attempt need only fetch the
// remaining range.
func (e *DownloadEngine) runChunked(ctx context.Context, entry *RegistryEntry, queue *QueueEntry, client FetchClient, total int64) ([]byte, *string, error) {
	offset := queue.ByteOffset
	if have := e.partialLen(entry.ID); have != offset {
		// The persisted cursor and the accumulated bytes disagree (a
		// restarted process, or a cleared buffer). Restart the transfer
		// rather than completing with a short payload.
		e.clearPartial(entry.ID)
		offset = 0
		queue.ByteOffset = 0
		queue.BytesDownloaded = 0
		entry.ByteOffset = 0
		entry.BytesDownloaded = 0
	}
	var getMime *string

	for offset < total {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
		}

		end := offset + e.config.ChunkSize - 1
		if end > total-1 {
			end = total - 1
		}
		resp, err := client.Fetch(ctx, FetchRequest{
			Method: "GET",
			URL:    entry.DownloadURL,
			Headers: map[string]string{
				"Range": fmt.Sprintf("bytes=%d-%d", offset, end),
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		if resp.StatusCode == 200 {
			closeBody(resp)
			return nil, nil, fmt.Errorf("%w: server ignored Range request (got 200 for a chunk request)", ErrTransport)
		}
		if resp.StatusCode != 206 {
			closeBody(resp)
			return nil, nil, fmt.Errorf("%w: unexpected status %d for range request", ErrTransport, resp.StatusCode)
		}
		if getMime == nil {
			getMime = contentTypeToken(resp)
		}

		chunk, err := io.ReadAll(resp.Body)
		closeBody(resp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		e.appendPartial(entry.ID, chunk)
		offset += int64(len(chunk))

		entry.ByteOffset = offset
		entry.BytesDownloaded = offset
		entry.TotalBytes = int64Ptr(total)
		queue.ByteOffset = offset
		queue.BytesDownloaded = offset
		queue.TotalBytes = int64Ptr(total)
		if err := e.putRegistryAndQueue(ctx, entry, queue); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		percent := int(math.Round(float64(offset) / float64(total) * 100))
		e.events.Emit(TopicProgress, ProgressPayload{
			ID:              entry.ID,
			BytesDownloaded: offset,
			TotalBytes:      int64Ptr(total),
			Percent:         &percent,
		})
	}

	return e.takePartial(entry.ID), getMime, nil
}

// runFullBody issues a single GET and streams the body into memory,
// emitting progress as bytes arrive. knownTotal seeds the percent
// calculation when the GET's own Content-Length is unavailable or
// suppressed by a non-identity Content-Encoding.
func (e *DownloadEngine) runFullBody(ctx context.Context, entry *RegistryEntry, queue *QueueEntry, client FetchClient, knownTotal *int64) ([]byte, *int64, *string, error) {
	resp, err := client.Fetch(ctx, FetchRequest{Method: "GET", URL: entry.DownloadURL})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer closeBody(resp)

	if !resp.OK {
		return nil, nil, nil, fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	total := contentLengthUnlessEncoded(resp)
	if total == nil {
		total = knownTotal
	}
	getMime := contentTypeToken(resp)

	data, err := e.readWithProgress(ctx, entry.ID, resp.Body, total)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", ErrAbort, ctx.Err())
		}
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return data, total, getMime, nil
}

// readWithProgress reads body in fixed-size increments, emitting a
// progress event per read. A nil body (a zero-byte or HEAD-only response)
// still fires one progress event at 100% before returning an empty slice.
func (e *DownloadEngine) readWithProgress(ctx context.Context, id string, body io.ReadCloser, total *int64) ([]byte, error) {
	if body == nil {
		p := 100
		e.events.Emit(TopicProgress, ProgressPayload{ID: id, BytesDownloaded: 0, TotalBytes: total, Percent: &p})
		return []byte{}, nil
	}

	const readSize = 32 * 1024
	buf := make([]byte, readSize)
	var data []byte
	var downloaded int64

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			downloaded += int64(n)
			var percent *int
			if total != nil && *total > 0 {
				p := int(math.Round(float64(downloaded) / float64(*total) * 100))
				percent = &p
			}
			e.events.Emit(TopicProgress, ProgressPayload{ID: id, BytesDownloaded: downloaded, TotalBytes: total, Percent: percent})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(data) == 0 {
		p := 100
		e.events.Emit(TopicProgress, ProgressPayload{ID: id, BytesDownloaded: 0, TotalBytes: total, Percent: &p})
		return []byte{}, nil
	}
	return data, nil
}

func closeBody(resp *FetchResponse) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

// contentLengthUnlessEncoded returns the Content-Length only when no
// content-encoding other than identity was applied; a compressed transfer
// size would mislead progress reporting.
func contentLengthUnlessEncoded(resp *FetchResponse) *int64 {
	if enc := resp.header("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		return nil
	}
	cl := resp.header("Content-Length")
	if cl == "" {
		return nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// contentTypeToken extracts the bare MIME type from a Content-Type header,
// stripping charset/params.
func contentTypeToken(resp *FetchResponse) *string {
	ct := resp.header("Content-Type")
	if ct == "" {
		return nil
	}
	token := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	if token == "" {
		return nil
	}
	return &token
}

// resolveMime applies the MIME resolution order: registry-specified, then
// HEAD-probed, then GET-response, then application/octet-stream.
func resolveMime(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return "application/octet-stream"
}
