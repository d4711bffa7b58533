package offdata

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a QueueEntry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusComplete   Status = "complete"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
	StatusDeferred   Status = "deferred"
)

// IsReady reports whether s is a terminal payload-bearing status
// (complete or expired). Note that actual retrievability tracks the stored
// payload, not the status: a row re-queued as pending by a version bump
// keeps serving its retained payload until the refresh swaps it out.
func (s Status) IsReady() bool {
	return s == StatusComplete || s == StatusExpired
}

// eligibleForDrain reports whether a row in this status should be picked up
// by the next drain cycle selection.
func (s Status) eligibleForDrain() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusPaused, StatusDeferred, StatusExpired:
		return true
	default:
		return false
	}
}

// Priority controls drain-loop ordering: lower values start earlier, with
// stable tie-break by insertion order.
type Priority int

// DefaultPriority is used when a RegistryEntry omits Priority.
const DefaultPriority Priority = 10

// RegistryEntry is the authoritative definition of a registered item.
// Fields mirror the queue's status so GetStatus can read a single table.
type RegistryEntry struct {
	ID           string         `json:"id"`
	DownloadURL  string         `json:"downloadUrl"`
	MimeType     *string        `json:"mimeType"`
	Version      int64          `json:"version"`
	Protected    bool           `json:"protected"`
	Priority     Priority       `json:"priority"`
	TTLSeconds   int64          `json:"ttl"`
	TotalBytes   *int64         `json:"totalBytes"`
	Metadata     map[string]any `json:"metadata"`
	RegisteredAt int64          `json:"registeredAt"`
	UpdatedAt    int64          `json:"updatedAt"`

	// Mirrored queue status fields, written in the same logical step as
	// the queue row whenever the engine changes queue status.
	Status          Status  `json:"status"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	ByteOffset      int64   `json:"byteOffset"`
	RetryCount      int     `json:"retryCount"`
	LastAttemptAt   *int64  `json:"lastAttemptAt"`
	CompletedAt     *int64  `json:"completedAt"`
	ExpiresAt       *int64  `json:"expiresAt"`
	ErrorMessage    *string `json:"errorMessage"`
	DeferredReason  *string `json:"deferredReason"`

	// InsertionSeq breaks priority ties in registration order. Set by the
	// RegistryManager on first registration; not part of the wire contract
	// a caller provides, but persisted (it must survive a restart, so it
	// cannot be a private field dropped by JSON marshaling) so ordering is
	// stable across process lifetimes.
	InsertionSeq int64 `json:"insertionSeq"`
}

// QueueEntry is the transient download state for an item. Data is only
// non-nil once a download completes; a partially downloaded item is never
// retrievable.
type QueueEntry struct {
	ID              string  `json:"id"`
	Status          Status  `json:"status"`
	Data            []byte  `json:"data"`
	MimeType        *string `json:"mimeType"`
	BytesDownloaded int64   `json:"bytesDownloaded"`
	TotalBytes      *int64  `json:"totalBytes"`
	ByteOffset      int64   `json:"byteOffset"`
	RetryCount      int     `json:"retryCount"`
	LastAttemptAt   *int64  `json:"lastAttemptAt"`
	CompletedAt     *int64  `json:"completedAt"`
	ExpiresAt       *int64  `json:"expiresAt"`
	ErrorMessage    *string `json:"errorMessage"`
	DeferredReason  *string `json:"deferredReason"`
}

// nowMillis returns the current time in Unix milliseconds, matching the
// ms-timestamp fields used throughout the data model.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func int64Ptr(v int64) *int64    { return &v }
func stringPtr(v string) *string { return &v }

// StatusView is the read-only projection GetStatus/GetAllStatus return.
// Percent is nil when TotalBytes is unknown.
type StatusView struct {
	ID              string
	Status          Status
	Percent         *int
	BytesDownloaded int64
	TotalBytes      *int64
	MimeType        *string
	Priority        Priority
	ErrorMessage    *string
	DeferredReason  *string
	ExpiresAt       *int64
	UpdatedAt       int64
}

// StorageSummary augments GetAllStatus with a quota snapshot.
type StorageSummary struct {
	UsageBytes     int64
	QuotaBytes     int64
	AvailableBytes int64
}

// encodeRegistryEntry/decodeRegistryEntry and their QueueEntry counterparts
// are the Store row codec. JSON rather than gob: Metadata is an opaque
// map[string]any, and gob requires concrete types registered for any
// interface value it encodes, which a caller-owned metadata bag can't
// promise.
func encodeRegistryEntry(e *RegistryEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeRegistryEntry(b []byte) (*RegistryEntry, error) {
	var e RegistryEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func encodeQueueEntry(q *QueueEntry) ([]byte, error) {
	return json.Marshal(q)
}

func decodeQueueEntry(b []byte) (*QueueEntry, error) {
	var q QueueEntry
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, err
	}
	return &q, nil
}
