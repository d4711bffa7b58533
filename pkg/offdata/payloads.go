package offdata

// Payload types for each Topic.

// RegisteredPayload accompanies TopicRegistered.
type RegisteredPayload struct {
	ID     string
	Reason string // "new" or "version-updated"
}

// StatusPayload accompanies TopicStatus.
type StatusPayload struct {
	ID     string
	Status Status
}

// ProgressPayload accompanies TopicProgress.
type ProgressPayload struct {
	ID              string
	BytesDownloaded int64
	TotalBytes      *int64
	Percent         *int
}

// CompletePayload accompanies TopicComplete.
type CompletePayload struct {
	ID       string
	MimeType string
}

// ExpiredPayload accompanies TopicExpired.
type ExpiredPayload struct {
	ID string
}

// ErrorPayload accompanies TopicError.
type ErrorPayload struct {
	ID         string
	Err        error
	RetryCount int
	WillRetry  bool
}

// DeferredPayload accompanies TopicDeferred.
type DeferredPayload struct {
	ID     string
	Reason string
}

// DeletedPayload accompanies TopicDeleted.
type DeletedPayload struct {
	ID              string
	RegistryRemoved bool
}

// StoppedPayload accompanies TopicStopped. Always the zero value.
type StoppedPayload struct{}

// ConnectivityPayload accompanies TopicConnectivity.
type ConnectivityPayload struct {
	Online bool
}
