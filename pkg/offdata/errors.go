package offdata

import "errors"

var (
	// ErrValidation is returned when a RegistryEntry fails shape validation:
	// empty id, empty downloadUrl, negative version, or negative ttl.
	ErrValidation = errors.New("offdata: invalid registry entry")

	// ErrNotRegistered is returned when retrieve/delete/updateRegistryMetadata
	// is called with an id that has no registry row. GetStatus does not
	// return it: an unknown id yields a nil view and a nil error.
	ErrNotRegistered = errors.New("offdata: item not registered")

	// ErrNotReady is returned by Retrieve when the item's status is not in
	// the READY set, or its payload is nil.
	ErrNotReady = errors.New("offdata: item not ready")

	// ErrTransport classifies a HEAD/GET failure: non-2xx status (excluding
	// a 206 on a Range request), network failure, or a truncated stream.
	// Transport errors drive the per-item retry/backoff loop.
	ErrTransport = errors.New("offdata: transport error")

	// ErrAbort marks cooperative cancellation of an in-flight fetch. Never
	// retried; drives the item to paused.
	ErrAbort = errors.New("offdata: download aborted")

	// ErrStorageQuota marks a Store write that ran out of storage. When
	// RegisterFile's write fails with it, the failure is emitted as an error
	// event keyed by the id being registered and RegisterFile returns nil.
	// During a download any failed store write, this one included, is
	// reported as ErrTransport and retried; the row does not move to
	// deferred on this error. Rows reach deferred only through the
	// StorageProbe precheck before dispatch.
	ErrStorageQuota = errors.New("offdata: storage quota exceeded")

	// ErrUnsupportedScheme is returned by the scheme router when a URL's
	// scheme has no registered FetchClient factory.
	ErrUnsupportedScheme = errors.New("offdata: unsupported download scheme")
)
