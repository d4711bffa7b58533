package offdata

// Config carries the manager's tunables, collected into a struct instead of
// package globals so multiple managers can coexist in one process with
// independent settings.
type Config struct {
	// DatabaseName and SchemaVersion identify the persisted layout a Store
	// implementation may use to namespace its tables.
	DatabaseName  string
	SchemaVersion int

	// Concurrency is the drain loop's default slot count.
	Concurrency int

	// ChunkSize is the Range-GET chunk size for chunked transfers.
	ChunkSize int64

	// ChunkThreshold is the totalBytes floor above which a transfer is
	// chunked rather than full-body (strictly greater than).
	ChunkThreshold int64
}

const (
	defaultDatabaseName  = "offline-data-manager"
	defaultSchemaVersion = 1
	defaultConcurrency   = 2
	mib                  = 1 << 20
	defaultChunkSize     = 2 * mib
	defaultChunkThresh   = 5 * mib
)

// DefaultConfig returns the stock tunables: concurrency 2, 2 MiB chunks,
// 5 MiB chunking threshold.
func DefaultConfig() Config {
	return Config{
		DatabaseName:   defaultDatabaseName,
		SchemaVersion:  defaultSchemaVersion,
		Concurrency:    defaultConcurrency,
		ChunkSize:      defaultChunkSize,
		ChunkThreshold: defaultChunkThresh,
	}
}

// normalize fills in zero-valued fields with their defaults, so a caller
// supplying a partially-populated Config doesn't end up with a zero
// concurrency or chunk size.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.DatabaseName == "" {
		c.DatabaseName = d.DatabaseName
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = d.SchemaVersion
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = d.ChunkThreshold
	}
	return c
}
