package offdata

import "sync"

// MemStorageProbe is a fixed-value StorageProbe used in tests. Callers
// change the reported usage between assertions via SetUsage.
type MemStorageProbe struct {
	mu        sync.Mutex
	Usage     int64
	Quota     int64
	persisted bool
}

// NewMemStorageProbe creates a probe reporting the given usage/quota.
func NewMemStorageProbe(usage, quota int64) *MemStorageProbe {
	return &MemStorageProbe{Usage: usage, Quota: quota}
}

func (p *MemStorageProbe) Estimate() (Estimate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Estimate{
		UsageBytes:     p.Usage,
		QuotaBytes:     p.Quota,
		AvailableBytes: p.Quota - p.Usage,
	}, nil
}

func (p *MemStorageProbe) HasEnoughSpace(n int64) (bool, error) {
	est, _ := p.Estimate()
	return hasEnoughSpace(est, n), nil
}

// SetUsage updates the reported usage, e.g. after a test frees space.
func (p *MemStorageProbe) SetUsage(usage int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Usage = usage
}

func (p *MemStorageProbe) RequestPersistence() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = true
	return true, nil
}

func (p *MemStorageProbe) IsPersisted() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persisted, nil
}
