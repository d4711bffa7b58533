//go:build !windows

package offdata

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskStorageProbe is a StorageProbe backed by the free space of a local
// filesystem path, standing in for the browser StorageManager quota API
// when the host is a plain Go process. Uses golang.org/x/sys/unix.Statfs
// so the same code path works on darwin/bsd/linux alike.
type DiskStorageProbe struct {
	path       string
	quotaBytes int64 // 0 means "use the filesystem's total size as quota"
	persisted  bool
}

// NewDiskStorageProbe creates a probe rooted at path. If quotaBytes is 0,
// the probe reports the filesystem's total size as quota (an unbounded
// quota, matching a desktop environment with no per-origin cap).
func NewDiskStorageProbe(path string, quotaBytes int64) *DiskStorageProbe {
	return &DiskStorageProbe{path: path, quotaBytes: quotaBytes}
}

func (p *DiskStorageProbe) Estimate() (Estimate, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.path, &st); err != nil {
		return Estimate{}, fmt.Errorf("offdata: statfs %s: %w", p.path, err)
	}
	blockSize := int64(st.Bsize)
	total := int64(st.Blocks) * blockSize
	available := int64(st.Bavail) * blockSize

	quota := p.quotaBytes
	if quota <= 0 {
		quota = total
	}
	usage := quota - available
	if usage < 0 {
		usage = 0
	}
	return Estimate{
		UsageBytes:     usage,
		QuotaBytes:     quota,
		AvailableBytes: available,
	}, nil
}

func (p *DiskStorageProbe) HasEnoughSpace(n int64) (bool, error) {
	est, err := p.Estimate()
	if err != nil {
		return false, err
	}
	return hasEnoughSpace(est, n), nil
}

// RequestPersistence always grants, since local disk is already durable,
// and records the grant so IsPersisted reports true afterwards.
func (p *DiskStorageProbe) RequestPersistence() (bool, error) {
	p.persisted = true
	return true, nil
}

func (p *DiskStorageProbe) IsPersisted() (bool, error) {
	return p.persisted, nil
}
