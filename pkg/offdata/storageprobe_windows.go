//go:build windows

package offdata

import (
	"fmt"
	"syscall"
	"unsafe"
)

// DiskStorageProbe is the Windows variant, using GetDiskFreeSpaceExW from
// kernel32 (there is no statfs equivalent in the Windows syscall surface).
type DiskStorageProbe struct {
	path       string
	quotaBytes int64
	persisted  bool
}

func NewDiskStorageProbe(path string, quotaBytes int64) *DiskStorageProbe {
	return &DiskStorageProbe{path: path, quotaBytes: quotaBytes}
}

var (
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx = kernel32.NewProc("GetDiskFreeSpaceExW")
)

func (p *DiskStorageProbe) Estimate() (Estimate, error) {
	pathPtr, err := syscall.UTF16PtrFromString(p.path)
	if err != nil {
		return Estimate{}, fmt.Errorf("offdata: invalid path %s: %w", p.path, err)
	}
	var freeAvail, totalBytes, totalFree uint64
	ret, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeAvail)),
		uintptr(unsafe.Pointer(&totalBytes)),
		uintptr(unsafe.Pointer(&totalFree)),
	)
	if ret == 0 {
		return Estimate{}, fmt.Errorf("offdata: GetDiskFreeSpaceEx %s: %w", p.path, callErr)
	}

	quota := p.quotaBytes
	if quota <= 0 {
		quota = int64(totalBytes)
	}
	usage := quota - int64(freeAvail)
	if usage < 0 {
		usage = 0
	}
	return Estimate{
		UsageBytes:     usage,
		QuotaBytes:     quota,
		AvailableBytes: int64(freeAvail),
	}, nil
}

func (p *DiskStorageProbe) HasEnoughSpace(n int64) (bool, error) {
	est, err := p.Estimate()
	if err != nil {
		return false, err
	}
	return hasEnoughSpace(est, n), nil
}

func (p *DiskStorageProbe) RequestPersistence() (bool, error) {
	p.persisted = true
	return true, nil
}

func (p *DiskStorageProbe) IsPersisted() (bool, error) {
	return p.persisted, nil
}
