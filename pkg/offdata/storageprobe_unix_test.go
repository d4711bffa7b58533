//go:build !windows

package offdata

import "testing"

func TestDiskStorageProbeReportsRealFilesystem(t *testing.T) {
	dir := t.TempDir()
	p := NewDiskStorageProbe(dir, 0)

	est, err := p.Estimate()
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.QuotaBytes <= 0 {
		t.Fatalf("QuotaBytes = %d, want > 0 for a real filesystem", est.QuotaBytes)
	}
	if est.AvailableBytes <= 0 {
		t.Fatalf("AvailableBytes = %d, want > 0", est.AvailableBytes)
	}
	if est.UsageBytes < 0 {
		t.Fatalf("UsageBytes = %d, want >= 0", est.UsageBytes)
	}
}

func TestDiskStorageProbeHasEnoughSpaceForTinyRequest(t *testing.T) {
	dir := t.TempDir()
	p := NewDiskStorageProbe(dir, 0)

	ok, err := p.HasEnoughSpace(1)
	if err != nil {
		t.Fatalf("HasEnoughSpace: %v", err)
	}
	if !ok {
		t.Fatalf("a 1-byte request should fit on any real filesystem with free space")
	}
}

func TestDiskStorageProbeRejectsImpossibleRequest(t *testing.T) {
	dir := t.TempDir()
	p := NewDiskStorageProbe(dir, 0)

	ok, err := p.HasEnoughSpace(1 << 62)
	if err != nil {
		t.Fatalf("HasEnoughSpace: %v", err)
	}
	if ok {
		t.Fatalf("an absurdly large request must not fit")
	}
}

func TestDiskStorageProbePersistence(t *testing.T) {
	p := NewDiskStorageProbe(t.TempDir(), 0)
	if persisted, _ := p.IsPersisted(); persisted {
		t.Fatalf("IsPersisted should start false")
	}
	granted, err := p.RequestPersistence()
	if err != nil || !granted {
		t.Fatalf("RequestPersistence = %v, %v, want true, nil", granted, err)
	}
	if persisted, _ := p.IsPersisted(); !persisted {
		t.Fatalf("IsPersisted should be true after RequestPersistence")
	}
}

func TestDiskStorageProbeExplicitQuotaCaps(t *testing.T) {
	dir := t.TempDir()
	p := NewDiskStorageProbe(dir, 100)

	est, err := p.Estimate()
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.QuotaBytes != 100 {
		t.Fatalf("QuotaBytes = %d, want the explicit 100", est.QuotaBytes)
	}
}
