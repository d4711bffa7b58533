package offdata

import "testing"

func TestHasEnoughSpaceHoldsBackMargin(t *testing.T) {
	// quota 1e10, usage 5e9 -> available 5e9, margin 10% of quota = 1e9,
	// usable = 4e9.
	est := Estimate{UsageBytes: 5_000_000_000, QuotaBytes: 10_000_000_000, AvailableBytes: 5_000_000_000}

	if ok := hasEnoughSpace(est, 4_000_000_000); !ok {
		t.Fatalf("4e9 should fit within the 4e9 usable margin")
	}
	if ok := hasEnoughSpace(est, 4_000_000_001); ok {
		t.Fatalf("4e9+1 should not fit within the 4e9 usable margin")
	}
}

func TestHasEnoughSpaceZeroOrNegativeAlwaysFits(t *testing.T) {
	est := Estimate{UsageBytes: 10, QuotaBytes: 10, AvailableBytes: 0}
	if ok := hasEnoughSpace(est, 0); !ok {
		t.Fatalf("n=0 must always fit")
	}
	if ok := hasEnoughSpace(est, -5); !ok {
		t.Fatalf("negative n must always fit")
	}
}

func TestMemStorageProbeEstimate(t *testing.T) {
	p := NewMemStorageProbe(5_000_000_000, 10_000_000_000)
	est, err := p.Estimate()
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.UsageBytes != 5_000_000_000 || est.QuotaBytes != 10_000_000_000 || est.AvailableBytes != 5_000_000_000 {
		t.Fatalf("Estimate = %+v, want usage=5e9 quota=1e10 available=5e9", est)
	}
}

func TestMemStorageProbeHasEnoughSpaceReactsToSetUsage(t *testing.T) {
	p := NewMemStorageProbe(5_000_000_000, 10_000_000_000)
	ok, err := p.HasEnoughSpace(9_000_000_000)
	if err != nil {
		t.Fatalf("HasEnoughSpace: %v", err)
	}
	if ok {
		t.Fatalf("9e9 should not fit with only 5e9 available and a 1e9 margin")
	}

	p.SetUsage(0)
	ok, err = p.HasEnoughSpace(9_000_000_000)
	if err != nil {
		t.Fatalf("HasEnoughSpace after SetUsage: %v", err)
	}
	if !ok {
		t.Fatalf("9e9 should fit once usage drops to 0 (available=1e10, margin=1e9)")
	}
}

func TestMemStorageProbePersistence(t *testing.T) {
	p := NewMemStorageProbe(0, 100)
	persisted, err := p.IsPersisted()
	if err != nil || persisted {
		t.Fatalf("IsPersisted before request = %v, %v, want false, nil", persisted, err)
	}
	granted, err := p.RequestPersistence()
	if err != nil || !granted {
		t.Fatalf("RequestPersistence = %v, %v, want true, nil", granted, err)
	}
	persisted, err = p.IsPersisted()
	if err != nil || !persisted {
		t.Fatalf("IsPersisted after request = %v, %v, want true, nil", persisted, err)
	}
}
