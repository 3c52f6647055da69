package state

import (
	"testing"
	"time"

	"solalert/pkg/types"
)

func floatp(v float64) *float64 { return &v }

func TestUpsertSetsCohortStartOnFirstConfirmation(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	t0 := time.Now()

	snap := s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		Symbol:          "FOO",
		ObservedAt:      t0,
		SignalTags:      []types.SignalTag{types.TagCohortConfirm, types.TagMomentumSpike},
	})
	if !snap.HasCohortStart() {
		t.Fatal("expected cohort start to be set after first confirmation")
	}
	if !snap.CohortStart.Equal(t0) {
		t.Errorf("cohort start = %v, want %v", snap.CohortStart, t0)
	}

	// A second confirmation later must not move T0.
	later := t0.Add(10 * time.Minute)
	snap2 := s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		ObservedAt:      later,
		SignalTags:      []types.SignalTag{types.TagCohortConfirm},
	})
	if !snap2.CohortStart.Equal(t0) {
		t.Errorf("cohort start moved to %v, want it to stay at %v", snap2.CohortStart, t0)
	}
}

func TestMarkAlertedOnlyStrengthens(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	s.Upsert(types.ParsedEvent{ContractAddress: "AAAA1111", Symbol: "FOO", ObservedAt: time.Now()})

	now := time.Now()
	s.MarkAlerted("AAAA1111", types.Tier2, now)
	snap, _ := s.Snapshot("AAAA1111")
	if snap.AlertedTier != types.Tier2 {
		t.Fatalf("alerted tier = %v, want Tier2", snap.AlertedTier)
	}

	// weaker tier must not downgrade
	s.MarkAlerted("AAAA1111", types.Tier3, now.Add(time.Minute))
	snap, _ = s.Snapshot("AAAA1111")
	if snap.AlertedTier != types.Tier2 {
		t.Errorf("alerted tier downgraded to %v, want it to stay Tier2", snap.AlertedTier)
	}

	// strictly stronger tier must upgrade
	s.MarkAlerted("AAAA1111", types.Tier1, now.Add(2*time.Minute))
	snap, _ = s.Snapshot("AAAA1111")
	if snap.AlertedTier != types.Tier1 {
		t.Errorf("alerted tier = %v, want Tier1 after upgrade", snap.AlertedTier)
	}
}

func TestReconcileHotlistMergesTagWithinSkew(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	t0 := time.Now()

	// Real contract seen first.
	s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		Symbol:          "FOO",
		ObservedAt:      t0,
	})

	// Hotlist sentinel for the same symbol arrives within the skew window.
	s.Upsert(types.ParsedEvent{
		ContractAddress: "HOTLIST:FOO",
		Symbol:          "FOO",
		ObservedAt:      t0.Add(10 * time.Minute),
		SignalTags:      []types.SignalTag{types.TagTop5Hotlist},
	})

	// A later event on the real contract should trigger reconciliation.
	snap := s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		ObservedAt:      t0.Add(11 * time.Minute),
	})
	if !snap.TagsUnion[types.TagTop5Hotlist] {
		t.Error("expected top5_hotlist tag to be merged onto the real contract's state")
	}
}

func TestReconcileHotlistIgnoresOutsideSkew(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	t0 := time.Now()

	s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		Symbol:          "FOO",
		ObservedAt:      t0,
	})
	s.Upsert(types.ParsedEvent{
		ContractAddress: "HOTLIST:FOO",
		Symbol:          "FOO",
		ObservedAt:      t0.Add(45 * time.Minute), // outside ±20min skew
		SignalTags:      []types.SignalTag{types.TagTop5Hotlist},
	})
	snap := s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		ObservedAt:      t0.Add(46 * time.Minute),
	})
	if snap.TagsUnion[types.TagTop5Hotlist] {
		t.Error("expected top5_hotlist tag NOT to merge when the hotlist event falls outside the skew window")
	}
	if !snap.TagsUnion[types.TagLateHotlist] {
		t.Error("expected late_hotlist tag when the hotlist event falls outside the skew window")
	}
}

func TestReconcileHotlistMergesImmediatelyOnHotlistArrival(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	t0 := time.Now()

	s.Upsert(types.ParsedEvent{
		ContractAddress: "AAAA1111",
		Symbol:          "FOO",
		ObservedAt:      t0,
	})

	// The hotlist sentinel's own Upsert call should return the reconciled
	// real contract's snapshot, without waiting for a further real event.
	snap := s.Upsert(types.ParsedEvent{
		ContractAddress: "HOTLIST:FOO",
		Symbol:          "FOO",
		ObservedAt:      t0.Add(5 * time.Minute),
		SignalTags:      []types.SignalTag{types.TagTop5Hotlist},
	})

	if snap.ContractAddress != "AAAA1111" {
		t.Fatalf("expected hotlist upsert to return the real contract's snapshot, got %q", snap.ContractAddress)
	}
	if !snap.TagsUnion[types.TagTop5Hotlist] {
		t.Error("expected top5_hotlist tag to be merged as soon as the hotlist event arrives")
	}
}

func TestUpsertTracksLatestMarketCapAndBuySize(t *testing.T) {
	s := NewStore(30*time.Minute, 20*time.Minute, 10_000)
	s.Upsert(types.ParsedEvent{ContractAddress: "AAAA1111", ObservedAt: time.Now(), MarketCapUSD: floatp(40_000), BuySOL: floatp(5)})
	snap := s.Upsert(types.ParsedEvent{ContractAddress: "AAAA1111", ObservedAt: time.Now(), MarketCapUSD: floatp(60_000), BuySOL: floatp(25)})

	if snap.LatestMarketCapUSD == nil || *snap.LatestMarketCapUSD != 60_000 {
		t.Errorf("latest market cap = %v, want 60000", snap.LatestMarketCapUSD)
	}
	if snap.TopBuySOL != 25 {
		t.Errorf("top buy sol = %v, want 25", snap.TopBuySOL)
	}
	if snap.LastBuySOL != 25 {
		t.Errorf("last buy sol = %v, want 25", snap.LastBuySOL)
	}
}

func TestEventRingCapsAt256EntriesEvenWithinWindow(t *testing.T) {
	s := NewStore(24*time.Hour, 20*time.Minute, 10_000)
	base := time.Now()

	var snap types.TokenSnapshot
	for i := 0; i < 300; i++ {
		snap = s.Upsert(types.ParsedEvent{
			ContractAddress: "AAAA1111",
			Symbol:          "FOO",
			ObservedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	if len(snap.Events) != 256 {
		t.Fatalf("event ring length = %d, want 256", len(snap.Events))
	}
	last := snap.Events[len(snap.Events)-1]
	if !last.ObservedAt.Equal(base.Add(299 * time.Second)) {
		t.Errorf("newest retained event observed at %v, want the most recent arrival", last.ObservedAt)
	}
}
