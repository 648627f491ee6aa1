package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sourcebazaar/realtime/internal/auth"
	"github.com/sourcebazaar/realtime/internal/events"
	"github.com/sourcebazaar/realtime/internal/policy"
	"github.com/sourcebazaar/realtime/internal/store"
)

const pincode = "110001"

var (
	president = auth.Identity{UserID: "u-pres", Role: auth.RoleVendor}
	member    = auth.Identity{UserID: "u-member", Role: auth.RoleVendor}
)

// newTestEngine returns an engine whose community already has a president.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	communities := store.NewMemoryCommunities()
	if _, _, err := communities.Ensure(context.Background(), pincode, president.UserID); err != nil {
		t.Fatalf("failed to seed community: %v", err)
	}
	return NewEngine(communities)
}

func wantKind(t *testing.T, err error, kind policy.Kind) {
	t.Helper()
	var perr *policy.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *policy.Error, got %T (%v)", err, err)
	}
	if perr.Kind != kind {
		t.Fatalf("expected %v error, got %v (%v)", kind, perr.Kind, perr)
	}
}

// checkPollInvariant asserts that the tally total always equals the number
// of recorded voters.
func checkPollInvariant(t *testing.T, p Poll) {
	t.Helper()
	sum := 0
	for _, n := range p.Options {
		sum += n
	}
	if sum != len(p.Voters) {
		t.Fatalf("tally sum %d != voter count %d", sum, len(p.Voters))
	}
}

func TestStartPollPresidentGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, pincode, member, "Which supplier?", []string{"A", "B"})
	wantKind(t, err, policy.KindPermission)

	// A locality with no community record fails the same gate.
	_, err = e.StartPoll(ctx, "999999", member, "Which supplier?", []string{"A", "B"})
	wantKind(t, err, policy.KindPermission)

	evs, err := e.StartPoll(ctx, pincode, president, "Which supplier?", []string{"A", "B"})
	if err != nil {
		t.Fatalf("president start failed: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != events.TypeNewPoll || evs[0].Room != RoomName(pincode) {
		t.Fatalf("unexpected events: %+v", evs)
	}

	poll := evs[0].Data.(Poll)
	checkPollInvariant(t, poll)
	if poll.Options["A"] != 0 || poll.Options["B"] != 0 {
		t.Errorf("tallies must start at zero: %+v", poll.Options)
	}
}

func TestStartPollConflict(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.StartPoll(ctx, pincode, president, "Q", []string{"A"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := e.StartPoll(ctx, pincode, president, "Q2", []string{"B"})
	wantKind(t, err, policy.KindConflict)
}

func TestStartPollValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartPoll(ctx, pincode, president, "", []string{"A"})
	wantKind(t, err, policy.KindValidation)

	_, err = e.StartPoll(ctx, pincode, president, "Q", nil)
	wantKind(t, err, policy.KindValidation)
}

func TestVote(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.StartPoll(ctx, pincode, president, "Q", []string{"A", "B"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	evs, err := e.Vote(pincode, member, "A")
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	poll := evs[0].Data.(Poll)
	checkPollInvariant(t, poll)
	if poll.Options["A"] != 1 {
		t.Errorf("expected tally A=1, got %+v", poll.Options)
	}

	// Second vote from the same identity is rejected and changes nothing.
	_, err = e.Vote(pincode, member, "B")
	wantKind(t, err, policy.KindConflict)

	snap, _ := e.Snapshot(pincode)
	checkPollInvariant(t, *snap)
	if snap.Options["A"] != 1 || snap.Options["B"] != 0 {
		t.Errorf("rejected revote mutated tallies: %+v", snap.Options)
	}

	// Unknown option and missing poll are caller-only errors.
	_, err = e.Vote(pincode, president, "C")
	wantKind(t, err, policy.KindValidation)
	_, err = e.Vote("999999", member, "A")
	wantKind(t, err, policy.KindNotFound)
}

func TestConcurrentVotesKeepInvariant(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.StartPoll(ctx, pincode, president, "Q", []string{"A", "B"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	const voters = 50
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := auth.Identity{UserID: fmt.Sprintf("u%d", i)}
			option := "A"
			if i%2 == 1 {
				option = "B"
			}
			// Each voter votes twice; the second must always lose.
			e.Vote(pincode, voter, option)
			e.Vote(pincode, voter, option)
		}(i)
	}
	wg.Wait()

	snap, _ := e.Snapshot(pincode)
	checkPollInvariant(t, *snap)
	if len(snap.Voters) != voters {
		t.Fatalf("expected %d voters, got %d", voters, len(snap.Voters))
	}
}

func TestBulkOrderLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartBulkOrder(ctx, pincode, member, "p1", "Potatoes 25kg")
	wantKind(t, err, policy.KindPermission)

	evs, err := e.StartBulkOrder(ctx, pincode, president, "p1", "Potatoes 25kg")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if evs[0].Type != events.TypeNewBulkOrder {
		t.Fatalf("unexpected event: %+v", evs[0])
	}

	_, err = e.StartBulkOrder(ctx, pincode, president, "p2", "Onions")
	wantKind(t, err, policy.KindConflict)

	// Commitments: overwrite recomputes the total, zero withdraws.
	steps := []struct {
		actor     auth.Identity
		quantity  int
		wantTotal int
	}{
		{member, 10, 10},
		{president, 5, 15},
		{member, 3, 8},  // overwrite 10 -> 3
		{member, 0, 5},  // withdraw
		{member, 7, 12}, // commit again after withdrawing
	}
	for _, s := range steps {
		evs, err := e.CommitBulkOrder(pincode, s.actor, s.quantity)
		if err != nil {
			t.Fatalf("commit %d failed: %v", s.quantity, err)
		}
		bulk := evs[0].Data.(BulkOrder)
		if bulk.Total != s.wantTotal {
			t.Fatalf("after commit %d expected total %d, got %d", s.quantity, s.wantTotal, bulk.Total)
		}
	}

	_, err = e.CommitBulkOrder(pincode, member, -1)
	wantKind(t, err, policy.KindValidation)

	// Finalize: president-only, snapshot broadcast, state destroyed.
	_, _, err = e.FinalizeBulkOrder(ctx, pincode, member)
	wantKind(t, err, policy.KindPermission)

	evs, final, err := e.FinalizeBulkOrder(ctx, pincode, president)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if evs[0].Type != events.TypeBulkOrderFinalized {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
	if final.Details.Total != 12 || final.Details.Commitments[member.UserID] != 7 {
		t.Errorf("unexpected final snapshot: %+v", final.Details)
	}

	_, bulk := e.Snapshot(pincode)
	if bulk != nil {
		t.Error("bulk order should be destroyed after finalize")
	}

	// The room can start a fresh one now.
	if _, err := e.StartBulkOrder(ctx, pincode, president, "p2", "Onions"); err != nil {
		t.Fatalf("restart after finalize failed: %v", err)
	}
}

func TestCommitWithoutBulkOrder(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CommitBulkOrder(pincode, member, 5)
	wantKind(t, err, policy.KindNotFound)
}

func TestFirstJoinRaceElectsOnePresident(t *testing.T) {
	communities := store.NewMemoryCommunities()
	ctx := context.Background()

	const joiners = 20
	results := make([]store.Community, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, _, err := communities.Ensure(ctx, pincode, fmt.Sprintf("u%d", i))
			if err != nil {
				t.Errorf("ensure failed: %v", err)
				return
			}
			results[i] = record
		}(i)
	}
	wg.Wait()

	winner := results[0].PresidentID
	for _, r := range results {
		if r.PresidentID != winner {
			t.Fatalf("split presidency: %s vs %s", winner, r.PresidentID)
		}
	}

	record, err := communities.Get(ctx, pincode)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.PresidentID != winner {
		t.Fatalf("persisted president %s does not match observed %s", record.PresidentID, winner)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.StartPoll(ctx, pincode, president, "Q", []string{"A"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	snap, _ := e.Snapshot(pincode)
	snap.Options["A"] = 99

	fresh, _ := e.Snapshot(pincode)
	if fresh.Options["A"] != 0 {
		t.Error("mutating a snapshot leaked into engine state")
	}
}
