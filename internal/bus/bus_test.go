package bus

import (
	"context"
	"testing"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDrainForOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, nil)

	crewID := ids.NewCrewId()
	submit := func(priority int, content string) {
		instr := &domain.Instruction{
			ID:        ids.NewInstructionId(),
			CrewID:    crewID,
			Kind:      domain.InstructionGuidance,
			Priority:  priority,
			Content:   content,
		}
		if err := b.Submit(ctx, instr); err != nil {
			t.Fatalf("Submit(%q): %v", content, err)
		}
	}

	submit(2, "first-medium")
	submit(1, "low")
	submit(2, "second-medium")
	submit(4, "high")

	drained, err := b.DrainFor(ctx, crewID)
	if err != nil {
		t.Fatalf("DrainFor: %v", err)
	}
	if len(drained) != 4 {
		t.Fatalf("DrainFor returned %d instructions, want 4", len(drained))
	}

	want := []string{"high", "first-medium", "second-medium", "low"}
	for i, instr := range drained {
		if instr.Content != want[i] {
			t.Errorf("drained[%d] = %q, want %q", i, instr.Content, want[i])
		}
		if instr.Status != domain.InstructionDelivered {
			t.Errorf("drained[%d].Status = %v, want Delivered", i, instr.Status)
		}
	}
}

func TestDrainForIsEmptyAfterDraining(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, nil)
	crewID := ids.NewCrewId()

	if err := b.Submit(ctx, &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionGuidance, Priority: 3,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := b.DrainFor(ctx, crewID); err != nil {
		t.Fatalf("first DrainFor: %v", err)
	}
	second, err := b.DrainFor(ctx, crewID)
	if err != nil {
		t.Fatalf("second DrainFor: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second DrainFor returned %d instructions, want 0", len(second))
	}
}

func TestSubmitRejectsOutOfRangePriority(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, nil)

	err := b.Submit(ctx, &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: ids.NewCrewId(), Kind: domain.InstructionGuidance, Priority: 6,
	})
	if err == nil {
		t.Error("Submit accepted priority 6, want error")
	}
}

func TestSubmitEmergencyStopFiresCallbackImmediately(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var gotCrewID ids.CrewId
	var calls int
	b := New(st, func(_ context.Context, crewID ids.CrewId, instr *domain.Instruction) {
		calls++
		gotCrewID = crewID
	})

	crewID := ids.NewCrewId()
	instr := &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionEmergencyStop, Priority: 5,
	}
	if err := b.Submit(ctx, instr); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if calls != 1 {
		t.Errorf("emergency-stop callback invoked %d times, want 1", calls)
	}
	if gotCrewID != crewID {
		t.Errorf("callback crewID = %q, want %q", gotCrewID, crewID)
	}
}

func TestRehydrateRestoresDeliveryOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	crewID := ids.NewCrewId()

	submitter := New(st, nil)
	submit := func(priority int, content string) {
		instr := &domain.Instruction{
			ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionGuidance,
			Priority: priority, Content: content,
		}
		if err := submitter.Submit(ctx, instr); err != nil {
			t.Fatalf("Submit(%q): %v", content, err)
		}
	}
	submit(2, "medium")
	submit(5, "emergency")
	submit(3, "high")

	// A fresh Bus simulates a process restart: its in-memory heaps start
	// empty even though the store still has these three Pending.
	fresh := New(st, nil)
	if drained, err := fresh.DrainFor(ctx, crewID); err != nil {
		t.Fatalf("DrainFor before Rehydrate: %v", err)
	} else if len(drained) != 0 {
		t.Fatalf("fresh Bus drained %d before Rehydrate, want 0", len(drained))
	}

	if err := fresh.Rehydrate(ctx, []ids.CrewId{crewID}); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	drained, err := fresh.DrainFor(ctx, crewID)
	if err != nil {
		t.Fatalf("DrainFor after Rehydrate: %v", err)
	}
	want := []string{"emergency", "high", "medium"}
	if len(drained) != len(want) {
		t.Fatalf("DrainFor after Rehydrate returned %d, want %d", len(drained), len(want))
	}
	for i, instr := range drained {
		if instr.Content != want[i] {
			t.Errorf("drained[%d] = %q, want %q", i, instr.Content, want[i])
		}
	}
}

func TestExpireRemovesInstructionFromHeapSoDrainForCannotResurrectIt(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, nil)
	crewID := ids.NewCrewId()

	stale := &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionGuidance, Priority: 1, Content: "stale",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := b.Submit(ctx, stale); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	fresh := &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionGuidance, Priority: 1, Content: "fresh",
	}
	if err := b.Submit(ctx, fresh); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	n, err := b.Expire(ctx, []ids.CrewId{crewID}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expire() = %d, want 1", n)
	}

	drained, err := b.DrainFor(ctx, crewID)
	if err != nil {
		t.Fatalf("DrainFor: %v", err)
	}
	if len(drained) != 1 || drained[0].Content != "fresh" {
		t.Fatalf("DrainFor returned %v, want only the fresh instruction", drained)
	}

	expired, err := st.GetInstruction(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetInstruction: %v", err)
	}
	if expired.Status != domain.InstructionExpired {
		t.Errorf("stale instruction status = %s, want %s", expired.Status, domain.InstructionExpired)
	}
}

func TestExpireSkipsPriorityFiveInstructions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	b := New(st, nil)
	crewID := ids.NewCrewId()

	emergency := &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionEmergencyStop, Priority: 5,
	}
	guidance := &domain.Instruction{
		ID: ids.NewInstructionId(), CrewID: crewID, Kind: domain.InstructionGuidance, Priority: 1,
	}
	if err := b.Submit(ctx, emergency); err != nil {
		t.Fatalf("Submit emergency: %v", err)
	}
	if err := b.Submit(ctx, guidance); err != nil {
		t.Fatalf("Submit guidance: %v", err)
	}

	n, err := b.Expire(ctx, []ids.CrewId{crewID}, 0)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if n != 1 {
		t.Errorf("Expire() = %d, want 1 (only the non-priority-5 instruction)", n)
	}
}
