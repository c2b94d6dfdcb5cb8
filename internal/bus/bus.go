// Package bus implements the Instruction Bus: a per-crew priority queue of
// dynamic instructions. Ordering is priority-desc then
// submission-time-asc, grounded on
// original_source/src/mcp_crewai/dynamic_instructions.py's
// InstructionQueue.get_pending_instructions. Priority 5 (emergency_stop)
// is bypass-routed: Submit signals cancellation immediately rather than
// waiting for drain_for.
package bus

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/domain"
	"github.com/evocrew/evocrew/internal/domainerr"
	"github.com/evocrew/evocrew/internal/ids"
	"github.com/evocrew/evocrew/internal/store"
)

// item is one entry in a crew's priority heap; seq breaks ties in
// submission order (FIFO within equal priority).
type item struct {
	instr *domain.Instruction
	seq   int64
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].instr.Priority != h[j].instr.Priority {
		return h[i].instr.Priority > h[j].instr.Priority // highest priority first
	}
	return h[i].seq < h[j].seq // FIFO on ties
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// EmergencyStopFunc is invoked synchronously by Submit when a priority-5
// instruction arrives, regardless of queue position — it is the Workflow
// SM's cancellation trigger, injected so the bus stays decoupled from the
// state machine package and avoids an import cycle between the two. The
// callback owns marking instr applied once it has issued the cancellation.
type EmergencyStopFunc func(ctx context.Context, crewID ids.CrewId, instr *domain.Instruction)

// Bus holds one priority queue per crew plus a monotonic sequence counter
// for FIFO tie-breaking.
type Bus struct {
	store store.Store

	mu      sync.Mutex
	queues  map[ids.CrewId]*priorityHeap
	nextSeq int64

	onEmergencyStop EmergencyStopFunc
}

// New builds a Bus backed by st for persistence. onEmergencyStop may be
// nil if no immediate side effect is needed (e.g. in tests).
func New(st store.Store, onEmergencyStop EmergencyStopFunc) *Bus {
	return &Bus{store: st, queues: make(map[ids.CrewId]*priorityHeap), onEmergencyStop: onEmergencyStop}
}

func (b *Bus) queueFor(crewID ids.CrewId) *priorityHeap {
	q, ok := b.queues[crewID]
	if !ok {
		q = &priorityHeap{}
		heap.Init(q)
		b.queues[crewID] = q
	}
	return q
}

// Submit stamps CreatedAt when it is unset, persists the instruction,
// pushes it onto the crew's in-memory
// queue, and — for priority 5 — fires the emergency-stop callback
// immediately, bypassing normal queue ordering.
func (b *Bus) Submit(ctx context.Context, instr *domain.Instruction) error {
	if instr.Priority < 1 || instr.Priority > 5 {
		return domainerr.Newf(domainerr.InvalidArgument, "priority must be in 1..5, got %d", instr.Priority)
	}
	instr.Status = domain.InstructionPending
	if instr.CreatedAt.IsZero() {
		instr.CreatedAt = time.Now().UTC()
	}
	if err := b.store.EnqueueInstruction(ctx, instr); err != nil {
		return err
	}

	b.mu.Lock()
	b.nextSeq++
	heap.Push(b.queueFor(instr.CrewID), &item{instr: instr, seq: b.nextSeq})
	b.mu.Unlock()

	if (instr.Priority == 5 || instr.Kind == domain.InstructionEmergencyStop) && b.onEmergencyStop != nil {
		b.onEmergencyStop(ctx, instr.CrewID, instr)
	}
	return nil
}

// DrainFor pops every pending instruction for crewID in priority order,
// marking each Delivered as it's removed from the queue, and returns them
// in delivery order.
func (b *Bus) DrainFor(ctx context.Context, crewID ids.CrewId) ([]*domain.Instruction, error) {
	b.mu.Lock()
	q := b.queueFor(crewID)
	var drained []*domain.Instruction
	for q.Len() > 0 {
		it := heap.Pop(q).(*item)
		drained = append(drained, it.instr)
	}
	b.mu.Unlock()

	for _, instr := range drained {
		instr.Status = domain.InstructionDelivered
		if err := b.store.UpdateInstructionStatus(ctx, instr.ID, domain.InstructionDelivered, true, ""); err != nil {
			return nil, err
		}
	}
	return drained, nil
}

// Rehydrate reloads every still-pending instruction for each of crewIDs
// from the store into the in-memory heaps, in the same priority-desc,
// submission-time-asc order ListPendingInstructions already returns them
// in. The heaps start empty on every process start, so without this a
// crew's instructions submitted before a restart — while idle or while a
// workflow was running — would sit marked Pending in the store forever,
// invisible to DrainFor even though get_instruction_status would still
// report them as pending.
func (b *Bus) Rehydrate(ctx context.Context, crewIDs []ids.CrewId) error {
	for _, crewID := range crewIDs {
		pending, err := b.store.ListPendingInstructions(ctx, crewID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}
		b.mu.Lock()
		q := b.queueFor(crewID)
		for _, instr := range pending {
			b.nextSeq++
			heap.Push(q, &item{instr: instr, seq: b.nextSeq})
		}
		b.mu.Unlock()
	}
	return nil
}

// MarkApplied records that instr was successfully consumed by the running
// workflow.
func (b *Bus) MarkApplied(ctx context.Context, id ids.InstructionId) error {
	return b.store.UpdateInstructionStatus(ctx, id, domain.InstructionApplied, true, "")
}

// MarkFailed records that applying instr failed with errMsg.
func (b *Bus) MarkFailed(ctx context.Context, id ids.InstructionId, errMsg string) error {
	return b.store.UpdateInstructionStatus(ctx, id, domain.InstructionFailed, true, errMsg)
}

// Expire moves pending instructions older than maxAge to Expired, and
// drops the matching entries from the crew's in-memory heap so a later
// DrainFor can never pop and deliver an instruction Expire has already
// marked terminal in the Store. Priority-5 instructions never expire:
// they are either applied or drive an emergency stop.
func (b *Bus) Expire(ctx context.Context, crewIDs []ids.CrewId, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	expired := 0
	for _, crewID := range crewIDs {
		pending, err := b.store.ListPendingInstructions(ctx, crewID)
		if err != nil {
			return expired, err
		}
		var expiredIDs map[ids.InstructionId]bool
		for _, instr := range pending {
			if instr.Priority == 5 {
				continue
			}
			if instr.CreatedAt.After(cutoff) {
				continue
			}
			if err := b.store.UpdateInstructionStatus(ctx, instr.ID, domain.InstructionExpired, true, "ttl exceeded"); err != nil {
				return expired, err
			}
			expired++
			if expiredIDs == nil {
				expiredIDs = make(map[ids.InstructionId]bool)
			}
			expiredIDs[instr.ID] = true
		}
		if len(expiredIDs) > 0 {
			b.evictFromHeap(crewID, expiredIDs)
		}
	}
	return expired, nil
}

// evictFromHeap removes every queued item whose instruction ID is in
// expiredIDs from crewID's in-memory heap.
func (b *Bus) evictFromHeap(crewID ids.CrewId, expiredIDs map[ids.InstructionId]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[crewID]
	if !ok {
		return
	}
	kept := make(priorityHeap, 0, q.Len())
	for _, it := range *q {
		if !expiredIDs[it.instr.ID] {
			kept = append(kept, it)
		}
	}
	*q = kept
	heap.Init(q)
}
