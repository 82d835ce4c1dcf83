package pool

// BlockId identifies a block by slot and hash.
type BlockId struct {
	Slot      uint64
	BlockHash [32]byte
}

// FinalizationStatus is the per-slot state machine. A slot with no entry is
// unvoted. Finalized and skipped are terminal; the only legal paths are
// unvoted -> notarized -> finalized and unvoted -> skipped, with
// FINAL_PENDING_NOTAR covering a finalize certificate that arrives before
// the notar certificate. The implicit variants are derived from ancestry:
// finalizing a block finalizes its whole parent chain and skips the gaps.
type FinalizationStatus int

const (
	NOTARIZED FinalizationStatus = iota
	FINAL_PENDING_NOTAR
	FINALIZED
	IMPLICITLY_FINALIZED
	SKIPPED
	IMPLICITLY_SKIPPED
)

type StatusEntry struct {
	Status    FinalizationStatus
	BlockHash [32]byte
}

// FinalizationEvent describes everything a single certificate observation
// finalized or skipped, including ancestors resolved implicitly.
type FinalizationEvent struct {
	Finalized           *BlockId
	ImplicitlyFinalized []BlockId
	Skipped             []uint64
}

func (e FinalizationEvent) empty() bool {
	return e.Finalized == nil && len(e.ImplicitlyFinalized) == 0 && len(e.Skipped) == 0
}

// FinalityTracker owns the finalization decision per slot. A contradiction
// between two finalization paths means either the Byzantine-stake assumption
// or the implementation is broken; it panics rather than pick a winner, and
// the process-level crash guard turns that into a fatal alarm.
type FinalityTracker struct {
	status               map[uint64]StatusEntry
	parents              map[BlockId]BlockId
	highestFinalizedSlot uint64
}

func NewFinalityTracker() *FinalityTracker {
	return &FinalityTracker{
		status:               make(map[uint64]StatusEntry),
		parents:              make(map[BlockId]BlockId),
		highestFinalizedSlot: 0,
	}
}

// Status returns the slot's current state; ok is false for unvoted slots.
func (ft *FinalityTracker) Status(slot uint64) (StatusEntry, bool) {
	entry, exists := ft.status[slot]
	return entry, exists
}

func (ft *FinalityTracker) GetHighestFinalizedSlot() uint64 {
	return ft.highestFinalizedSlot
}

// AddParent records the parent link of a delivered block. Two different
// parents for one block would let ancestry resolution diverge, so that is
// fatal. If the block was already finalized before its parent link became
// known, ancestry is resolved now.
func (ft *FinalityTracker) AddParent(blk BlockId, parent BlockId) FinalizationEvent {
	if blk.Slot <= parent.Slot {
		panic("block slot not after parent slot")
	}

	if currentParent, exists := ft.parents[blk]; exists {
		if parent != currentParent {
			panic("consensus safety violation: conflicting parents for one block")
		}
		return FinalizationEvent{}
	}
	ft.parents[blk] = parent

	entry, exists := ft.status[blk.Slot]
	if !exists {
		return FinalizationEvent{}
	}

	if (entry.Status == FINALIZED || entry.Status == IMPLICITLY_FINALIZED) && entry.BlockHash == blk.BlockHash {
		event := FinalizationEvent{}
		ft.handleImplicitlyFinalized(blk.Slot, parent, &event)
		return event
	}

	return FinalizationEvent{}
}

// MarkNotarized is driven by a notar certificate for (slot, blockHash).
func (ft *FinalityTracker) MarkNotarized(slot uint64, blockHash [32]byte) FinalizationEvent {
	old, exists := ft.status[slot]

	if !exists {
		ft.status[slot] = StatusEntry{Status: NOTARIZED, BlockHash: blockHash}
		return FinalizationEvent{}
	}

	switch old.Status {
	case NOTARIZED, FINALIZED, IMPLICITLY_FINALIZED:
		if old.BlockHash != blockHash {
			panic("consensus safety violation: notarized two blocks in one slot")
		}
		return FinalizationEvent{}

	case SKIPPED, IMPLICITLY_SKIPPED:
		// late notar cert for a slot already abandoned; ignore
		return FinalizationEvent{}

	case FINAL_PENDING_NOTAR:
		if old.BlockHash != blockHash {
			panic("consensus safety violation: notarized block conflicts with pending finalization")
		}
		event := FinalizationEvent{}
		ft.status[slot] = StatusEntry{Status: FINALIZED, BlockHash: blockHash}
		ft.handleFinalizedBlock(BlockId{Slot: slot, BlockHash: blockHash}, &event)
		return event
	}

	return FinalizationEvent{}
}

// MarkFastFinalized is driven by a fast-final certificate.
func (ft *FinalityTracker) MarkFastFinalized(slot uint64, blockHash [32]byte) FinalizationEvent {
	old, exists := ft.status[slot]

	if exists {
		switch old.Status {
		case FINALIZED, IMPLICITLY_FINALIZED:
			if old.BlockHash != blockHash {
				panic("consensus safety violation: two finalized blocks in one slot")
			}
			// duplicate certificate, nothing to do
			return FinalizationEvent{}

		case NOTARIZED:
			if old.BlockHash != blockHash {
				panic("consensus safety violation: finalizing a block that was not notarized")
			}

		case FINAL_PENDING_NOTAR:
			// fast path resolved the pending slow path

		case IMPLICITLY_SKIPPED:
			panic("consensus safety violation: finalizing an implicitly skipped slot")

		case SKIPPED:
			panic("consensus safety violation: finalizing a skip-certified slot")
		}
	}

	ft.status[slot] = StatusEntry{Status: FINALIZED, BlockHash: blockHash}

	event := FinalizationEvent{}
	ft.handleFinalizedBlock(BlockId{Slot: slot, BlockHash: blockHash}, &event)
	return event
}

// MarkFinalized is driven by a slow-path finalize certificate for
// (slot, blockHash). If the notar certificate has not been seen yet the
// decision is parked as FINAL_PENDING_NOTAR carrying the quorum's block; a
// later notar certificate for any other block is a contradiction between two
// certified quorums and therefore fatal.
func (ft *FinalityTracker) MarkFinalized(slot uint64, blockHash [32]byte) FinalizationEvent {
	old, exists := ft.status[slot]

	if !exists {
		ft.status[slot] = StatusEntry{Status: FINAL_PENDING_NOTAR, BlockHash: blockHash}
		return FinalizationEvent{}
	}

	switch old.Status {
	case FINAL_PENDING_NOTAR, FINALIZED, IMPLICITLY_FINALIZED:
		if old.BlockHash != blockHash {
			panic("consensus safety violation: two finalized blocks in one slot")
		}
		return FinalizationEvent{}

	case NOTARIZED:
		if old.BlockHash != blockHash {
			panic("consensus safety violation: finalizing a block that was not notarized")
		}
		event := FinalizationEvent{}
		ft.status[slot] = StatusEntry{Status: FINALIZED, BlockHash: old.BlockHash}
		ft.handleFinalizedBlock(BlockId{Slot: slot, BlockHash: old.BlockHash}, &event)
		return event

	case IMPLICITLY_SKIPPED:
		panic("consensus safety violation: finalizing an implicitly skipped slot")

	case SKIPPED:
		panic("consensus safety violation: finalizing a skip-certified slot")
	}

	return FinalizationEvent{}
}

// MarkSkipped is driven by a skip certificate. Allowed from unvoted and
// notarized states; a no-op on slots that already reached a terminal state.
func (ft *FinalityTracker) MarkSkipped(slot uint64) FinalizationEvent {
	old, exists := ft.status[slot]

	if !exists {
		ft.status[slot] = StatusEntry{Status: SKIPPED}
		return FinalizationEvent{Skipped: []uint64{slot}}
	}

	switch old.Status {
	case NOTARIZED:
		// notarized but no finalizing certificate yet: the slot is abandoned
		ft.status[slot] = StatusEntry{Status: SKIPPED}
		return FinalizationEvent{Skipped: []uint64{slot}}

	case SKIPPED, IMPLICITLY_SKIPPED:
		return FinalizationEvent{}

	case FINALIZED, IMPLICITLY_FINALIZED:
		// late skip cert for a finalized slot; finality wins, drop it
		return FinalizationEvent{}

	case FINAL_PENDING_NOTAR:
		panic("consensus safety violation: skip and finalize quorums for one slot")
	}

	return FinalizationEvent{}
}

func (ft *FinalityTracker) handleFinalizedBlock(finalized BlockId, event *FinalizationEvent) {
	slot := finalized.Slot
	event.Finalized = &finalized
	if slot > ft.highestFinalizedSlot {
		ft.highestFinalizedSlot = slot
	}

	if parent, exists := ft.parents[finalized]; exists {
		ft.handleImplicitlyFinalized(slot, parent, event)
	}
}

// handleImplicitlyFinalized walks the parent chain: everything between the
// finalized block and its parent is skipped, the parent itself is finalized,
// and the walk recurses while parent links are known.
func (ft *FinalityTracker) handleImplicitlyFinalized(sourceSlot uint64, parent BlockId, event *FinalizationEvent) {
	if sourceSlot <= parent.Slot {
		panic("finalized block not after its parent")
	}

	// Slots strictly between parent and child carry no finalized block.
	for slot := parent.Slot + 1; slot < sourceSlot; slot++ {
		oldStatus, exists := ft.status[slot]
		ft.status[slot] = StatusEntry{Status: IMPLICITLY_SKIPPED}

		if exists {
			switch oldStatus.Status {
			case SKIPPED, IMPLICITLY_SKIPPED:
				// already skipped, and therefore so is everything below
				ft.status[slot] = oldStatus
				return

			case NOTARIZED:
				// notarization lost the race; the slot stays skipped

			case FINAL_PENDING_NOTAR, FINALIZED, IMPLICITLY_FINALIZED:
				panic("consensus safety violation: finalized slot inside a skipped gap")
			}
		}
		event.Skipped = append(event.Skipped, slot)
	}

	if parent.Slot == 0 {
		// genesis, nothing to finalize
		return
	}

	oldStatus, exists := ft.status[parent.Slot]
	ft.status[parent.Slot] = StatusEntry{Status: IMPLICITLY_FINALIZED, BlockHash: parent.BlockHash}

	if exists {
		switch oldStatus.Status {
		case FINALIZED, IMPLICITLY_FINALIZED:
			if oldStatus.BlockHash != parent.BlockHash {
				panic("consensus safety violation: two finalized blocks in one slot")
			}
			ft.status[parent.Slot] = oldStatus
			return

		case NOTARIZED, FINAL_PENDING_NOTAR:
			if oldStatus.BlockHash != parent.BlockHash {
				panic("consensus safety violation: two certified blocks in one slot")
			}
			// upgraded to implicitly finalized

		case SKIPPED, IMPLICITLY_SKIPPED:
			panic("consensus safety violation: finalized ancestor was skipped")
		}
	}
	event.ImplicitlyFinalized = append(event.ImplicitlyFinalized, parent)

	if grandparent, exists := ft.parents[parent]; exists {
		ft.handleImplicitlyFinalized(parent.Slot, grandparent, event)
	}
}

// Prune drops bookkeeping for slots below the finalized frontier.
func (ft *FinalityTracker) Prune() {
	for slot := range ft.status {
		if slot < ft.highestFinalizedSlot {
			delete(ft.status, slot)
		}
	}
	for blk, parent := range ft.parents {
		if blk.Slot < ft.highestFinalizedSlot && parent.Slot < ft.highestFinalizedSlot {
			delete(ft.parents, blk)
		}
	}
}
