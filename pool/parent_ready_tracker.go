package pool

import "votor/utils"

// ParentReadyState tracks, per slot, which blocks are certified well enough
// to parent the next leader window, and whether the slot was skip-certified.
type ParentReadyState struct {
	Skip      bool
	Certified [][32]byte // notar-certified block hashes in this slot
	Ready     []BlockId  // certified parents available to this window-start slot
}

func (prs *ParentReadyState) addReady(blockId BlockId) bool {
	for _, ready := range prs.Ready {
		if ready == blockId {
			return false
		}
	}
	prs.Ready = append(prs.Ready, blockId)
	return true
}

func (prs *ParentReadyState) containsCertified(blockHash [32]byte) bool {
	for _, certified := range prs.Certified {
		if certified == blockHash {
			return true
		}
	}
	return false
}

// SlotBlockId pairs a window-start slot with a parent now ready for it.
type SlotBlockId struct {
	Slot    uint64
	BlockId BlockId
}

// ParentReadyTracker decides when the first slot of a leader window has a
// certified parent to build on: either the previous slot's block got a notar
// certificate, or a run of skip-certified slots connects back to one.
type ParentReadyTracker struct {
	states map[uint64]*ParentReadyState
}

func NewParentReadyTracker(genesisSlot uint64, genesisHash [32]byte) *ParentReadyTracker {
	tracker := &ParentReadyTracker{states: make(map[uint64]*ParentReadyState)}
	genesisState := tracker.getState(genesisSlot)
	genesisState.Certified = append(genesisState.Certified, genesisHash)
	return tracker
}

func (prt *ParentReadyTracker) getState(slot uint64) *ParentReadyState {
	if state, exists := prt.states[slot]; exists {
		return state
	}
	prt.states[slot] = &ParentReadyState{}
	return prt.states[slot]
}

// MarkNotarized records a notar-certified block and propagates readiness to
// every window-start slot reachable through skip-certified slots above it.
func (prt *ParentReadyTracker) MarkNotarized(blockId BlockId) []SlotBlockId {
	state := prt.getState(blockId.Slot)
	if state.containsCertified(blockId.BlockHash) {
		return nil
	}
	state.Certified = append(state.Certified, blockId.BlockHash)

	newlyReady := []SlotBlockId{}
	for slot := blockId.Slot + 1; ; slot++ {
		next := prt.getState(slot)
		if utils.IsSlotStartOfWindow(slot) {
			if next.addReady(blockId) {
				newlyReady = append(newlyReady, SlotBlockId{Slot: slot, BlockId: blockId})
			}
		}
		if !next.Skip {
			break
		}
	}
	return newlyReady
}

// MarkSkipped records a skip-certified slot. Parents certified below the
// skip run become available to window-start slots above it.
func (prt *ParentReadyTracker) MarkSkipped(markedSlot uint64) []SlotBlockId {
	state := prt.getState(markedSlot)
	if state.Skip {
		return nil
	}
	state.Skip = true

	// Collect every certified block visible downward through the skip run.
	potentialParents := []BlockId{}
	for slot := markedSlot; slot > 0; slot-- {
		current := prt.getState(slot)

		if slot != markedSlot {
			for _, certified := range current.Certified {
				potentialParents = append(potentialParents, BlockId{Slot: slot, BlockHash: certified})
			}
		}

		if slot != markedSlot && !current.Skip {
			break
		}

		if utils.IsSlotStartOfWindow(slot) {
			potentialParents = append(potentialParents, current.Ready...)
			break
		}
	}

	newlyReady := []SlotBlockId{}
	for slot := markedSlot + 1; ; slot++ {
		next := prt.getState(slot)
		if utils.IsSlotStartOfWindow(slot) {
			for _, parent := range potentialParents {
				if next.addReady(parent) {
					newlyReady = append(newlyReady, SlotBlockId{Slot: slot, BlockId: parent})
				}
			}
		}
		if !next.Skip {
			break
		}
	}
	return newlyReady
}

// HandleFinalization folds a finalization event into readiness and returns
// the highest newly ready (slot, parent), which is the one worth announcing.
func (prt *ParentReadyTracker) HandleFinalization(event FinalizationEvent) []SlotBlockId {
	parentsReady := []SlotBlockId{}
	if event.Finalized != nil {
		parentsReady = append(parentsReady, prt.MarkNotarized(*event.Finalized)...)
	}

	for _, blockId := range event.ImplicitlyFinalized {
		parentsReady = append(parentsReady, prt.MarkNotarized(blockId)...)
	}

	for _, slot := range event.Skipped {
		parentsReady = append(parentsReady, prt.MarkSkipped(slot)...)
	}

	var maxParent *SlotBlockId
	for i := range parentsReady {
		if maxParent == nil || parentsReady[i].Slot > maxParent.Slot {
			maxParent = &parentsReady[i]
		}
	}
	if maxParent != nil {
		return []SlotBlockId{*maxParent}
	}
	return nil
}

// Prune drops state below the finalized frontier.
func (prt *ParentReadyTracker) Prune(belowSlot uint64) {
	for slot := range prt.states {
		if slot < belowSlot {
			delete(prt.states, slot)
		}
	}
}
