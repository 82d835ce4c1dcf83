package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Window size 4: window-start slots are 1, 5, 9, ...

func TestNotarizedLastSlotReadiesNextWindow(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	blk := BlockId{Slot: 4, BlockHash: [32]byte{4}}

	ready := prt.MarkNotarized(blk)
	require.Len(t, ready, 1)
	assert.Equal(t, SlotBlockId{Slot: 5, BlockId: blk}, ready[0])

	// Same certificate again changes nothing
	assert.Empty(t, prt.MarkNotarized(blk))
}

func TestNotarizedMidWindowReadiesNothing(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	assert.Empty(t, prt.MarkNotarized(BlockId{Slot: 2, BlockHash: [32]byte{2}}))
}

func TestSkipRunConnectsParentToNextWindow(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	blk := BlockId{Slot: 3, BlockHash: [32]byte{3}}

	// Block certified at slot 3, slot 4 skipped: the window starting at 5
	// may build on slot 3's block.
	require.Empty(t, prt.MarkNotarized(blk))
	ready := prt.MarkSkipped(4)
	require.Len(t, ready, 1)
	assert.Equal(t, SlotBlockId{Slot: 5, BlockId: blk}, ready[0])
}

func TestSkipBeforeCertPropagatesOnNotarize(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	blk := BlockId{Slot: 3, BlockHash: [32]byte{3}}

	// Skip cert for slot 4 lands first; once slot 3's block is certified,
	// readiness propagates through the skipped slot.
	require.Empty(t, prt.MarkSkipped(4))
	ready := prt.MarkNotarized(blk)
	require.Len(t, ready, 1)
	assert.Equal(t, SlotBlockId{Slot: 5, BlockId: blk}, ready[0])
}

func TestWholeWindowSkipped(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	blk := BlockId{Slot: 4, BlockHash: [32]byte{4}}

	prt.MarkNotarized(blk)

	// Window 5..8 fully skipped: slot 4's block becomes a candidate parent
	// for the window starting at 9.
	prt.MarkSkipped(5)
	prt.MarkSkipped(6)
	prt.MarkSkipped(7)
	ready := prt.MarkSkipped(8)
	require.NotEmpty(t, ready)
	assert.Equal(t, SlotBlockId{Slot: 9, BlockId: blk}, ready[len(ready)-1])
}

func TestHandleFinalizationReturnsHighestReady(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	blk := BlockId{Slot: 4, BlockHash: [32]byte{4}}

	ready := prt.HandleFinalization(FinalizationEvent{Finalized: &blk})
	require.Len(t, ready, 1)
	assert.Equal(t, uint64(5), ready[0].Slot)
	assert.Equal(t, blk, ready[0].BlockId)

	assert.Empty(t, prt.HandleFinalization(FinalizationEvent{}))
}

func TestParentReadyPrune(t *testing.T) {
	prt := NewParentReadyTracker(0, [32]byte{0xFF})
	prt.MarkNotarized(BlockId{Slot: 4, BlockHash: [32]byte{4}})

	prt.Prune(5)
	_, exists := prt.states[4]
	assert.False(t, exists)
	_, exists = prt.states[5]
	assert.True(t, exists)
}
