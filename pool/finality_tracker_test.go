package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotarizeThenFinalize(t *testing.T) {
	ft := NewFinalityTracker()
	hash := [32]byte{1}

	ev := ft.MarkNotarized(5, hash)
	assert.True(t, ev.empty())

	entry, ok := ft.Status(5)
	require.True(t, ok)
	assert.Equal(t, NOTARIZED, entry.Status)
	assert.Equal(t, hash, entry.BlockHash)

	ev = ft.MarkFinalized(5, hash)
	require.NotNil(t, ev.Finalized)
	assert.Equal(t, BlockId{Slot: 5, BlockHash: hash}, *ev.Finalized)
	assert.Equal(t, uint64(5), ft.GetHighestFinalizedSlot())

	entry, _ = ft.Status(5)
	assert.Equal(t, FINALIZED, entry.Status)

	// Repeated certificates are no-ops
	assert.True(t, ft.MarkFinalized(5, hash).empty())
	assert.True(t, ft.MarkNotarized(5, hash).empty())
}

func TestFinalizeBeforeNotarize(t *testing.T) {
	ft := NewFinalityTracker()
	hash := [32]byte{2}

	// Slow-path certificate arrives first: decision parks until the notar
	// certificate names the block.
	ev := ft.MarkFinalized(5, hash)
	assert.True(t, ev.empty())

	entry, ok := ft.Status(5)
	require.True(t, ok)
	assert.Equal(t, FINAL_PENDING_NOTAR, entry.Status)
	assert.Equal(t, hash, entry.BlockHash)

	ev = ft.MarkNotarized(5, hash)
	require.NotNil(t, ev.Finalized)
	assert.Equal(t, hash, ev.Finalized.BlockHash)

	entry, _ = ft.Status(5)
	assert.Equal(t, FINALIZED, entry.Status)
}

func TestFastFinalize(t *testing.T) {
	ft := NewFinalityTracker()
	hash := [32]byte{3}

	ft.MarkNotarized(5, hash)
	ev := ft.MarkFastFinalized(5, hash)
	require.NotNil(t, ev.Finalized)
	assert.Equal(t, uint64(5), ft.GetHighestFinalizedSlot())

	// Duplicate fast-final certificate
	assert.True(t, ft.MarkFastFinalized(5, hash).empty())
}

func TestFastFinalizeWithoutPriorNotarStatus(t *testing.T) {
	// A fast-final certificate implies a notar quorum, so an unvoted slot
	// may finalize directly.
	ft := NewFinalityTracker()
	hash := [32]byte{4}

	ev := ft.MarkFastFinalized(7, hash)
	require.NotNil(t, ev.Finalized)

	entry, _ := ft.Status(7)
	assert.Equal(t, FINALIZED, entry.Status)
}

func TestImplicitFinalizationOfAncestry(t *testing.T) {
	ft := NewFinalityTracker()
	h2 := [32]byte{2}
	h5 := [32]byte{5}

	// Block at slot 5 builds on slot 2; slots 3 and 4 are the gap.
	ft.MarkNotarized(2, h2)
	ft.AddParent(BlockId{Slot: 5, BlockHash: h5}, BlockId{Slot: 2, BlockHash: h2})

	ev := ft.MarkFastFinalized(5, h5)
	require.NotNil(t, ev.Finalized)
	assert.ElementsMatch(t, []uint64{3, 4}, ev.Skipped)
	assert.Equal(t, []BlockId{{Slot: 2, BlockHash: h2}}, ev.ImplicitlyFinalized)

	entry, _ := ft.Status(2)
	assert.Equal(t, IMPLICITLY_FINALIZED, entry.Status)
	entry, _ = ft.Status(3)
	assert.Equal(t, IMPLICITLY_SKIPPED, entry.Status)
	entry, _ = ft.Status(4)
	assert.Equal(t, IMPLICITLY_SKIPPED, entry.Status)
}

func TestParentLinkAfterFinalization(t *testing.T) {
	ft := NewFinalityTracker()
	h2 := [32]byte{2}
	h4 := [32]byte{4}

	ev := ft.MarkFastFinalized(4, h4)
	require.NotNil(t, ev.Finalized)

	// Parent link learned late still resolves ancestry
	ev = ft.AddParent(BlockId{Slot: 4, BlockHash: h4}, BlockId{Slot: 2, BlockHash: h2})
	assert.Equal(t, []BlockId{{Slot: 2, BlockHash: h2}}, ev.ImplicitlyFinalized)
	assert.Equal(t, []uint64{3}, ev.Skipped)
}

func TestGenesisParentStopsResolution(t *testing.T) {
	ft := NewFinalityTracker()
	h1 := [32]byte{1}

	ft.AddParent(BlockId{Slot: 1, BlockHash: h1}, BlockId{Slot: 0, BlockHash: [32]byte{0xFF}})
	ev := ft.MarkFastFinalized(1, h1)
	require.NotNil(t, ev.Finalized)
	assert.Empty(t, ev.ImplicitlyFinalized)
	assert.Empty(t, ev.Skipped)
}

func TestSkipTransitions(t *testing.T) {
	ft := NewFinalityTracker()

	// Unvoted slot skips directly
	ev := ft.MarkSkipped(3)
	assert.Equal(t, []uint64{3}, ev.Skipped)
	entry, _ := ft.Status(3)
	assert.Equal(t, SKIPPED, entry.Status)

	// Idempotent
	assert.True(t, ft.MarkSkipped(3).empty())

	// Notarized but not finalized: the skip certificate wins
	ft.MarkNotarized(4, [32]byte{4})
	ev = ft.MarkSkipped(4)
	assert.Equal(t, []uint64{4}, ev.Skipped)

	// Finalized slot ignores a late skip certificate
	ft.MarkNotarized(5, [32]byte{5})
	ft.MarkFinalized(5, [32]byte{5})
	assert.True(t, ft.MarkSkipped(5).empty())
	entry, _ = ft.Status(5)
	assert.Equal(t, FINALIZED, entry.Status)
}

func TestConflictingFinalizationsPanic(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkFastFinalized(5, [32]byte{0xA})
	assert.Panics(t, func() {
		ft.MarkFastFinalized(5, [32]byte{0xB})
	})
}

func TestNotarizeTwoBlocksPanics(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkNotarized(5, [32]byte{0xA})
	assert.Panics(t, func() {
		ft.MarkNotarized(5, [32]byte{0xB})
	})
}

func TestSkipAgainstPendingFinalizationPanics(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkFinalized(5, [32]byte{5}) // parks as FINAL_PENDING_NOTAR
	assert.Panics(t, func() {
		ft.MarkSkipped(5)
	})
}

func TestPendingFinalizationAgainstOtherNotarPanics(t *testing.T) {
	// A finalize quorum named block B; a notar certificate for block A in the
	// same slot contradicts it and must halt, not finalize A.
	ft := NewFinalityTracker()
	ft.MarkFinalized(5, [32]byte{0xBB})
	assert.Panics(t, func() {
		ft.MarkNotarized(5, [32]byte{0xAA})
	})
}

func TestFinalizingOtherThanNotarizedBlockPanics(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkNotarized(5, [32]byte{0xAA})
	assert.Panics(t, func() {
		ft.MarkFinalized(5, [32]byte{0xBB})
	})
}

func TestFinalCertAgainstFinalizedBlockPanics(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkFastFinalized(5, [32]byte{0xAA})
	assert.Panics(t, func() {
		ft.MarkFinalized(5, [32]byte{0xBB})
	})
}

func TestFinalizingSkippedSlotPanics(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkSkipped(5)
	assert.Panics(t, func() {
		ft.MarkFastFinalized(5, [32]byte{0xA})
	})
}

func TestConflictingParentsPanic(t *testing.T) {
	ft := NewFinalityTracker()
	blk := BlockId{Slot: 5, BlockHash: [32]byte{5}}
	ft.AddParent(blk, BlockId{Slot: 2, BlockHash: [32]byte{2}})
	assert.Panics(t, func() {
		ft.AddParent(blk, BlockId{Slot: 3, BlockHash: [32]byte{3}})
	})
}

func TestPrune(t *testing.T) {
	ft := NewFinalityTracker()
	ft.MarkNotarized(2, [32]byte{2})
	ft.MarkFastFinalized(6, [32]byte{6})

	ft.Prune()

	_, ok := ft.Status(2)
	assert.False(t, ok)
	_, ok = ft.Status(6)
	assert.True(t, ok)
}
