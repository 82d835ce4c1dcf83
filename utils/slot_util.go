package utils

const (
	// DefaultLeaderWindowSize is the number of consecutive slots assigned
	// to one leader before the schedule rotates.
	DefaultLeaderWindowSize uint64 = 4

	SLOTS_PER_EPOCH = 432
)

// leaderWindowSize is set once at startup from config and read-only after.
var leaderWindowSize = DefaultLeaderWindowSize

func SetLeaderWindowSize(size uint64) {
	if size == 0 {
		return
	}
	leaderWindowSize = size
}

func LeaderWindowSize() uint64 {
	return leaderWindowSize
}

// Slots are numbered from 1; windows are [1..w], [w+1..2w], ...

func IsSlotStartOfWindow(slot uint64) bool {
	return (slot-1)%leaderWindowSize == 0
}

func FirstSlotInWindow(slot uint64) uint64 {
	window := (slot - 1) / leaderWindowSize
	return window*leaderWindowSize + 1
}

func LastSlotInWindow(slot uint64) uint64 {
	return FirstSlotInWindow(slot) + leaderWindowSize - 1
}

func SlotsInWindow(slot uint64) []uint64 {
	first := FirstSlotInWindow(slot)
	slots := make([]uint64, leaderWindowSize)
	for i := uint64(0); i < leaderWindowSize; i++ {
		slots[i] = first + i
	}
	return slots
}
