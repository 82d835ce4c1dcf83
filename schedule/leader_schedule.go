package schedule

import (
	"errors"
	"sort"
)

// Entry assigns a leader to a contiguous slot range, inclusive on both ends.
type Entry struct {
	StartSlot uint64
	EndSlot   uint64
	Leader    string // validator pubkey responsible for these slots
}

// LeaderSchedule is an ordered, non-overlapping set of leader assignments.
// Votor treats it as a pure deterministic function of the slot; how the
// assignment was derived (VRF, stake weighting) is not its concern.
type LeaderSchedule struct {
	entries []Entry
}

// NewLeaderSchedule constructs a schedule and validates entries (sorted,
// non-overlapping).
func NewLeaderSchedule(entries []Entry) (*LeaderSchedule, error) {
	ls := &LeaderSchedule{entries: entries}
	if err := ls.Validate(); err != nil {
		return nil, err
	}
	return ls, nil
}

// LeaderAt returns the leader for a given slot, or false if none assigned.
func (ls *LeaderSchedule) LeaderAt(slot uint64) (string, bool) {
	// binary search since entries sorted by StartSlot
	i := sort.Search(len(ls.entries), func(i int) bool {
		return ls.entries[i].StartSlot > slot
	})
	if i > 0 {
		e := ls.entries[i-1]
		if slot >= e.StartSlot && slot <= e.EndSlot {
			return e.Leader, true
		}
	}
	return "", false
}

// LeadersInRange returns all entries overlapping [startSlot, endSlot].
func (ls *LeaderSchedule) LeadersInRange(startSlot, endSlot uint64) []Entry {
	var result []Entry
	for _, e := range ls.entries {
		if e.EndSlot < startSlot || e.StartSlot > endSlot {
			continue
		}
		result = append(result, e)
	}
	return result
}

// AddEntry appends a new entry and keeps entries sorted; the caller should
// Validate afterwards.
func (ls *LeaderSchedule) AddEntry(entry Entry) {
	ls.entries = append(ls.entries, entry)
	sort.Slice(ls.entries, func(i, j int) bool {
		return ls.entries[i].StartSlot < ls.entries[j].StartSlot
	})
}

// Validate ensures entries are sorted by StartSlot and non-overlapping.
func (ls *LeaderSchedule) Validate() error {
	if len(ls.entries) == 0 {
		return nil
	}
	sort.Slice(ls.entries, func(i, j int) bool {
		return ls.entries[i].StartSlot < ls.entries[j].StartSlot
	})
	for i := 1; i < len(ls.entries); i++ {
		prev := ls.entries[i-1]
		curr := ls.entries[i]
		if curr.StartSlot <= prev.EndSlot {
			return errors.New("overlapping schedule entries detected")
		}
	}
	return nil
}

// Entries returns a copy of the underlying schedule entries.
func (ls *LeaderSchedule) Entries() []Entry {
	if len(ls.entries) == 0 {
		return nil
	}
	out := make([]Entry, len(ls.entries))
	copy(out, ls.entries)
	return out
}
