package events

import "time"

const (
	EventBlockFinalized = "BlockFinalized"
	EventSlotSkipped    = "SlotSkipped"
	EventEquivocation   = "EquivocationDetected"
)

// ConsensusEvent is the common surface of everything published on the bus:
// finalization decisions for downstream consumers (chain storage, RPC) and
// slashing evidence for the economic layer.
type ConsensusEvent interface {
	Type() string
	Slot() uint64
}

type BlockFinalized struct {
	FinalizedSlot uint64
	BlockHash     [32]byte
	At            time.Time
}

func NewBlockFinalized(slot uint64, blockHash [32]byte) *BlockFinalized {
	return &BlockFinalized{FinalizedSlot: slot, BlockHash: blockHash, At: time.Now()}
}

func (e *BlockFinalized) Type() string { return EventBlockFinalized }
func (e *BlockFinalized) Slot() uint64 { return e.FinalizedSlot }

type SlotSkipped struct {
	SkippedSlot uint64
	At          time.Time
}

func NewSlotSkipped(slot uint64) *SlotSkipped {
	return &SlotSkipped{SkippedSlot: slot, At: time.Now()}
}

func (e *SlotSkipped) Type() string { return EventSlotSkipped }
func (e *SlotSkipped) Slot() uint64 { return e.SkippedSlot }

// EquivocationDetected carries slashing evidence: a voter produced
// conflicting votes of the same kind in one slot. The offending vote is
// excluded from stake counting; accounting of the penalty happens elsewhere.
type EquivocationDetected struct {
	OffenseSlot uint64
	Voter       string
	VoteType    string
	Detail      string
	At          time.Time
}

func NewEquivocationDetected(slot uint64, voter, voteType, detail string) *EquivocationDetected {
	return &EquivocationDetected{
		OffenseSlot: slot,
		Voter:       voter,
		VoteType:    voteType,
		Detail:      detail,
		At:          time.Now(),
	}
}

func (e *EquivocationDetected) Type() string { return EventEquivocation }
func (e *EquivocationDetected) Slot() uint64 { return e.OffenseSlot }
