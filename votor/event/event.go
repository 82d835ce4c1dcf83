package event

import "votor/consensus"

// ParentReadyKey identifies a (slot, parent) pair the pool has certified as
// a valid parent for the first slot of a leader window.
type ParentReadyKey struct {
	Slot       uint64
	ParentSlot uint64
	ParentHash [32]byte
}

// BlockInfo is the consensus-relevant projection of a delivered block.
type BlockInfo struct {
	Slot       uint64
	Hash       [32]byte
	ParentSlot uint64
	ParentHash [32]byte
	Proposer   string
}

type VotorEventType int

const (
	BLOCK_RECEIVED VotorEventType = iota
	PARENT_READY
	TIMEOUT
	CERT_CREATED
	CERT_SAVED
)

func (t VotorEventType) String() string {
	switch t {
	case BLOCK_RECEIVED:
		return "block_received"
	case PARENT_READY:
		return "parent_ready"
	case TIMEOUT:
		return "timeout"
	case CERT_CREATED:
		return "cert_created"
	case CERT_SAVED:
		return "cert_saved"
	}
	return "unknown"
}

// VotorEvent is one item on the vote caster's single-threaded event loop.
// Which fields are set depends on Type:
//   - BLOCK_RECEIVED: Slot, BlockHash, Block
//   - PARENT_READY:   Slot, Block (parent fields)
//   - TIMEOUT:        Slot
//   - CERT_CREATED / CERT_SAVED: Cert
type VotorEvent struct {
	Type      VotorEventType
	Slot      uint64
	BlockHash [32]byte
	Block     BlockInfo
	Cert      *consensus.Cert
}
