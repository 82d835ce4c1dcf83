package block

// Block is the view of a delivered block that consensus needs. Propagation
// and reconstruction of block contents happen upstream; Votor only ever
// references the block by hash and parent link.
type Block struct {
	Slot       uint64
	Hash       [32]byte
	ParentSlot uint64
	ParentHash [32]byte
	Proposer   string // pubkey of the scheduled leader that produced it
	Timestamp  int64  // unix millis at production
}

// ID identifies a block by slot and hash.
type ID struct {
	Slot uint64
	Hash [32]byte
}

func (b *Block) ID() ID {
	return ID{Slot: b.Slot, Hash: b.Hash}
}

func (b *Block) ParentID() ID {
	return ID{Slot: b.ParentSlot, Hash: b.ParentHash}
}
