package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"votor/block"
	"votor/consensus"
	"votor/events"
	"votor/logx"
	"votor/monitoring"
	"votor/stake"
	"votor/utils"
	"votor/votor/event"
)

// VoteResult classifies the outcome of inserting a vote. Everything here is
// recoverable; rejected votes come back with the reason as an error value.
type VoteResult int

const (
	VoteAccepted VoteResult = iota
	VoteDuplicate
	VoteRejected
)

func (r VoteResult) String() string {
	switch r {
	case VoteAccepted:
		return "accepted"
	case VoteDuplicate:
		return "duplicate"
	case VoteRejected:
		return "rejected"
	}
	return "unknown"
}

// Pool is the per-validator vote pool. All entry points are serialized by a
// single mutex so threshold evaluation and state transitions see a
// consistent order, the moral equivalent of the single-threaded event loop
// the protocol assumes.
type Pool struct {
	mu                 sync.Mutex
	slotState          map[uint64]*SlotState
	parentReadyTracker *ParentReadyTracker
	finalityTracker    *FinalityTracker
	votorChannel       chan<- event.VotorEvent
	eventBus           *events.EventBus
	stakes             *stake.Table
	thresholds         consensus.Thresholds
	blockTimes         map[uint64]time.Time // slot -> local delivery time
	ownPubKey          string
}

func NewPool(
	stakes *stake.Table,
	thresholds consensus.Thresholds,
	genesisSlot uint64,
	genesisHash [32]byte,
	votorChannel chan<- event.VotorEvent,
	eventBus *events.EventBus,
	ownPubKey string,
) *Pool {
	return &Pool{
		slotState:          make(map[uint64]*SlotState),
		parentReadyTracker: NewParentReadyTracker(genesisSlot, genesisHash),
		finalityTracker:    NewFinalityTracker(),
		votorChannel:       votorChannel,
		eventBus:           eventBus,
		stakes:             stakes,
		thresholds:         thresholds,
		blockTimes:         make(map[uint64]time.Time),
		ownPubKey:          ownPubKey,
	}
}

func (p *Pool) getSlotState(slot uint64) *SlotState {
	if state, exists := p.slotState[slot]; exists {
		return state
	}
	p.slotState[slot] = NewSlotState(slot, p.stakes, p.thresholds, p.ownPubKey)
	return p.slotState[slot]
}

// HighestFinalizedSlot returns the local finalized frontier.
func (p *Pool) HighestFinalizedSlot() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalityTracker.GetHighestFinalizedSlot()
}

// SlotStatus exposes the finalization state machine for a slot.
func (p *Pool) SlotStatus(slot uint64) (StatusEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalityTracker.Status(slot)
}

// AddVote verifies and inserts a vote, re-evaluates certificate thresholds,
// and routes any newly crossed certificates.
func (p *Pool) AddVote(v *consensus.Vote) (VoteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := v.Validate(); err != nil {
		monitoring.RecordVoteRejected(monitoring.VoteInvalidSignature)
		return VoteRejected, err
	}

	latestFinalizedSlot := p.finalityTracker.GetHighestFinalizedSlot()
	if v.Slot <= latestFinalizedSlot || v.Slot >= latestFinalizedSlot+2*utils.SLOTS_PER_EPOCH {
		monitoring.RecordVoteRejected(monitoring.VoteSlotOutOfRange)
		return VoteRejected, errors.New("slot out of range")
	}

	pub, known := p.stakes.PublicKey(v.PubKey)
	if !known {
		monitoring.RecordVoteRejected(monitoring.VoteUnknownVoter)
		return VoteRejected, fmt.Errorf("unknown voter %s", v.PubKey)
	}
	if !v.VerifySignature(pub) {
		monitoring.RecordVoteRejected(monitoring.VoteInvalidSignature)
		return VoteRejected, errors.New("invalid vote signature")
	}

	slotState := p.getSlotState(v.Slot)

	if offense := slotState.CheckSlashableOffense(v); offense != nil {
		// Surface the evidence, drop the vote from counting, keep going.
		monitoring.RecordVoteRejected(monitoring.VoteEquivocation)
		monitoring.IncreaseEquivocationCount()
		logx.Warn("POOL", offense.Error())
		p.eventBus.Publish(events.NewEquivocationDetected(offense.Slot, offense.Voter, offense.VoteType.String(), offense.Detail))
		return VoteRejected, offense
	}

	if slotState.ContainsVote(v) {
		monitoring.RecordVoteRejected(monitoring.VoteDuplicated)
		return VoteDuplicate, nil
	}

	newCerts := slotState.AddVote(v)
	monitoring.RecordVoteReceived(v.VoteType.String())

	for i := range newCerts {
		cert := newCerts[i]
		monitoring.RecordCertCreated(cert.CertType.String())
		p.addValidCert(&cert, true)
	}

	return VoteAccepted, nil
}

// AddCert verifies and stores a certificate received from the network.
func (p *Pool) AddCert(c *consensus.Cert) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := c.Validate(); err != nil {
		return false, err
	}

	latestFinalizedSlot := p.finalityTracker.GetHighestFinalizedSlot()
	if c.Slot <= latestFinalizedSlot || c.Slot > latestFinalizedSlot+utils.SLOTS_PER_EPOCH {
		return false, errors.New("slot out of range")
	}

	if !c.VerifySignature(p.stakes.PublicKey) {
		return false, errors.New("invalid certificate signature")
	}

	// A valid aggregate signature only proves the listed signers voted; the
	// quorum itself is re-derived from the stake table, never trusted from
	// the wire.
	signerStake, err := p.certSignerStake(c)
	if err != nil {
		return false, err
	}
	if required := p.certThreshold(c.CertType); signerStake < required {
		return false, fmt.Errorf("%s certificate stake %d below threshold %d", c.CertType, signerStake, required)
	}

	// Gossip replays the same certificate freely; not an error.
	if p.getSlotState(c.Slot).ContainsCert(c) {
		return false, nil
	}

	p.addValidCert(c, false)

	return true, nil
}

// certSignerStake sums the stake of the certificate's distinct signers. A
// repeated signer would count one validator's stake twice, so duplicates
// reject the whole certificate.
func (p *Pool) certSignerStake(c *consensus.Cert) (uint64, error) {
	seen := make(map[string]struct{}, len(c.ListPubKeys))
	var sum uint64
	for _, pubkey := range c.ListPubKeys {
		if _, dup := seen[pubkey]; dup {
			return 0, fmt.Errorf("duplicate signer %s in certificate", pubkey)
		}
		seen[pubkey] = struct{}{}
		voterStake := p.stakes.Stake(pubkey)
		if voterStake == 0 {
			return 0, fmt.Errorf("signer %s carries no stake", pubkey)
		}
		sum += voterStake
	}
	return sum, nil
}

// certThreshold is the stake a certificate's signer set must reach. The
// finalize certificate aggregates the second-round votes, so its signer set
// answers for the slow threshold like the notar certificate does.
func (p *Pool) certThreshold(certType consensus.CertType) uint64 {
	switch certType {
	case consensus.FAST_FINAL_CERT:
		return p.stakes.Threshold(p.thresholds.FastNum, p.thresholds.FastDen)
	case consensus.SKIP_CERT:
		return p.stakes.Threshold(p.thresholds.SkipNum, p.thresholds.SkipDen)
	}
	return p.stakes.Threshold(p.thresholds.SlowNum, p.thresholds.SlowDen)
}

// OnBlockDelivered records the parent link of a delivered block and hands it
// to the vote caster.
func (p *Pool) OnBlockDelivered(b *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, seen := p.blockTimes[b.Slot]; !seen {
		p.blockTimes[b.Slot] = time.Now()
	}

	finalizationEvent := p.finalityTracker.AddParent(
		BlockId{Slot: b.Slot, BlockHash: b.Hash},
		BlockId{Slot: b.ParentSlot, BlockHash: b.ParentHash},
	)
	p.handleFinalization(finalizationEvent)

	p.sendVotorEvent(event.VotorEvent{
		Type:      event.BLOCK_RECEIVED,
		Slot:      b.Slot,
		BlockHash: b.Hash,
		Block: event.BlockInfo{
			Slot:       b.Slot,
			Hash:       b.Hash,
			ParentSlot: b.ParentSlot,
			ParentHash: b.ParentHash,
			Proposer:   b.Proposer,
		},
	})
}

// addValidCert stores the certificate, advances the finalization state
// machine, and notifies the vote caster. Locally aggregated certificates
// additionally get a CERT_CREATED event, which triggers the broadcast.
func (p *Pool) addValidCert(cert *consensus.Cert, local bool) {
	p.getSlotState(cert.Slot).AddCert(cert)

	switch cert.CertType {
	case consensus.NOTAR_CERT:
		finalizationEvent := p.finalityTracker.MarkNotarized(cert.Slot, cert.BlockHash)
		p.handleFinalization(finalizationEvent)

		newParentsReady := p.parentReadyTracker.MarkNotarized(BlockId{Slot: cert.Slot, BlockHash: cert.BlockHash})
		p.sendParentReadyEvents(newParentsReady)

	case consensus.SKIP_CERT:
		finalizationEvent := p.finalityTracker.MarkSkipped(cert.Slot)
		p.handleFinalization(finalizationEvent)

	case consensus.FAST_FINAL_CERT:
		finalizationEvent := p.finalityTracker.MarkFastFinalized(cert.Slot, cert.BlockHash)
		p.handleFinalization(finalizationEvent)
		p.prune()

	case consensus.FINAL_CERT:
		finalizationEvent := p.finalityTracker.MarkFinalized(cert.Slot, cert.BlockHash)
		p.handleFinalization(finalizationEvent)
		p.prune()
	}

	if local {
		p.sendVotorEvent(event.VotorEvent{Type: event.CERT_CREATED, Slot: cert.Slot, Cert: cert})
	}
	p.sendVotorEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: cert.Slot, Cert: cert})
}

func (p *Pool) handleFinalization(finalizationEvent FinalizationEvent) {
	if finalizationEvent.empty() {
		return
	}

	if finalized := finalizationEvent.Finalized; finalized != nil {
		p.announceFinalized(*finalized)
	}
	for _, blockId := range finalizationEvent.ImplicitlyFinalized {
		p.announceFinalized(blockId)
	}
	for _, slot := range finalizationEvent.Skipped {
		logx.Info("POOL", fmt.Sprintf("Slot %d skipped", slot))
		monitoring.IncreaseSkippedSlotCount()
		p.eventBus.Publish(events.NewSlotSkipped(slot))
	}

	newParentsReady := p.parentReadyTracker.HandleFinalization(finalizationEvent)
	p.sendParentReadyEvents(newParentsReady)
}

func (p *Pool) announceFinalized(blockId BlockId) {
	logx.Info("POOL", fmt.Sprintf("Slot %d finalized", blockId.Slot))
	monitoring.SetFinalizedSlot(p.finalityTracker.GetHighestFinalizedSlot())
	if deliveredAt, seen := p.blockTimes[blockId.Slot]; seen {
		monitoring.ObserveTimeToFinality(time.Since(deliveredAt))
	}
	p.eventBus.Publish(events.NewBlockFinalized(blockId.Slot, blockId.BlockHash))
}

func (p *Pool) sendParentReadyEvents(newParentsReady []SlotBlockId) {
	for _, parentReady := range newParentsReady {
		p.sendVotorEvent(event.VotorEvent{
			Type: event.PARENT_READY,
			Slot: parentReady.Slot,
			Block: event.BlockInfo{
				Slot:       parentReady.Slot,
				ParentSlot: parentReady.BlockId.Slot,
				ParentHash: parentReady.BlockId.BlockHash,
			},
		})
	}
}

func (p *Pool) sendVotorEvent(ev event.VotorEvent) {
	select {
	case p.votorChannel <- ev:
	default:
		// The caster's queue is saturated; dropping is safer than holding
		// the pool lock while blocked. Gossip redundancy covers the gap.
		logx.Warn("POOL", fmt.Sprintf("Votor channel full, dropping %s event for slot %d", ev.Type, ev.Slot))
	}
}

func (p *Pool) prune() {
	lastSlot := p.finalityTracker.GetHighestFinalizedSlot()
	newSlotState := make(map[uint64]*SlotState)
	for slot, state := range p.slotState {
		if slot >= lastSlot {
			newSlotState[slot] = state
		}
	}
	p.slotState = newSlotState

	for slot := range p.blockTimes {
		if slot < lastSlot {
			delete(p.blockTimes, slot)
		}
	}

	p.finalityTracker.Prune()
	p.parentReadyTracker.Prune(lastSlot)
}
