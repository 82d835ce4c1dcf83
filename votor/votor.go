package votor

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"

	"votor/consensus"
	"votor/logx"
	"votor/pool"
	"votor/schedule"
	"votor/utils"
	"votor/votor/event"
)

const TICK_INTERVAL = 50 * time.Millisecond

// Broadcaster is what the caster needs from the network layer.
type Broadcaster interface {
	BroadcastVote(ctx context.Context, vote *consensus.Vote) error
	BroadcastCert(ctx context.Context, cert *consensus.Cert) error
}

// BroadcastedCert remembers which certificate kinds were already sent for a
// slot so gossip does not amplify duplicates.
type BroadcastedCert struct {
	notar     bool
	fastFinal bool
	final     bool
	skip      bool
}

// Votor is the validator's own vote decision logic: a single-goroutine event
// loop that reacts to delivered blocks, certificates and timeouts, and is
// the only place a new vote is ever synthesized. The voted/votedNotar maps
// enforce the one-vote-per-kind-per-slot rule.
type Votor struct {
	voted           map[uint64]struct{} // slots with a first-round (notar or skip) vote cast
	votedNotar      map[uint64][32]byte // slot -> block hash this validator notarized
	votedFinal      map[uint64]struct{} // slots with a finalization vote cast
	badWindow       map[uint64]struct{} // slots in windows given up on; no final votes there
	blockNotarized  map[uint64][32]byte // slot -> block hash with an observed notar cert
	parentsReady    map[event.ParentReadyKey]struct{}
	pendingBlocks   map[uint64]event.BlockInfo
	broadcastedCert map[uint64]*BroadcastedCert
	blsPubKey       string
	blsPrivKey      bls.SecretKey
	eventReceiver   <-chan event.VotorEvent
	network         Broadcaster
	pool            *pool.Pool
	leaderSchedule  *schedule.LeaderSchedule
	timeouts        *TimeoutManager
	quit            chan struct{}
}

func NewVotor(
	blsPubKey string,
	blsPrivKey bls.SecretKey,
	eventReceiver <-chan event.VotorEvent,
	network Broadcaster,
	votePool *pool.Pool,
	leaderSchedule *schedule.LeaderSchedule,
	timeouts *TimeoutManager,
) *Votor {
	return &Votor{
		voted:           make(map[uint64]struct{}),
		votedNotar:      make(map[uint64][32]byte),
		votedFinal:      make(map[uint64]struct{}),
		badWindow:       make(map[uint64]struct{}),
		blockNotarized:  make(map[uint64][32]byte),
		parentsReady:    make(map[event.ParentReadyKey]struct{}),
		pendingBlocks:   make(map[uint64]event.BlockInfo),
		broadcastedCert: make(map[uint64]*BroadcastedCert),
		blsPubKey:       blsPubKey,
		blsPrivKey:      blsPrivKey,
		eventReceiver:   eventReceiver,
		network:         network,
		pool:            votePool,
		leaderSchedule:  leaderSchedule,
		timeouts:        timeouts,
		quit:            make(chan struct{}),
	}
}

// Run drives the event loop. Events and timer ticks are processed one at a
// time on this goroutine, so every handler sees a consistent state.
func (v *Votor) Run() {
	ticker := time.NewTicker(TICK_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case ev := <-v.eventReceiver:
			v.handleEvent(ev)
		case now := <-ticker.C:
			for _, trigger := range v.timeouts.Tick(now) {
				v.handleEvent(event.VotorEvent{Type: event.TIMEOUT, Slot: trigger.WindowStart})
			}
		case <-v.quit:
			return
		}
	}
}

func (v *Votor) Stop() {
	close(v.quit)
}

func (v *Votor) getBroadcastedCert(slot uint64) *BroadcastedCert {
	broadcastedCert, exists := v.broadcastedCert[slot]
	if !exists {
		v.broadcastedCert[slot] = &BroadcastedCert{}
		return v.broadcastedCert[slot]
	}
	return broadcastedCert
}

func (v *Votor) handleEvent(ev event.VotorEvent) {
	switch ev.Type {
	case event.BLOCK_RECEIVED:
		logx.Info("VOTOR", fmt.Sprintf("Received block %s in slot %d", hex.EncodeToString(ev.BlockHash[:]), ev.Slot))
		v.handleBlockReceived(ev)

	case event.PARENT_READY:
		logx.Info("VOTOR", fmt.Sprintf("Parent ready for slot %d, parent slot %d, parent hash %s", ev.Slot, ev.Block.ParentSlot, hex.EncodeToString(ev.Block.ParentHash[:])))
		v.handleParentReady(ev)

	case event.TIMEOUT:
		logx.Info("VOTOR", fmt.Sprintf("Timeout for slot %d, trying to skip window", ev.Slot))
		v.trySkipWindow(ev.Slot)

	case event.CERT_CREATED:
		logx.Info("VOTOR", fmt.Sprintf("Cert created for slot %d, type %v", ev.Cert.Slot, ev.Cert.CertType))
		v.handleCertCreated(ev)

	case event.CERT_SAVED:
		logx.Debug("VOTOR", fmt.Sprintf("Cert saved for slot %d, type %v", ev.Cert.Slot, ev.Cert.CertType))
		v.handleCertSaved(ev)
	}
}

func (v *Votor) handleBlockReceived(ev event.VotorEvent) {
	if leader, assigned := v.leaderSchedule.LeaderAt(ev.Slot); assigned && ev.Block.Proposer != "" && ev.Block.Proposer != leader {
		logx.Warn("VOTOR", fmt.Sprintf("Block in slot %d proposed by %s, expected leader %s; ignoring", ev.Slot, ev.Block.Proposer, leader))
		return
	}

	v.timeouts.Arm(ev.Slot, time.Now())

	if _, exists := v.voted[ev.Slot]; exists {
		logx.Info("VOTOR", fmt.Sprintf("Not voting for block %s in slot %d, already voted", hex.EncodeToString(ev.BlockHash[:]), ev.Slot))
		return
	}

	if success := v.tryNotar(ev.Block); !success {
		logx.Info("VOTOR", fmt.Sprintf("Cannot vote for block %s in slot %d yet, missing parent or parent not ready", hex.EncodeToString(ev.BlockHash[:]), ev.Slot))
		v.pendingBlocks[ev.Slot] = ev.Block
		return
	}
	// Voting may unblock pending children chained on this block.
	v.checkPendingBlocks()
}

// tryNotar casts the first-round vote for a delivered block. The first slot
// of a window needs its parent announced ready by the pool; later slots must
// chain onto the block this validator notarized in the previous slot.
func (v *Votor) tryNotar(blockInfo event.BlockInfo) bool {
	slot := blockInfo.Slot
	hash := blockInfo.Hash
	parentSlot := blockInfo.ParentSlot
	parentHash := blockInfo.ParentHash

	firstSlotInWindow := utils.FirstSlotInWindow(slot)
	if slot == firstSlotInWindow && parentSlot != 0 {
		parentReadyKey := event.ParentReadyKey{
			Slot:       slot,
			ParentSlot: parentSlot,
			ParentHash: parentHash,
		}
		if _, exists := v.parentsReady[parentReadyKey]; !exists {
			return false
		}
	} else if slot != firstSlotInWindow {
		if parentSlot >= slot || (v.votedNotar[parentSlot] != parentHash && parentSlot != 0) {
			return false
		}
	}

	vote := &consensus.Vote{
		Slot:      slot,
		View:      v.timeouts.CurrentView(slot),
		VoteType:  consensus.NOTAR_VOTE,
		BlockHash: hash,
		PubKey:    v.blsPubKey,
	}
	vote.Sign(v.blsPrivKey)
	v.addVoteToPoolAndBroadcast(vote)
	v.voted[slot] = struct{}{}
	v.votedNotar[slot] = hash
	delete(v.pendingBlocks, slot)
	logx.Info("VOTOR", fmt.Sprintf("Voted notar for block %s in slot %d", hex.EncodeToString(hash[:]), slot))
	v.tryFinal(slot, hash)
	return true
}

// tryFinal casts the second-round vote, only once, and only when this
// validator notarized the same block and the pool observed its notar cert.
func (v *Votor) tryFinal(slot uint64, hash [32]byte) {
	if _, alreadyFinal := v.votedFinal[slot]; alreadyFinal {
		return
	}

	notarizedHash, isNotarized := v.blockNotarized[slot]
	votedHash, isVotedNotar := v.votedNotar[slot]
	_, isBadWindow := v.badWindow[slot]

	if isNotarized && notarizedHash == hash && isVotedNotar && votedHash == hash && !isBadWindow {
		vote := &consensus.Vote{
			Slot:      slot,
			View:      v.timeouts.CurrentView(slot),
			VoteType:  consensus.FINAL_VOTE,
			BlockHash: hash,
			PubKey:    v.blsPubKey,
		}
		vote.Sign(v.blsPrivKey)
		v.addVoteToPoolAndBroadcast(vote)
		v.votedFinal[slot] = struct{}{}
		logx.Info("VOTOR", fmt.Sprintf("Voted final for block %s in slot %d", hex.EncodeToString(hash[:]), slot))
	}
}

// trySkipWindow abandons every not-yet-voted slot of the window with a skip
// vote. Slots already carrying a notar vote keep it; they are only marked as
// a bad window so no finalization vote follows.
func (v *Votor) trySkipWindow(currentSlot uint64) {
	logx.Info("VOTOR", fmt.Sprintf("Trying to skip window at slot %d", currentSlot))
	for _, slot := range utils.SlotsInWindow(currentSlot) {
		v.badWindow[slot] = struct{}{}
		if _, voted := v.voted[slot]; !voted {
			vote := &consensus.Vote{
				Slot:     slot,
				View:     v.timeouts.CurrentView(slot),
				VoteType: consensus.SKIP_VOTE,
				PubKey:   v.blsPubKey,
			}
			vote.Sign(v.blsPrivKey)
			v.addVoteToPoolAndBroadcast(vote)
			v.voted[slot] = struct{}{}
		}
	}
}

func (v *Votor) checkPendingBlocks() {
	for {
		progress := false
		for _, blockInfo := range v.pendingBlocks {
			if v.tryNotar(blockInfo) {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

func (v *Votor) handleParentReady(ev event.VotorEvent) {
	v.parentsReady[event.ParentReadyKey{
		Slot:       ev.Slot,
		ParentSlot: ev.Block.ParentSlot,
		ParentHash: ev.Block.ParentHash,
	}] = struct{}{}

	v.timeouts.Arm(ev.Slot, time.Now())
	v.checkPendingBlocks()
}

func (v *Votor) handleCertCreated(ev event.VotorEvent) {
	cert := ev.Cert
	broadcastedCert := v.getBroadcastedCert(cert.Slot)

	switch cert.CertType {
	case consensus.NOTAR_CERT:
		if broadcastedCert.notar {
			return
		}
		broadcastedCert.notar = true

	case consensus.FAST_FINAL_CERT:
		if broadcastedCert.fastFinal {
			return
		}
		broadcastedCert.fastFinal = true

	case consensus.FINAL_CERT:
		if broadcastedCert.final {
			return
		}
		broadcastedCert.final = true

	case consensus.SKIP_CERT:
		if broadcastedCert.skip {
			return
		}
		broadcastedCert.skip = true
	}

	if err := v.network.BroadcastCert(context.Background(), cert); err != nil {
		logx.Error("VOTOR", "Failed to broadcast cert: ", err)
	}
}

func (v *Votor) handleCertSaved(ev event.VotorEvent) {
	cert := ev.Cert

	// Any certificate is progress; the window's clock starts over.
	v.timeouts.OnCertificateObserved(cert.Slot, time.Now())

	switch cert.CertType {
	case consensus.NOTAR_CERT:
		v.blockNotarized[cert.Slot] = cert.BlockHash
		v.tryFinal(cert.Slot, cert.BlockHash)

	case consensus.FINAL_CERT, consensus.FAST_FINAL_CERT:
		delete(v.broadcastedCert, cert.Slot)
		delete(v.pendingBlocks, cert.Slot)
		if cert.Slot == utils.LastSlotInWindow(cert.Slot) {
			v.timeouts.Disarm(cert.Slot)
		}
	}
}

func (v *Votor) addVoteToPoolAndBroadcast(vote *consensus.Vote) {
	// First save vote to pool
	if result, err := v.pool.AddVote(vote); err != nil {
		logx.Warn("VOTOR", fmt.Sprintf("Own vote not accepted (%s): %v", result, err))
	}
	// Then broadcast to network
	if err := v.network.BroadcastVote(context.Background(), vote); err != nil {
		logx.Error("VOTOR", "Failed to broadcast vote: ", err)
	}
}
