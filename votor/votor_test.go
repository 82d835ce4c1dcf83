package votor

import (
	"context"
	"testing"
	"time"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votor/consensus"
	"votor/events"
	"votor/pool"
	"votor/schedule"
	"votor/stake"
	"votor/votor/event"
)

var testGenesisHash = [32]byte{0xFF}

type fakeBroadcaster struct {
	votes []*consensus.Vote
	certs []*consensus.Cert
}

func (f *fakeBroadcaster) BroadcastVote(ctx context.Context, vote *consensus.Vote) error {
	f.votes = append(f.votes, vote)
	return nil
}

func (f *fakeBroadcaster) BroadcastCert(ctx context.Context, cert *consensus.Cert) error {
	f.certs = append(f.certs, cert)
	return nil
}

type votorEnv struct {
	caster      *Votor
	network     *fakeBroadcaster
	pool        *pool.Pool
	secs        []bls.SecretKey
	pubs        []string
	genesisHash [32]byte
}

func newVotorEnv(t *testing.T) *votorEnv {
	t.Helper()

	table := stake.NewTable(0)
	secs := make([]bls.SecretKey, 5)
	pubs := make([]string, 5)
	for i := range secs {
		secs[i].SetByCSPRNG()
		pubs[i] = secs[i].GetPublicKey().SerializeToHexStr()
		require.NoError(t, table.Register(pubs[i], 20))
	}
	table.Seal()

	votorC := make(chan event.VotorEvent, 128)
	p := pool.NewPool(table, consensus.DefaultThresholds(), 0, testGenesisHash, votorC, events.NewEventBus(), pubs[0])

	ls, err := schedule.NewLeaderSchedule(nil)
	require.NoError(t, err)

	network := &fakeBroadcaster{}
	timeouts := NewTimeoutManager(400*time.Millisecond, 1.5)
	caster := NewVotor(pubs[0], secs[0], votorC, network, p, ls, timeouts)

	return &votorEnv{caster: caster, network: network, pool: p, secs: secs, pubs: pubs, genesisHash: testGenesisHash}
}

func blockEvent(slot uint64, hash [32]byte, parentSlot uint64, parentHash [32]byte) event.VotorEvent {
	return event.VotorEvent{
		Type:      event.BLOCK_RECEIVED,
		Slot:      slot,
		BlockHash: hash,
		Block: event.BlockInfo{
			Slot:       slot,
			Hash:       hash,
			ParentSlot: parentSlot,
			ParentHash: parentHash,
		},
	}
}

func notarCert(slot uint64, hash [32]byte) *consensus.Cert {
	return &consensus.Cert{Slot: slot, CertType: consensus.NOTAR_CERT, BlockHash: hash, ListPubKeys: []string{"x"}, AggregateSig: []byte{1}}
}

func voteTypes(votes []*consensus.Vote) []consensus.VoteType {
	types := make([]consensus.VoteType, len(votes))
	for i, v := range votes {
		types[i] = v.VoteType
	}
	return types
}

func TestNotarVoteOnDeliveredBlock(t *testing.T) {
	env := newVotorEnv(t)
	hash := [32]byte{0x11}

	env.caster.handleEvent(blockEvent(1, hash, 0, env.genesisHash))

	require.Len(t, env.network.votes, 1)
	vote := env.network.votes[0]
	assert.Equal(t, consensus.NOTAR_VOTE, vote.VoteType)
	assert.Equal(t, uint64(1), vote.Slot)
	assert.Equal(t, hash, vote.BlockHash)
	assert.Equal(t, env.pubs[0], vote.PubKey)

	// Redelivery of the same block does not produce a second vote
	env.caster.handleEvent(blockEvent(1, hash, 0, env.genesisHash))
	assert.Len(t, env.network.votes, 1)

	// Neither does a competing block for the same slot
	env.caster.handleEvent(blockEvent(1, [32]byte{0x12}, 0, env.genesisHash))
	assert.Len(t, env.network.votes, 1)
}

func TestFinalVoteAfterNotarCert(t *testing.T) {
	env := newVotorEnv(t)
	hash := [32]byte{0x22}

	env.caster.handleEvent(blockEvent(1, hash, 0, env.genesisHash))
	require.Equal(t, []consensus.VoteType{consensus.NOTAR_VOTE}, voteTypes(env.network.votes))

	// Observing the slot's notar certificate licenses the second round
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: 1, Cert: notarCert(1, hash)})

	require.Equal(t, []consensus.VoteType{consensus.NOTAR_VOTE, consensus.FINAL_VOTE}, voteTypes(env.network.votes))
	finalVote := env.network.votes[1]
	assert.Equal(t, hash, finalVote.BlockHash)

	// A replayed certificate does not produce a second final vote
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: 1, Cert: notarCert(1, hash)})
	assert.Len(t, env.network.votes, 2)
}

func TestNoFinalVoteWithoutOwnNotarization(t *testing.T) {
	env := newVotorEnv(t)

	// Notar certificate for a block this validator never voted for
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: 1, Cert: notarCert(1, [32]byte{0x33})})
	assert.Empty(t, env.network.votes)
}

func TestNoFinalVoteForDifferentBlock(t *testing.T) {
	env := newVotorEnv(t)
	mine := [32]byte{0x44}
	other := [32]byte{0x45}

	env.caster.handleEvent(blockEvent(1, mine, 0, env.genesisHash))
	require.Len(t, env.network.votes, 1)

	// The network notarized a different block; no finalization vote
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: 1, Cert: notarCert(1, other)})
	assert.Len(t, env.network.votes, 1)
}

func TestTimeoutSkipsWindow(t *testing.T) {
	env := newVotorEnv(t)

	env.caster.handleEvent(event.VotorEvent{Type: event.TIMEOUT, Slot: 1})

	// One skip vote per slot of the window
	require.Len(t, env.network.votes, 4)
	for i, vote := range env.network.votes {
		assert.Equal(t, consensus.SKIP_VOTE, vote.VoteType)
		assert.Equal(t, uint64(i+1), vote.Slot)
		assert.Equal(t, [32]byte{}, vote.BlockHash)
	}

	// A block arriving after the skip gets no notar vote
	env.caster.handleEvent(blockEvent(2, [32]byte{0x55}, 1, [32]byte{0x11}))
	assert.Len(t, env.network.votes, 4)

	// And the window stays bad: no finalization votes either
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_SAVED, Slot: 1, Cert: notarCert(1, [32]byte{0x11})})
	assert.Len(t, env.network.votes, 4)
}

func TestTimeoutAfterNotarVoteSkipsRemainder(t *testing.T) {
	env := newVotorEnv(t)
	hash := [32]byte{0x66}

	env.caster.handleEvent(blockEvent(1, hash, 0, env.genesisHash))
	require.Len(t, env.network.votes, 1)

	env.caster.handleEvent(event.VotorEvent{Type: event.TIMEOUT, Slot: 1})

	// Skips for slots 2..4 only; slot 1 keeps its notar vote
	require.Len(t, env.network.votes, 4)
	assert.Equal(t, consensus.NOTAR_VOTE, env.network.votes[0].VoteType)
	for _, vote := range env.network.votes[1:] {
		assert.Equal(t, consensus.SKIP_VOTE, vote.VoteType)
		assert.NotEqual(t, uint64(1), vote.Slot)
	}
}

func TestPendingBlockWaitsForParentReady(t *testing.T) {
	env := newVotorEnv(t)
	parentHash := [32]byte{0x77}
	hash := [32]byte{0x78}

	// Slot 5 starts a window; its parent at slot 4 is not certified yet
	env.caster.handleEvent(blockEvent(5, hash, 4, parentHash))
	assert.Empty(t, env.network.votes)

	env.caster.handleEvent(event.VotorEvent{
		Type: event.PARENT_READY,
		Slot: 5,
		Block: event.BlockInfo{
			Slot:       5,
			ParentSlot: 4,
			ParentHash: parentHash,
		},
	})

	require.Len(t, env.network.votes, 1)
	assert.Equal(t, consensus.NOTAR_VOTE, env.network.votes[0].VoteType)
	assert.Equal(t, uint64(5), env.network.votes[0].Slot)
}

func TestMidWindowBlockNeedsNotarizedParent(t *testing.T) {
	env := newVotorEnv(t)
	h1 := [32]byte{0x81}
	h2 := [32]byte{0x82}

	// Slot 2 chains on slot 1, which we have not voted for: held back
	env.caster.handleEvent(blockEvent(2, h2, 1, h1))
	assert.Empty(t, env.network.votes)

	// Once slot 1's block is voted, the pending child follows
	env.caster.handleEvent(blockEvent(1, h1, 0, env.genesisHash))
	require.Len(t, env.network.votes, 2)
	assert.Equal(t, uint64(1), env.network.votes[0].Slot)
	assert.Equal(t, uint64(2), env.network.votes[1].Slot)
}

func TestLeaderMismatchRejected(t *testing.T) {
	env := newVotorEnv(t)
	ls, err := schedule.NewLeaderSchedule([]schedule.Entry{
		{StartSlot: 1, EndSlot: 4, Leader: env.pubs[1]},
	})
	require.NoError(t, err)
	env.caster.leaderSchedule = ls

	ev := blockEvent(1, [32]byte{0x91}, 0, env.genesisHash)
	ev.Block.Proposer = env.pubs[2] // not the scheduled leader
	env.caster.handleEvent(ev)
	assert.Empty(t, env.network.votes)

	ev.Block.Proposer = env.pubs[1]
	env.caster.handleEvent(ev)
	assert.Len(t, env.network.votes, 1)
}

func TestCertBroadcastDeduplicated(t *testing.T) {
	env := newVotorEnv(t)
	cert := notarCert(2, [32]byte{0xA1})

	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_CREATED, Slot: 2, Cert: cert})
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_CREATED, Slot: 2, Cert: cert})
	assert.Len(t, env.network.certs, 1)

	// A different kind for the same slot still goes out
	fastFinal := &consensus.Cert{Slot: 2, CertType: consensus.FAST_FINAL_CERT, BlockHash: [32]byte{0xA1}, ListPubKeys: []string{"x"}, AggregateSig: []byte{1}}
	env.caster.handleEvent(event.VotorEvent{Type: event.CERT_CREATED, Slot: 2, Cert: fastFinal})
	assert.Len(t, env.network.certs, 2)
}
