package p2p

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"votor/block"
	"votor/consensus"
)

const (
	VoteTopic  = "votor/votes/v1"
	CertTopic  = "votor/certs/v1"
	BlockTopic = "votor/blocks/v1"

	MaxMessageSize = 5 * 1024 * 1024
)

type VoteCallback func(vote *consensus.Vote)
type CertCallback func(cert *consensus.Cert)
type BlockCallback func(blk *block.Block)

type Libp2pNetwork struct {
	host   host.Host
	pubsub *pubsub.PubSub

	selfPubKey string

	topicVotes  *pubsub.Topic
	topicCerts  *pubsub.Topic
	topicBlocks *pubsub.Topic

	onVoteReceived  VoteCallback
	onCertReceived  CertCallback
	onBlockReceived BlockCallback

	ctx    context.Context
	cancel context.CancelFunc
}

func (ln *Libp2pNetwork) SetCallbacks(onVote VoteCallback, onCert CertCallback, onBlock BlockCallback) {
	ln.onVoteReceived = onVote
	ln.onCertReceived = onCert
	ln.onBlockReceived = onBlock
}
