package p2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"votor/block"
	"votor/consensus"
	"votor/exception"
	"votor/jsonx"
	"votor/logx"
)

// SetupPubSubTopics joins the vote, cert and block topics and starts the
// handler loops. Call after SetCallbacks.
func (ln *Libp2pNetwork) SetupPubSubTopics(ctx context.Context) error {
	var err error

	if ln.topicVotes, err = ln.pubsub.Join(VoteTopic); err != nil {
		return fmt.Errorf("failed to join vote topic: %w", err)
	}
	if ln.topicCerts, err = ln.pubsub.Join(CertTopic); err != nil {
		return fmt.Errorf("failed to join cert topic: %w", err)
	}
	if ln.topicBlocks, err = ln.pubsub.Join(BlockTopic); err != nil {
		return fmt.Errorf("failed to join block topic: %w", err)
	}

	voteSub, err := ln.topicVotes.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe vote topic: %w", err)
	}
	certSub, err := ln.topicCerts.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe cert topic: %w", err)
	}
	blockSub, err := ln.topicBlocks.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe block topic: %w", err)
	}

	exception.SafeGoWithPanic("HandleVoteTopic", func() {
		ln.HandleVoteTopic(ctx, voteSub)
	})
	exception.SafeGoWithPanic("HandleCertTopic", func() {
		ln.HandleCertTopic(ctx, certSub)
	})
	exception.SafeGoWithPanic("HandleBlockTopic", func() {
		ln.HandleBlockTopic(ctx, blockSub)
	})

	logx.Info("NETWORK", "Subscribed to vote, cert and block topics")
	return nil
}

func (ln *Libp2pNetwork) HandleVoteTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Warn("NETWORK:VOTE", "Next error:", err)
			continue
		}

		// Skip messages from self to avoid processing own messages
		if msg.ReceivedFrom == ln.host.ID() {
			continue
		}

		var vote *consensus.Vote
		if err := jsonx.Unmarshal(msg.Data, &vote); err != nil {
			logx.Warn("NETWORK:VOTE", "Unmarshal error:", err)
			continue
		}

		if ln.onVoteReceived != nil {
			ln.onVoteReceived(vote)
		}
	}
}

func (ln *Libp2pNetwork) HandleCertTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Warn("NETWORK:CERT", "Next error:", err)
			continue
		}

		if msg.ReceivedFrom == ln.host.ID() {
			continue
		}

		var cert *consensus.Cert
		if err := jsonx.Unmarshal(msg.Data, &cert); err != nil {
			logx.Warn("NETWORK:CERT", "Unmarshal error:", err)
			continue
		}

		if ln.onCertReceived != nil {
			ln.onCertReceived(cert)
		}
	}
}

func (ln *Libp2pNetwork) HandleBlockTopic(ctx context.Context, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.Warn("NETWORK:BLOCK", "Next error:", err)
			continue
		}

		if msg.ReceivedFrom == ln.host.ID() {
			continue
		}

		var blk *block.Block
		if err := jsonx.Unmarshal(msg.Data, &blk); err != nil {
			logx.Warn("NETWORK:BLOCK", "Unmarshal error:", err)
			continue
		}

		if ln.onBlockReceived != nil {
			ln.onBlockReceived(blk)
		}
	}
}

func (ln *Libp2pNetwork) BroadcastVote(ctx context.Context, vote *consensus.Vote) error {
	data, err := jsonx.Marshal(vote)
	if err != nil {
		return err
	}

	if ln.topicVotes != nil {
		return ln.topicVotes.Publish(ctx, data)
	}
	return nil
}

func (ln *Libp2pNetwork) BroadcastCert(ctx context.Context, cert *consensus.Cert) error {
	data, err := jsonx.Marshal(cert)
	if err != nil {
		return err
	}

	if ln.topicCerts != nil {
		return ln.topicCerts.Publish(ctx, data)
	}
	return nil
}

func (ln *Libp2pNetwork) BroadcastBlock(ctx context.Context, blk *block.Block) error {
	data, err := jsonx.Marshal(blk)
	if err != nil {
		return err
	}

	if ln.topicBlocks != nil {
		return ln.topicBlocks.Publish(ctx, data)
	}
	return nil
}
