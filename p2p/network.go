package p2p

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"votor/exception"
	"votor/logx"
	"votor/monitoring"
)

func NewNetwork(selfPubKey string, listenAddr string, bootstrapPeers []string) (*Libp2pNetwork, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// The libp2p identity is independent of the BLS voting key; a fresh
	// ed25519 key per process is enough since votes carry their own signatures.
	privKey, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to generate libp2p identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.EnableNATService(),
		libp2p.NATPortMap(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMaxMessageSize(MaxMessageSize),
		pubsub.WithPeerExchange(true),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("failed to create pubsub: %w", err)
	}

	ln := &Libp2pNetwork{
		host:       h,
		pubsub:     ps,
		selfPubKey: selfPubKey,
		ctx:        ctx,
		cancel:     cancel,
	}

	ln.connectBootstrapPeers(ctx, bootstrapPeers)

	exception.SafeGo("PeerCountMonitor", func() {
		ln.monitorPeerCount(ctx)
	})

	logx.Info("NETWORK", fmt.Sprintf("Libp2p network started with ID: %s", h.ID().String()))
	for _, addr := range h.Addrs() {
		logx.Info("NETWORK", "Listening on:", addr.String())
	}

	return ln, nil
}

func (ln *Libp2pNetwork) connectBootstrapPeers(ctx context.Context, bootstrapPeers []string) {
	for _, bootstrapPeer := range bootstrapPeers {
		if bootstrapPeer == "" {
			continue
		}

		maddr, err := ma.NewMultiaddr(bootstrapPeer)
		if err != nil {
			logx.Error("NETWORK:SETUP", "Invalid bootstrap address:", bootstrapPeer, ", error:", err)
			continue
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			logx.Error("NETWORK:SETUP", "Invalid bootstrap peer info:", bootstrapPeer, ", error:", err)
			continue
		}

		if err := ln.host.Connect(ctx, *info); err != nil {
			logx.Error("NETWORK:SETUP", "Failed to connect to bootstrap:", bootstrapPeer, err.Error())
			continue
		}

		logx.Info("NETWORK:SETUP", "Connected to bootstrap peer:", bootstrapPeer)
	}
}

func (ln *Libp2pNetwork) monitorPeerCount(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			monitoring.SetPeerCount(ln.GetPeersConnected())
		case <-ctx.Done():
			return
		}
	}
}

func (ln *Libp2pNetwork) GetPeersConnected() int {
	return len(ln.host.Network().Peers())
}

func (ln *Libp2pNetwork) SelfID() peer.ID {
	return ln.host.ID()
}

func (ln *Libp2pNetwork) Close() {
	ln.cancel()
	ln.host.Close()
}
