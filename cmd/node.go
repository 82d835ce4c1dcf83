package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"votor/block"
	"votor/config"
	"votor/consensus"
	"votor/events"
	"votor/exception"
	"votor/logx"
	"votor/monitoring"
	"votor/p2p"
	"votor/pool"
	"votor/stake"
	"votor/store"
	"votor/utils"
	"votor/votor"
	"votor/votor/event"
)

const chainDBFile = "chain.db"

var (
	genesisPath string
	configPath  string
	dataDir     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the finalization node",
	Run: func(cmd *cobra.Command, args []string) {
		runNode()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&genesisPath, "genesis", "config/genesis.yml", "Path to genesis config")
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to consensus parameters (.ini), defaults apply when empty")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent state")
}

func runNode() {
	cfg, err := config.LoadGenesisConfig(genesisPath)
	if err != nil {
		log.Fatalf("Failed to load genesis config: %v", err)
	}

	consensusCfg, err := config.LoadConsensusConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load consensus config: %v", err)
	}

	thresholds, err := consensusCfg.Thresholds()
	if err != nil {
		log.Fatalf("Invalid consensus thresholds: %v", err)
	}
	utils.SetLeaderWindowSize(consensusCfg.LeaderWindowSize)

	privKey, err := config.LoadBlsPrivKey(cfg.SelfNode.PrivKeyPath)
	if err != nil {
		log.Fatalf("Failed to load private key: %v", err)
	}
	if !strings.EqualFold(privKey.GetPublicKey().SerializeToHexStr(), cfg.SelfNode.PubKey) {
		log.Fatalf("Private key does not match configured public key %s", cfg.SelfNode.PubKey)
	}

	genesisHash, err := cfg.GenesisBlockHash()
	if err != nil {
		log.Fatalf("Invalid genesis hash: %v", err)
	}

	stakeTable := stake.NewTable(0)
	for _, v := range cfg.Validators {
		if err := stakeTable.Register(v.PubKey, v.Stake); err != nil {
			log.Fatalf("Failed to register validator %s: %v", v.PubKey, err)
		}
	}
	stakeTable.Seal()
	if !stakeTable.Contains(cfg.SelfNode.PubKey) {
		log.Fatalf("Self public key %s not in validator set", cfg.SelfNode.PubKey)
	}

	leaderSchedule, err := config.ConvertLeaderSchedule(cfg.LeaderSchedule)
	if err != nil {
		log.Fatalf("Invalid leader schedule: %v", err)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", dataDir, err)
	}
	chainStore, err := store.NewChainStore(filepath.Join(dataDir, chainDBFile))
	if err != nil {
		log.Fatalf("Failed to open chain store: %v", err)
	}

	eventBus := events.NewEventBus()
	startFinalizationConsumer(eventBus, chainStore)
	votorCh := make(chan event.VotorEvent, 1024)

	votePool := pool.NewPool(
		stakeTable,
		thresholds,
		cfg.GenesisSlot,
		genesisHash,
		votorCh,
		eventBus,
		cfg.SelfNode.PubKey,
	)

	network, err := p2p.NewNetwork(cfg.SelfNode.PubKey, cfg.SelfNode.Libp2pAddr, cfg.BootstrapPeers)
	if err != nil {
		log.Fatalf("Failed to start p2p network: %v", err)
	}

	network.SetCallbacks(
		func(vote *consensus.Vote) {
			if result, err := votePool.AddVote(vote); err != nil {
				logx.Warn("NODE", fmt.Sprintf("Vote from %s for slot %d not accepted (%s): %v", vote.PubKey, vote.Slot, result, err))
			}
		},
		func(cert *consensus.Cert) {
			added, err := votePool.AddCert(cert)
			if err != nil {
				logx.Warn("NODE", fmt.Sprintf("Cert for slot %d not accepted: %v", cert.Slot, err))
				return
			}
			if added {
				if err := chainStore.SaveCert(cert); err != nil {
					logx.Error("NODE", "Failed to persist cert: ", err)
				}
			}
		},
		func(blk *block.Block) {
			if err := chainStore.SaveBlock(blk); err != nil {
				logx.Error("NODE", "Failed to persist block: ", err)
			}
			votePool.OnBlockDelivered(blk)
		},
	)
	if err := network.SetupPubSubTopics(context.Background()); err != nil {
		log.Fatalf("Failed to setup pubsub topics: %v", err)
	}

	timeouts := votor.NewTimeoutManager(
		time.Duration(consensusCfg.BaseTimeoutMs)*time.Millisecond,
		consensusCfg.TimeoutBackoffFactor,
	)
	caster := votor.NewVotor(
		cfg.SelfNode.PubKey,
		privKey,
		votorCh,
		network,
		votePool,
		leaderSchedule,
		timeouts,
	)
	exception.SafeGoWithPanic("Votor", caster.Run)

	if cfg.SelfNode.MetricsAddr != "" {
		exception.SafeGo("MetricsServer", func() {
			monitoring.StartMetricsServer(cfg.SelfNode.MetricsAddr)
		})
	}

	logx.Info("NODE", fmt.Sprintf("Votor node running as %s, genesis slot %d", cfg.SelfNode.PubKey, cfg.GenesisSlot))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logx.Info("NODE", "Shutting down")
	caster.Stop()
	network.Close()
	chainStore.MustClose()
}

// startFinalizationConsumer persists the finalization frontier and surfaces
// misbehavior reports from the event bus.
func startFinalizationConsumer(eventBus *events.EventBus, chainStore *store.ChainStore) {
	_, ch := eventBus.Subscribe()
	exception.SafeGo("FinalizationConsumer", func() {
		for ev := range ch {
			switch e := ev.(type) {
			case *events.BlockFinalized:
				if err := chainStore.MarkFinalized(e.FinalizedSlot, e.BlockHash); err != nil {
					logx.Error("NODE", "Failed to persist finalized slot: ", err)
				}
			case *events.EquivocationDetected:
				logx.Warn("NODE", fmt.Sprintf("Equivocation by %s at slot %d (%s): %s", e.Voter, e.OffenseSlot, e.VoteType, e.Detail))
			}
		}
	})
}
