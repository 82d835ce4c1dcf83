package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votor/utils"
)

func TestLoadConsensusConfigDefaults(t *testing.T) {
	cfg, err := LoadConsensusConfig("")
	require.NoError(t, err)

	assert.Equal(t, uint64(4), cfg.FastPathThresholdNum)
	assert.Equal(t, uint64(5), cfg.FastPathThresholdDen)
	assert.Equal(t, uint64(3), cfg.SlowPathThresholdNum)
	assert.Equal(t, uint64(400), cfg.BaseTimeoutMs)
	assert.Equal(t, 1.5, cfg.TimeoutBackoffFactor)
	assert.Equal(t, utils.DefaultLeaderWindowSize, cfg.LeaderWindowSize)
}

func TestLoadConsensusConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(`[consensus]
fast_path_threshold_num = 2
fast_path_threshold_den = 3
base_timeout_ms = 250
timeout_backoff_factor = 2.0
leader_window_size = 8
`), 0644))

	cfg, err := LoadConsensusConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), cfg.FastPathThresholdNum)
	assert.Equal(t, uint64(3), cfg.FastPathThresholdDen)
	assert.Equal(t, uint64(250), cfg.BaseTimeoutMs)
	assert.Equal(t, 2.0, cfg.TimeoutBackoffFactor)
	assert.Equal(t, uint64(8), cfg.LeaderWindowSize)

	// Unset keys keep defaults
	assert.Equal(t, uint64(3), cfg.SlowPathThresholdNum)
	assert.Equal(t, uint64(5), cfg.SlowPathThresholdDen)
}

func TestBackoffFactorMustExceedOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(`[consensus]
timeout_backoff_factor = 1.0
`), 0644))

	_, err := LoadConsensusConfig(path)
	assert.Error(t, err)
}

func TestThresholdsConversion(t *testing.T) {
	cfg := DefaultConsensusConfig()
	thresholds, err := cfg.Thresholds()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), thresholds.FastNum)
	assert.Equal(t, uint64(5), thresholds.FastDen)

	// Fast path below slow path is rejected
	cfg.FastPathThresholdNum = 1
	cfg.FastPathThresholdDen = 2
	_, err = cfg.Thresholds()
	assert.Error(t, err)
}

func TestLoadGenesisConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yml")
	require.NoError(t, os.WriteFile(path, []byte(`config:
  self_node:
    pubkey: "aabb"
    privkey_path: "/keys/node1.key"
    libp2p_addr: "/ip4/0.0.0.0/tcp/9000"
    metrics_addr: ":9100"
  bootstrap_peers:
    - "/ip4/10.0.0.1/tcp/9000/p2p/Qm123"
  validators:
    - pubkey: "aabb"
      stake: 20
    - pubkey: "ccdd"
      stake: 20
  leader_schedule:
    - start_slot: 1
      end_slot: 4
      leader: "aabb"
  genesis_slot: 0
  genesis_hash: "`+"0000000000000000000000000000000000000000000000000000000000000001"+`"
`), 0644))

	cfg, err := LoadGenesisConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "aabb", cfg.SelfNode.PubKey)
	assert.Equal(t, ":9100", cfg.SelfNode.MetricsAddr)
	require.Len(t, cfg.Validators, 2)
	assert.Equal(t, uint64(20), cfg.Validators[0].Stake)
	require.Len(t, cfg.LeaderSchedule, 1)

	hash, err := cfg.GenesisBlockHash()
	require.NoError(t, err)
	assert.Equal(t, byte(1), hash[31])

	ls, err := ConvertLeaderSchedule(cfg.LeaderSchedule)
	require.NoError(t, err)
	leader, ok := ls.LeaderAt(2)
	require.True(t, ok)
	assert.Equal(t, "aabb", leader)
}

func TestGenesisBlockHashValidation(t *testing.T) {
	cfg := &GenesisConfig{GenesisHash: "zz"}
	_, err := cfg.GenesisBlockHash()
	assert.Error(t, err)

	cfg.GenesisHash = "aabb"
	_, err = cfg.GenesisBlockHash()
	assert.Error(t, err, "wrong length")
}
