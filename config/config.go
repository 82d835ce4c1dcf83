package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/herumi/bls-eth-go-binary/bls"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"votor/consensus"
	"votor/logx"
	"votor/schedule"
	"votor/utils"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis: self=%s validators=%d schedule_entries=%d",
		cfgFile.Config.SelfNode.PubKey, len(cfgFile.Config.Validators), len(cfgFile.Config.LeaderSchedule)))
	return &cfgFile.Config, nil
}

// LoadBlsPrivKey loads a BLS secret key from a file (expects hex encoding)
func LoadBlsPrivKey(path string) (bls.SecretKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return bls.SecretKey{}, err
	}
	return utils.HexToBlsSecretKey(strings.TrimSpace(string(data)))
}

// GenesisBlockHash decodes the configured genesis block hash.
func (c *GenesisConfig) GenesisBlockHash() ([32]byte, error) {
	var hash [32]byte
	raw, err := hex.DecodeString(c.GenesisHash)
	if err != nil {
		return hash, fmt.Errorf("invalid genesis hash: %w", err)
	}
	if len(raw) != 32 {
		return hash, fmt.Errorf("invalid genesis hash length %d", len(raw))
	}
	copy(hash[:], raw)
	return hash, nil
}

// ConvertLeaderSchedule converts []config.LeaderSchedule to *schedule.LeaderSchedule
func ConvertLeaderSchedule(entries []LeaderSchedule) (*schedule.LeaderSchedule, error) {
	scheduleEntries := make([]schedule.Entry, len(entries))
	for i, e := range entries {
		scheduleEntries[i] = schedule.Entry{
			StartSlot: e.StartSlot,
			EndSlot:   e.EndSlot,
			Leader:    e.Leader,
		}
	}
	return schedule.NewLeaderSchedule(scheduleEntries)
}

// ConsensusConfig holds the tunable quorum and timing parameters.
type ConsensusConfig struct {
	FastPathThresholdNum uint64  `ini:"fast_path_threshold_num"`
	FastPathThresholdDen uint64  `ini:"fast_path_threshold_den"`
	SlowPathThresholdNum uint64  `ini:"slow_path_threshold_num"`
	SlowPathThresholdDen uint64  `ini:"slow_path_threshold_den"`
	SkipThresholdNum     uint64  `ini:"skip_threshold_num"`
	SkipThresholdDen     uint64  `ini:"skip_threshold_den"`
	BaseTimeoutMs        uint64  `ini:"base_timeout_ms"`
	TimeoutBackoffFactor float64 `ini:"timeout_backoff_factor"`
	LeaderWindowSize     uint64  `ini:"leader_window_size"`
}

func DefaultConsensusConfig() *ConsensusConfig {
	return &ConsensusConfig{
		FastPathThresholdNum: 4,
		FastPathThresholdDen: 5,
		SlowPathThresholdNum: 3,
		SlowPathThresholdDen: 5,
		SkipThresholdNum:     3,
		SkipThresholdDen:     5,
		BaseTimeoutMs:        400,
		TimeoutBackoffFactor: 1.5,
		LeaderWindowSize:     utils.DefaultLeaderWindowSize,
	}
}

// LoadConsensusConfig reads consensus parameters from an .ini file; missing
// keys fall back to defaults.
func LoadConsensusConfig(path string) (*ConsensusConfig, error) {
	consensusCfg := DefaultConsensusConfig()
	if path == "" {
		return consensusCfg, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Section("consensus").MapTo(consensusCfg); err != nil {
		return nil, err
	}
	if consensusCfg.TimeoutBackoffFactor <= 1.0 {
		return nil, fmt.Errorf("timeout_backoff_factor must exceed 1.0, got %v", consensusCfg.TimeoutBackoffFactor)
	}
	return consensusCfg, nil
}

// Thresholds converts the configured ratios into validated quorum thresholds.
func (c *ConsensusConfig) Thresholds() (consensus.Thresholds, error) {
	t := consensus.Thresholds{
		FastNum: c.FastPathThresholdNum, FastDen: c.FastPathThresholdDen,
		SlowNum: c.SlowPathThresholdNum, SlowDen: c.SlowPathThresholdDen,
		SkipNum: c.SkipThresholdNum, SkipDen: c.SkipThresholdDen,
	}
	if err := t.Validate(); err != nil {
		return consensus.Thresholds{}, err
	}
	return t, nil
}
