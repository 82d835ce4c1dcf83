package config

// NodeConfig represents a node's configuration
type NodeConfig struct {
	PubKey      string `yaml:"pubkey"` // hex BLS public key
	PrivKeyPath string `yaml:"privkey_path"`
	Libp2pAddr  string `yaml:"libp2p_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// ValidatorEntry declares one validator's identity and stake for the epoch.
type ValidatorEntry struct {
	PubKey string `yaml:"pubkey"` // hex BLS public key
	Stake  uint64 `yaml:"stake"`
}

// LeaderSchedule represents a leader schedule entry
type LeaderSchedule struct {
	StartSlot uint64 `yaml:"start_slot"`
	EndSlot   uint64 `yaml:"end_slot"`
	Leader    string `yaml:"leader"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	SelfNode       NodeConfig       `yaml:"self_node"`
	BootstrapPeers []string         `yaml:"bootstrap_peers"`
	Validators     []ValidatorEntry `yaml:"validators"`
	LeaderSchedule []LeaderSchedule `yaml:"leader_schedule"`
	GenesisSlot    uint64           `yaml:"genesis_slot"`
	GenesisHash    string           `yaml:"genesis_hash"` // hex, 32 bytes
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
