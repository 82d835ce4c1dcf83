package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/spf13/cobra"

	"votor/logx"
)

var (
	initDataDir     string
	initPrivKeyPath string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize node data directory and BLS keypair",
	Long: `Initialize a new validator node by:
- Generating a new BLS secret key (or copying a provided one)
- Writing the matching public key for use in genesis config
- Setting up the data directory`,
	Run: func(cmd *cobra.Command, args []string) {
		initializeNode()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initDataDir, "data-dir", "./data", "Directory to save node data")
	initCmd.Flags().StringVar(&initPrivKeyPath, "privkey-path", "", "Path to existing BLS private key file (optional)")
}

// initializeNode generates or imports a BLS keypair and prepares the data
// directory. Safe to run multiple times; existing keys are never overwritten.
func initializeNode() {
	if err := os.MkdirAll(initDataDir, 0o755); err != nil {
		logx.Error("INIT", "Failed to create data directory:", err.Error())
		return
	}

	privKeyFile := filepath.Join(initDataDir, "privkey.txt")
	pubKeyFile := filepath.Join(initDataDir, "pubkey.txt")

	if initPrivKeyPath != "" {
		importPrivKey(privKeyFile, pubKeyFile)
		return
	}

	if _, err := os.Stat(privKeyFile); err == nil {
		logx.Info("INIT", "Private key already exists at:", privKeyFile)
		return
	}

	var sec bls.SecretKey
	sec.SetByCSPRNG()
	pubHex := sec.GetPublicKey().SerializeToHexStr()

	if err := os.WriteFile(privKeyFile, []byte(sec.SerializeToHexStr()), 0o600); err != nil {
		logx.Error("INIT", "Failed to write private key:", err.Error())
		return
	}
	if err := os.WriteFile(pubKeyFile, []byte(pubHex), 0o644); err != nil {
		logx.Error("INIT", "Failed to write public key:", err.Error())
		return
	}

	logx.Info("INIT", "Generated new BLS keypair")
	logx.Info("INIT", "Private key saved to:", privKeyFile)
	logx.Info("INIT", "Public key saved to:", pubKeyFile)
	logx.Info("INIT", "Validator pubkey:", pubHex)
}

func importPrivKey(privKeyFile, pubKeyFile string) {
	logx.Info("INIT", "Using provided private key from:", initPrivKeyPath)

	data, err := os.ReadFile(initPrivKeyPath)
	if err != nil {
		logx.Error("INIT", "Failed to read provided private key file:", err.Error())
		return
	}

	var sec bls.SecretKey
	if err := sec.DeserializeHexStr(strings.TrimSpace(string(data))); err != nil {
		logx.Error("INIT", "Provided private key is not valid hex BLS key:", err.Error())
		return
	}

	if err := os.WriteFile(privKeyFile, data, 0o600); err != nil {
		logx.Error("INIT", "Failed to copy private key to data directory:", err.Error())
		return
	}
	pubHex := sec.GetPublicKey().SerializeToHexStr()
	if err := os.WriteFile(pubKeyFile, []byte(pubHex), 0o644); err != nil {
		logx.Error("INIT", "Failed to write public key to file:", err.Error())
		return
	}

	logx.Info("INIT", "Private key copied to:", privKeyFile)
	logx.Info("INIT", "Public key saved to:", pubKeyFile)
	logx.Info("INIT", "Validator pubkey:", pubHex)
}
