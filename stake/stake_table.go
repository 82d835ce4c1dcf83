package stake

import (
	"errors"
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"

	"votor/utils"
)

// ValidatorInfo is one row of the epoch stake table.
type ValidatorInfo struct {
	Pubkey    string // hex BLS public key, also the validator's identity
	Stake     uint64
	publicKey bls.PublicKey
}

// Table is the per-epoch stake snapshot. It is built once at startup (or at
// an epoch boundary), sealed, and then shared read-only across the pool,
// the aggregator and the vote caster without synchronization.
type Table struct {
	epoch      uint64
	validators map[string]*ValidatorInfo
	totalStake uint64
	sealed     bool
}

func NewTable(epoch uint64) *Table {
	return &Table{
		epoch:      epoch,
		validators: make(map[string]*ValidatorInfo),
	}
}

// Register adds a validator before the table is sealed.
func (t *Table) Register(pubkey string, stakeAmount uint64) error {
	if t.sealed {
		return errors.New("stake table is sealed")
	}
	if stakeAmount == 0 {
		return fmt.Errorf("validator %s has zero stake", pubkey)
	}
	if _, exists := t.validators[pubkey]; exists {
		return errors.New("validator already registered")
	}

	blsPub, err := utils.HexToBlsPublicKey(pubkey)
	if err != nil {
		return fmt.Errorf("invalid BLS public key for validator %s: %w", pubkey, err)
	}

	t.validators[pubkey] = &ValidatorInfo{
		Pubkey:    pubkey,
		Stake:     stakeAmount,
		publicKey: blsPub,
	}
	t.totalStake += stakeAmount
	return nil
}

// Seal freezes the table; no registrations are accepted afterwards.
func (t *Table) Seal() {
	t.sealed = true
}

func (t *Table) Epoch() uint64 {
	return t.epoch
}

// Stake returns the stake of a validator, zero for unknown pubkeys.
func (t *Table) Stake(pubkey string) uint64 {
	if v, exists := t.validators[pubkey]; exists {
		return v.Stake
	}
	return 0
}

func (t *Table) TotalStake() uint64 {
	return t.totalStake
}

// Threshold returns floor(num * TotalStake / den). Quorum checks are
// inclusive: a stake sum meets the threshold at exactly this value.
func (t *Table) Threshold(num, den uint64) uint64 {
	if den == 0 {
		panic("threshold denominator is zero")
	}
	return num * t.totalStake / den
}

// PublicKey resolves a validator's BLS public key for signature checks.
func (t *Table) PublicKey(pubkey string) (bls.PublicKey, bool) {
	if v, exists := t.validators[pubkey]; exists {
		return v.publicKey, true
	}
	return bls.PublicKey{}, false
}

func (t *Table) Contains(pubkey string) bool {
	_, exists := t.validators[pubkey]
	return exists
}

func (t *Table) ValidatorCount() int {
	return len(t.validators)
}

// Validators returns the registered pubkeys in no particular order.
func (t *Table) Validators() []string {
	keys := make([]string, 0, len(t.validators))
	for pubkey := range t.validators {
		keys = append(keys, pubkey)
	}
	return keys
}
