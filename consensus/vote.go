package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"

	"votor/jsonx"
)

type VoteType int

const (
	NOTAR_VOTE VoteType = iota
	FINAL_VOTE
	SKIP_VOTE
)

func (vt VoteType) String() string {
	switch vt {
	case NOTAR_VOTE:
		return "notar"
	case FINAL_VOTE:
		return "final"
	case SKIP_VOTE:
		return "skip"
	}
	return "unknown"
}

// Vote is a validator's vote for a slot. Notar and final votes endorse a
// specific block hash; skip votes leave BlockHash zero.
type Vote struct {
	Slot      uint64 // slot number
	View      uint64 // voter-local view at the time of casting
	VoteType  VoteType
	BlockHash [32]byte
	PubKey    string // BLS public key of voter
	Signature []byte
}

// serializeVote to sign and verify (without Signature + PubKey to keep the
// same message). View is excluded too: votes of one kind for one block must
// share a common message so their signatures aggregate into a certificate.
func (v *Vote) serializeVote() []byte {
	data, _ := jsonx.Marshal(struct {
		Slot      uint64
		VoteType  VoteType
		BlockHash [32]byte
	}{
		Slot:      v.Slot,
		VoteType:  v.VoteType,
		BlockHash: v.BlockHash,
	})
	return data
}

// Sign vote with private key of voter
func (v *Vote) Sign(priv bls.SecretKey) {
	v.Signature = priv.SignByte(v.serializeVote()).Serialize()
}

// VerifySignature check vote signature with public key
func (v *Vote) VerifySignature(pub bls.PublicKey) bool {
	var sign bls.Sign
	if err := sign.Deserialize(v.Signature); err != nil {
		return false
	}
	return sign.VerifyByte(&pub, v.serializeVote())
}

// Validate basic shape checks before any crypto work
func (v *Vote) Validate() error {
	if v.Slot == 0 {
		return fmt.Errorf("vote for slot 0")
	}
	if v.PubKey == "" {
		return fmt.Errorf("missing voter pubkey")
	}
	if len(v.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	if v.VoteType == SKIP_VOTE && v.BlockHash != ([32]byte{}) {
		return fmt.Errorf("skip vote carries a block hash")
	}
	if v.VoteType != SKIP_VOTE && v.BlockHash == ([32]byte{}) {
		return fmt.Errorf("%s vote missing block hash", v.VoteType)
	}
	return nil
}
