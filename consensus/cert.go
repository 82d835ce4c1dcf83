package consensus

import (
	"fmt"

	"github.com/herumi/bls-eth-go-binary/bls"

	"votor/jsonx"
)

type CertType int

const (
	// NOTAR_CERT: notarization stake reached the slow threshold. Licenses
	// the second-round finalization vote.
	NOTAR_CERT CertType = iota
	// FAST_FINAL_CERT: notarization stake reached the fast threshold;
	// single-round finalization.
	FAST_FINAL_CERT
	// FINAL_CERT: both notarization and finalization stake reached the slow
	// threshold for the same block; two-round finalization.
	FINAL_CERT
	// SKIP_CERT: skip stake reached the skip threshold; the slot is
	// abandoned without a block.
	SKIP_CERT
)

func (ct CertType) String() string {
	switch ct {
	case NOTAR_CERT:
		return "notar"
	case FAST_FINAL_CERT:
		return "fast_final"
	case FINAL_CERT:
		return "final"
	case SKIP_CERT:
		return "skip"
	}
	return "unknown"
}

// voteType maps a certificate type to the vote kind whose signatures it
// aggregates.
func (ct CertType) voteType() VoteType {
	switch ct {
	case NOTAR_CERT, FAST_FINAL_CERT:
		return NOTAR_VOTE
	case FINAL_CERT:
		return FINAL_VOTE
	case SKIP_CERT:
		return SKIP_VOTE
	}
	panic(fmt.Sprintf("unknown cert type %d", ct))
}

// Cert is a stake-weighted aggregate proof that a vote threshold was
// crossed. It is not an authoritative object owned by a leader: every
// validator observing the same votes derives an equivalent certificate.
// The vote signing payload deliberately excludes the view, so signers in
// different views aggregate into one certificate and the certificate itself
// carries no view.
type Cert struct {
	Slot         uint64
	CertType     CertType
	BlockHash    [32]byte // zero for skip certs
	Stake        uint64
	ListPubKeys  []string
	AggregateSig []byte
}

// signingPayload reproduces the message the aggregated votes signed.
func (c *Cert) signingPayload() []byte {
	data, _ := jsonx.Marshal(struct {
		Slot      uint64
		VoteType  VoteType
		BlockHash [32]byte
	}{
		Slot:      c.Slot,
		VoteType:  c.CertType.voteType(),
		BlockHash: c.BlockHash,
	})
	return data
}

// AggregateSignature aggregates the signer set's vote signatures into the
// certificate.
func (c *Cert) AggregateSignature(signs []bls.Sign) {
	var agg bls.Sign
	agg.Aggregate(signs)
	c.AggregateSig = agg.Serialize()
}

// VerifySignature checks the aggregate against the signer set. lookup
// resolves signer pubkeys from the stake table; an unknown signer fails the
// whole certificate.
func (c *Cert) VerifySignature(lookup func(string) (bls.PublicKey, bool)) bool {
	if len(c.ListPubKeys) == 0 || len(c.AggregateSig) == 0 {
		return false
	}

	pubs := make([]bls.PublicKey, 0, len(c.ListPubKeys))
	for _, pubkey := range c.ListPubKeys {
		pub, ok := lookup(pubkey)
		if !ok {
			return false
		}
		pubs = append(pubs, pub)
	}

	var agg bls.Sign
	if err := agg.Deserialize(c.AggregateSig); err != nil {
		return false
	}
	return agg.FastAggregateVerify(pubs, c.signingPayload())
}

// Validate basic shape checks before any crypto work
func (c *Cert) Validate() error {
	if c.Slot == 0 {
		return fmt.Errorf("certificate for slot 0")
	}
	if len(c.ListPubKeys) == 0 {
		return fmt.Errorf("certificate without signers")
	}
	if len(c.AggregateSig) == 0 {
		return fmt.Errorf("certificate without aggregate signature")
	}
	if c.CertType == SKIP_CERT && c.BlockHash != ([32]byte{}) {
		return fmt.Errorf("skip certificate carries a block hash")
	}
	if c.CertType != SKIP_CERT && c.BlockHash == ([32]byte{}) {
		return fmt.Errorf("%s certificate missing block hash", c.CertType)
	}
	return nil
}

// IsFinalizing reports whether observing this certificate finalizes a block.
func (c *Cert) IsFinalizing() bool {
	return c.CertType == FAST_FINAL_CERT || c.CertType == FINAL_CERT
}
