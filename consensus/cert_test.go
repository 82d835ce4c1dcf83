package consensus

import (
	"testing"

	"github.com/herumi/bls-eth-go-binary/bls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestCert(t *testing.T, certType CertType, slot uint64, blockHash [32]byte, signers int) (*Cert, map[string]bls.PublicKey) {
	t.Helper()

	voteType := certType.voteType()
	pubs := make(map[string]bls.PublicKey, signers)
	var signs []bls.Sign
	var pubkeys []string

	for i := 0; i < signers; i++ {
		sec, hexPub := newSigner(t)
		vote := &Vote{Slot: slot, VoteType: voteType, BlockHash: blockHash, PubKey: hexPub}
		vote.Sign(sec)

		var sign bls.Sign
		require.NoError(t, sign.Deserialize(vote.Signature))
		signs = append(signs, sign)
		pubkeys = append(pubkeys, hexPub)
		pubs[hexPub] = *sec.GetPublicKey()
	}

	cert := &Cert{
		Slot:        slot,
		CertType:    certType,
		BlockHash:   blockHash,
		Stake:       uint64(signers) * 20,
		ListPubKeys: pubkeys,
	}
	cert.AggregateSignature(signs)
	return cert, pubs
}

func TestCertAggregateVerify(t *testing.T) {
	hash := [32]byte{7}
	cert, pubs := buildTestCert(t, NOTAR_CERT, 3, hash, 4)

	lookup := func(pk string) (bls.PublicKey, bool) {
		pub, ok := pubs[pk]
		return pub, ok
	}
	assert.True(t, cert.VerifySignature(lookup))

	// Unknown signer fails the whole certificate
	cert.ListPubKeys[0] = "stranger"
	assert.False(t, cert.VerifySignature(lookup))
}

func TestCertVerifyRejectsWrongPayload(t *testing.T) {
	hash := [32]byte{7}
	cert, pubs := buildTestCert(t, NOTAR_CERT, 3, hash, 3)

	lookup := func(pk string) (bls.PublicKey, bool) {
		pub, ok := pubs[pk]
		return pub, ok
	}

	cert.Slot = 4
	assert.False(t, cert.VerifySignature(lookup))
}

func TestSkipCertVerify(t *testing.T) {
	cert, pubs := buildTestCert(t, SKIP_CERT, 9, [32]byte{}, 3)

	assert.True(t, cert.VerifySignature(func(pk string) (bls.PublicKey, bool) {
		pub, ok := pubs[pk]
		return pub, ok
	}))
	assert.NoError(t, cert.Validate())
}

func TestCertValidate(t *testing.T) {
	hash := [32]byte{1}
	cert, _ := buildTestCert(t, FAST_FINAL_CERT, 5, hash, 2)
	assert.NoError(t, cert.Validate())

	noSigners := &Cert{Slot: 5, CertType: NOTAR_CERT, BlockHash: hash, AggregateSig: []byte{1}}
	assert.Error(t, noSigners.Validate())

	noSig := &Cert{Slot: 5, CertType: NOTAR_CERT, BlockHash: hash, ListPubKeys: []string{"a"}}
	assert.Error(t, noSig.Validate())

	skipWithHash := &Cert{Slot: 5, CertType: SKIP_CERT, BlockHash: hash, ListPubKeys: []string{"a"}, AggregateSig: []byte{1}}
	assert.Error(t, skipWithHash.Validate())

	notarWithoutHash := &Cert{Slot: 5, CertType: NOTAR_CERT, ListPubKeys: []string{"a"}, AggregateSig: []byte{1}}
	assert.Error(t, notarWithoutHash.Validate())

	slotZero := &Cert{Slot: 0, CertType: NOTAR_CERT, BlockHash: hash, ListPubKeys: []string{"a"}, AggregateSig: []byte{1}}
	assert.Error(t, slotZero.Validate())
}

func TestIsFinalizing(t *testing.T) {
	assert.False(t, (&Cert{CertType: NOTAR_CERT}).IsFinalizing())
	assert.True(t, (&Cert{CertType: FAST_FINAL_CERT}).IsFinalizing())
	assert.True(t, (&Cert{CertType: FINAL_CERT}).IsFinalizing())
	assert.False(t, (&Cert{CertType: SKIP_CERT}).IsFinalizing())
}
