package pool

import (
	"fmt"
	"sort"

	"github.com/herumi/bls-eth-go-binary/bls"

	"votor/consensus"
	"votor/stake"
	"votor/utils"
)

// EquivocationError is evidence of a slashable double vote. The pool
// excludes the offending vote from counting and publishes the evidence; the
// penalty accounting lives in the economic layer.
type EquivocationError struct {
	Voter    string
	Slot     uint64
	VoteType consensus.VoteType
	Detail   string
}

func (e *EquivocationError) Error() string {
	return fmt.Sprintf("slashable offense by %s in slot %d: %s", e.Voter, e.Slot, e.Detail)
}

type HashVote struct {
	hash [32]byte
	vote *consensus.Vote
}

// SlotVotes stores all votes received from the network for a slot, at most
// one per (voter, kind).
type SlotVotes struct {
	notar map[string]*HashVote // voter pubkey -> vote
	skip  map[string]*consensus.Vote
	final map[string]*HashVote
}

// SlotVotedStakes maintains running stake sums per candidate block hash so
// every insertion re-evaluates thresholds in O(1).
type SlotVotedStakes struct {
	notar map[[32]byte]uint64 // hash -> sum of voter stakes
	final map[[32]byte]uint64
	skip  uint64 // block-independent
}

type SlotCertificates struct {
	notar        *consensus.Cert
	fastFinalize *consensus.Cert
	finalize     *consensus.Cert
	skip         *consensus.Cert
}

// SlotState is the per-slot vote pool plus certificate aggregator. It is
// owned by a single Pool and only ever touched from its event order, so the
// invariants (one vote per kind per voter, one certificate per kind) are
// plain sequential checks.
type SlotState struct {
	slot         uint64
	stakes       *stake.Table
	thresholds   consensus.Thresholds
	votes        SlotVotes
	votedStakes  SlotVotedStakes
	certificates SlotCertificates
	ownPubKey    string
}

func NewSlotState(slot uint64, stakes *stake.Table, thresholds consensus.Thresholds, ownPubKey string) *SlotState {
	return &SlotState{
		slot:       slot,
		stakes:     stakes,
		thresholds: thresholds,
		votes: SlotVotes{
			notar: make(map[string]*HashVote),
			skip:  make(map[string]*consensus.Vote),
			final: make(map[string]*HashVote),
		},
		votedStakes: SlotVotedStakes{
			notar: make(map[[32]byte]uint64),
			final: make(map[[32]byte]uint64),
			skip:  0,
		},
		certificates: SlotCertificates{},
		ownPubKey:    ownPubKey,
	}
}

// CheckSlashableOffense returns evidence if the vote conflicts with one the
// voter already cast in this slot.
func (ss *SlotState) CheckSlashableOffense(v *consensus.Vote) *EquivocationError {
	voter := v.PubKey

	offense := func(detail string) *EquivocationError {
		return &EquivocationError{Voter: voter, Slot: v.Slot, VoteType: v.VoteType, Detail: detail}
	}

	switch v.VoteType {
	case consensus.NOTAR_VOTE:
		if _, exists := ss.votes.skip[voter]; exists {
			return offense("voted skip and notar")
		}
		if hv, exists := ss.votes.notar[voter]; exists && hv.hash != v.BlockHash {
			return offense("voted notar for different blocks")
		}

	case consensus.SKIP_VOTE:
		if _, exists := ss.votes.final[voter]; exists {
			return offense("voted final and skip")
		}
		if _, exists := ss.votes.notar[voter]; exists {
			return offense("voted notar and skip")
		}

	case consensus.FINAL_VOTE:
		if _, exists := ss.votes.skip[voter]; exists {
			return offense("voted skip and final")
		}
		hv, exists := ss.votes.notar[voter]
		if !exists {
			return offense("voted final without a prior notar")
		}
		if hv.hash != v.BlockHash {
			return offense("voted final for a block other than the notarized one")
		}
		if fv, exists := ss.votes.final[voter]; exists && fv.hash != v.BlockHash {
			return offense("voted final for different blocks")
		}
	}

	return nil
}

// ContainsVote reports whether an equal vote is already recorded.
func (ss *SlotState) ContainsVote(v *consensus.Vote) bool {
	voter := v.PubKey

	switch v.VoteType {
	case consensus.NOTAR_VOTE:
		if hv, exists := ss.votes.notar[voter]; exists && hv.hash == v.BlockHash {
			return true
		}

	case consensus.SKIP_VOTE:
		if _, exists := ss.votes.skip[voter]; exists {
			return true
		}

	case consensus.FINAL_VOTE:
		if hv, exists := ss.votes.final[voter]; exists && hv.hash == v.BlockHash {
			return true
		}
	}

	return false
}

func (ss *SlotState) ContainsCert(c *consensus.Cert) bool {
	switch c.CertType {
	case consensus.NOTAR_CERT:
		return ss.certificates.notar != nil
	case consensus.FAST_FINAL_CERT:
		return ss.certificates.fastFinalize != nil
	case consensus.FINAL_CERT:
		return ss.certificates.finalize != nil
	case consensus.SKIP_CERT:
		return ss.certificates.skip != nil
	}
	return false
}

// AddVote records the vote and returns any certificates whose threshold this
// insertion crossed. The caller has already verified the signature and
// screened for duplicates and equivocation.
func (ss *SlotState) AddVote(v *consensus.Vote) []consensus.Cert {
	voter := v.PubKey
	voterStake := ss.stakes.Stake(voter)

	switch v.VoteType {
	case consensus.NOTAR_VOTE:
		ss.votes.notar[voter] = &HashVote{hash: v.BlockHash, vote: v}
		return ss.countNotarStake(v.BlockHash, voterStake)

	case consensus.SKIP_VOTE:
		ss.votes.skip[voter] = v
		return ss.countSkipStake(voterStake)

	case consensus.FINAL_VOTE:
		ss.votes.final[voter] = &HashVote{hash: v.BlockHash, vote: v}
		return ss.countFinalStake(v.BlockHash, voterStake)
	}

	return nil
}

// AddCert records an externally observed (or locally built) certificate.
// Idempotent: a kind already present is left untouched.
func (ss *SlotState) AddCert(cert *consensus.Cert) {
	switch cert.CertType {
	case consensus.NOTAR_CERT:
		if ss.certificates.notar == nil {
			ss.certificates.notar = cert
		}

	case consensus.FAST_FINAL_CERT:
		if ss.certificates.fastFinalize == nil {
			ss.certificates.fastFinalize = cert
		}

	case consensus.FINAL_CERT:
		if ss.certificates.finalize == nil {
			ss.certificates.finalize = cert
		}

	case consensus.SKIP_CERT:
		if ss.certificates.skip == nil {
			ss.certificates.skip = cert
		}
	}
}

func (ss *SlotState) countNotarStake(blockHash [32]byte, voterStake uint64) []consensus.Cert {
	newCerts := []consensus.Cert{}

	ss.votedStakes.notar[blockHash] += voterStake
	notarStake := ss.votedStakes.notar[blockHash]

	if notarStake >= ss.slowThreshold() && ss.certificates.notar == nil {
		newCerts = append(newCerts, ss.buildCert(consensus.NOTAR_CERT, blockHash, notarStake))
	}

	if notarStake >= ss.fastThreshold() && ss.certificates.fastFinalize == nil {
		newCerts = append(newCerts, ss.buildCert(consensus.FAST_FINAL_CERT, blockHash, notarStake))
	}

	// The slow-path finalize certificate needs both rounds at quorum; the
	// notar leg may be the one that crosses last.
	if finalStake := ss.votedStakes.final[blockHash]; finalStake >= ss.slowThreshold() &&
		notarStake >= ss.slowThreshold() && ss.certificates.finalize == nil {
		newCerts = append(newCerts, ss.buildCert(consensus.FINAL_CERT, blockHash, finalStake))
	}

	return newCerts
}

func (ss *SlotState) countFinalStake(blockHash [32]byte, voterStake uint64) []consensus.Cert {
	newCerts := []consensus.Cert{}

	ss.votedStakes.final[blockHash] += voterStake
	finalStake := ss.votedStakes.final[blockHash]

	if finalStake >= ss.slowThreshold() && ss.votedStakes.notar[blockHash] >= ss.slowThreshold() &&
		ss.certificates.finalize == nil {
		newCerts = append(newCerts, ss.buildCert(consensus.FINAL_CERT, blockHash, finalStake))
	}

	return newCerts
}

func (ss *SlotState) countSkipStake(voterStake uint64) []consensus.Cert {
	newCerts := []consensus.Cert{}

	ss.votedStakes.skip += voterStake

	if ss.votedStakes.skip >= ss.skipThreshold() && ss.certificates.skip == nil {
		newCerts = append(newCerts, ss.buildCert(consensus.SKIP_CERT, [32]byte{}, ss.votedStakes.skip))
	}

	return newCerts
}

func (ss *SlotState) fastThreshold() uint64 {
	return ss.stakes.Threshold(ss.thresholds.FastNum, ss.thresholds.FastDen)
}

func (ss *SlotState) slowThreshold() uint64 {
	return ss.stakes.Threshold(ss.thresholds.SlowNum, ss.thresholds.SlowDen)
}

func (ss *SlotState) skipThreshold() uint64 {
	return ss.stakes.Threshold(ss.thresholds.SkipNum, ss.thresholds.SkipDen)
}

// buildCert assembles a certificate from the recorded votes. Construction is
// a pure function of the vote set: two validators observing the same votes
// derive byte-equivalent signer sets and aggregates.
func (ss *SlotState) buildCert(certType consensus.CertType, blockHash [32]byte, stakeSum uint64) consensus.Cert {
	voteType := consensus.NOTAR_VOTE
	switch certType {
	case consensus.FINAL_CERT:
		voteType = consensus.FINAL_VOTE
	case consensus.SKIP_CERT:
		voteType = consensus.SKIP_VOTE
	}

	signs, pubkeys := ss.getSignsAndPubkeysFromVote(voteType, blockHash)
	newCert := consensus.Cert{
		Slot:        ss.slot,
		CertType:    certType,
		BlockHash:   blockHash,
		Stake:       stakeSum,
		ListPubKeys: pubkeys,
	}
	newCert.AggregateSignature(signs)
	return newCert
}

func (ss *SlotState) getSignsAndPubkeysFromVote(voteType consensus.VoteType, blockHash [32]byte) ([]bls.Sign, []string) {
	var matched []*consensus.Vote

	switch voteType {
	case consensus.NOTAR_VOTE:
		for _, hashVote := range ss.votes.notar {
			if hashVote.hash == blockHash {
				matched = append(matched, hashVote.vote)
			}
		}

	case consensus.FINAL_VOTE:
		for _, hashVote := range ss.votes.final {
			if hashVote.hash == blockHash {
				matched = append(matched, hashVote.vote)
			}
		}

	case consensus.SKIP_VOTE:
		for _, vote := range ss.votes.skip {
			matched = append(matched, vote)
		}
	}

	// Sorted signer order keeps certificate construction deterministic
	// across validators observing the same vote set.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].PubKey < matched[j].PubKey
	})

	var signs []bls.Sign
	var pubkeys []string
	for _, v := range matched {
		if sign, err := utils.BytesToBlsSignature(v.Signature); err == nil {
			signs = append(signs, sign)
			pubkeys = append(pubkeys, v.PubKey)
		}
	}

	return signs, pubkeys
}
