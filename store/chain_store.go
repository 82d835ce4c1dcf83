package store

import (
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"votor/block"
	"votor/consensus"
	"votor/jsonx"
	"votor/logx"
)

const MetaKeyLatestFinalized = "latest_finalized"

var (
	bucketBlocks = []byte("blocks")
	bucketCerts  = []byte("certs")
	bucketMeta   = []byte("meta")
)

// SlotBoundary represents slot boundary information
type SlotBoundary struct {
	Slot uint64
	Hash [32]byte
}

// ChainStore persists delivered blocks, observed certificates and the
// finalization frontier across restarts.
type ChainStore struct {
	db              *bolt.DB
	mu              sync.RWMutex
	latestFinalized uint64
}

func NewChainStore(path string) (*ChainStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open chain store: %w", err)
	}

	store := &ChainStore{db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBlocks, bucketCerts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	if err := store.loadLatestFinalized(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	return store, nil
}

func (s *ChainStore) loadLatestFinalized() error {
	return s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get([]byte(MetaKeyLatestFinalized))
		if value == nil {
			s.latestFinalized = 0
			return nil
		}
		if len(value) != 8 {
			return fmt.Errorf("invalid latest finalized value length: %d", len(value))
		}
		s.latestFinalized = binary.BigEndian.Uint64(value)
		return nil
	})
}

func slotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// certKey orders certificates per slot by type, so a slot's certs share a
// key prefix.
func certKey(slot uint64, certType consensus.CertType) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key, slot)
	key[8] = byte(certType)
	return key
}

func (s *ChainStore) SaveBlock(b *block.Block) error {
	data, err := jsonx.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(slotKey(b.Slot), data)
	})
}

// Block retrieves a block by slot number, nil when absent.
func (s *ChainStore) Block(slot uint64) *block.Block {
	var blk *block.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketBlocks).Get(slotKey(slot))
		if value == nil {
			return nil
		}
		return jsonx.Unmarshal(value, &blk)
	})
	if err != nil {
		logx.Error("CHAINSTORE", "Failed to get block", slot, "error:", err)
		return nil
	}
	return blk
}

func (s *ChainStore) HasBlock(slot uint64) bool {
	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketBlocks).Get(slotKey(slot)) != nil
		return nil
	})
	return exists
}

func (s *ChainStore) SaveCert(c *consensus.Cert) error {
	data, err := jsonx.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cert: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCerts).Put(certKey(c.Slot, c.CertType), data)
	})
}

// Cert retrieves a certificate by slot and type, nil when absent.
func (s *ChainStore) Cert(slot uint64, certType consensus.CertType) *consensus.Cert {
	var cert *consensus.Cert
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketCerts).Get(certKey(slot, certType))
		if value == nil {
			return nil
		}
		return jsonx.Unmarshal(value, &cert)
	})
	if err != nil {
		logx.Error("CHAINSTORE", "Failed to get cert", slot, "error:", err)
		return nil
	}
	return cert
}

// Certs returns every stored certificate for a slot.
func (s *ChainStore) Certs(slot uint64) []*consensus.Cert {
	var certs []*consensus.Cert
	prefix := slotKey(slot)
	s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCerts).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) == 9 && binary.BigEndian.Uint64(k[:8]) == slot; k, v = c.Next() {
			var cert *consensus.Cert
			if err := jsonx.Unmarshal(v, &cert); err != nil {
				logx.Error("CHAINSTORE", "Failed to unmarshal cert", slot, "error:", err)
				continue
			}
			certs = append(certs, cert)
		}
		return nil
	})
	return certs
}

// MarkFinalized advances the finalization frontier. Regressions are ignored
// so replayed events cannot move it backwards.
func (s *ChainStore) MarkFinalized(slot uint64, hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot <= s.latestFinalized {
		return nil
	}

	boundary := SlotBoundary{Slot: slot, Hash: hash}
	data, err := jsonx.Marshal(boundary)
	if err != nil {
		return fmt.Errorf("failed to marshal boundary: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put([]byte(MetaKeyLatestFinalized), slotKey(slot)); err != nil {
			return err
		}
		return meta.Put(slotKey(slot), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist finalization: %w", err)
	}

	s.latestFinalized = slot
	return nil
}

// LatestFinalized returns the highest finalized slot and its block hash.
func (s *ChainStore) LatestFinalized() (SlotBoundary, bool) {
	s.mu.RLock()
	slot := s.latestFinalized
	s.mu.RUnlock()

	if slot == 0 {
		return SlotBoundary{}, false
	}

	var boundary SlotBoundary
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get(slotKey(slot))
		if value == nil {
			return nil
		}
		if err := jsonx.Unmarshal(value, &boundary); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return boundary, found
}

func (s *ChainStore) LatestFinalizedSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestFinalized
}

func (s *ChainStore) MustClose() {
	if err := s.db.Close(); err != nil {
		logx.Error("CHAINSTORE", "Failed to close chain store:", err)
	}
}
