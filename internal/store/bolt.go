package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNetwork = []byte("network")
	bucketSystem  = []byte("system")
	keyNetState   = []byte("state")
	keyBootCount  = []byte("boot_count")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a BoltDB database. Calling it on an existing
// database is harmless.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNetwork, bucketSystem} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveNetworkState(state *NetworkState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetwork)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNetwork)
		}
		return b.Put(keyNetState, data)
	})
}

func (s *BoltStore) GetNetworkState() (*NetworkState, error) {
	var state NetworkState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetwork)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNetwork)
		}
		data := b.Get(keyNetState)
		if data == nil {
			return fmt.Errorf("network state: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ClearNetworkState forgets the joined network; the next boot is a first start.
func (s *BoltStore) ClearNetworkState() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNetwork)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNetwork)
		}
		return b.Delete(keyNetState)
	})
}

func (s *BoltStore) IncrementBootCount() (uint32, error) {
	var n uint32
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSystem)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSystem)
		}
		if v := b.Get(keyBootCount); len(v) == 4 {
			n = binary.BigEndian.Uint32(v)
		}
		n++
		return b.Put(keyBootCount, binary.BigEndian.AppendUint32(nil, n))
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
