package audit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// GenesisHash anchors the first entry of the hash chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var eventsBucket = []byte("events")

// storedEvent is the persisted form of an Event plus its chain link.
type storedEvent struct {
	Event
	PrevHash string `json:"prev_hash"`
}

// ChainHash computes the link carried by the entry after this one.
// hash = SHA-256( id || prevHash || time )
func ChainHash(id, prevHash string, t time.Time) string {
	h := sha256.Sum256([]byte(id + prevHash + t.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

// Store persists events in a bbolt database as an append-only, hash-chained
// log. Entries are keyed by insertion sequence, so cursor order is
// chronological order.
type Store struct {
	db *bbolt.DB
}

var _ Trail = (*Store)(nil)

// NewStore returns a Store backed by the given bbolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// OpenStore opens (creating if needed) an audit database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return fmt.Errorf("audit event has no type")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(eventsBucket)
		if err != nil {
			return err
		}
		prev := GenesisHash
		if k, v := b.Cursor().Last(); k != nil {
			var last storedEvent
			if err := json.Unmarshal(v, &last); err != nil {
				return fmt.Errorf("decoding last audit entry: %w", err)
			}
			prev = ChainHash(last.ID, last.PrevHash, last.Time)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedEvent{Event: ev, PrevHash: prev})
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func seqKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

// List returns up to limit events, newest first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) ([]Event, error) {
	var events []Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(events) >= limit {
				break
			}
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return fmt.Errorf("decoding audit entry %x: %w", k, err)
			}
			events = append(events, se.Event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Verify walks the chain oldest-first, recomputing every link, and returns
// the number of entries checked. Any altered, reordered, or removed entry
// breaks the chain at or after its position.
func (s *Store) Verify() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		if b == nil {
			return nil
		}
		prev := GenesisHash
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var se storedEvent
			if err := json.Unmarshal(v, &se); err != nil {
				return fmt.Errorf("audit entry %d is undecodable: %v", n, err)
			}
			if se.PrevHash != prev {
				return fmt.Errorf("audit chain broken at entry %d (id=%s)", n, se.ID)
			}
			prev = ChainHash(se.ID, se.PrevHash, se.Time)
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
