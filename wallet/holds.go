package wallet

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"bcrnode/core/types"
)

var (
	bucketHolds = []byte("holds")

	// ErrHoldNotFound is returned when releasing an outpoint that is not held.
	ErrHoldNotFound = errors.New("wallet: hold not found")
)

// HoldRecord is one collateral output the node has asked the wallet not to
// spend.
type HoldRecord struct {
	OutPoint string    `json:"outpoint"`
	HeldAt   time.Time `json:"heldAt"`
}

// HoldLedger persists collateral holds so they can be re-applied after the
// wallet daemon restarts and audited when the node exits uncleanly.
type HoldLedger struct {
	db *bolt.DB
}

// OpenHoldLedger initialises the BoltDB-backed ledger at path.
func OpenHoldLedger(path string, options *bolt.Options) (*HoldLedger, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHolds)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HoldLedger{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (l *HoldLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Put records a hold on op. Re-holding keeps the original timestamp.
func (l *HoldLedger) Put(op types.OutPoint, now time.Time) error {
	key := []byte(op.String())
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHolds)
		if bucket.Get(key) != nil {
			return nil
		}
		raw, err := json.Marshal(HoldRecord{OutPoint: op.String(), HeldAt: now.UTC()})
		if err != nil {
			return err
		}
		return bucket.Put(key, raw)
	})
}

// Delete removes the hold on op, returning ErrHoldNotFound if there is none.
func (l *HoldLedger) Delete(op types.OutPoint) error {
	key := []byte(op.String())
	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHolds)
		if bucket.Get(key) == nil {
			return ErrHoldNotFound
		}
		return bucket.Delete(key)
	})
}

// Has reports whether op is held.
func (l *HoldLedger) Has(op types.OutPoint) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketHolds).Get([]byte(op.String())) != nil
		return nil
	})
	return found, err
}

// List returns every hold ordered by the time it was taken.
func (l *HoldLedger) List() ([]HoldRecord, error) {
	var out []HoldRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHolds).ForEach(func(_, v []byte) error {
			var rec HoldRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HeldAt.Before(out[j].HeldAt) })
	return out, nil
}

// Stale returns the holds taken before cutoff. A hold that survives a clean
// shutdown means a release was missed and funds stay locked until it is
// cleared.
func (l *HoldLedger) Stale(cutoff time.Time) ([]HoldRecord, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	stale := all[:0]
	for _, rec := range all {
		if rec.HeldAt.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	return stale, nil
}
