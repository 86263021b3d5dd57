package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const spendBucket = "spend"

// BoltLedger is a bbolt-backed Ledger. Totals are stored as JSON numbers
// keyed by session id.
type BoltLedger struct {
	db *bolt.DB
}

// NewBoltLedger opens (or creates) the ledger file at path.
func NewBoltLedger(path string) (*BoltLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(spendBucket)); err != nil {
			return fmt.Errorf("create bucket %s: %w", spendBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &BoltLedger{db: db}, nil
}

func (l *BoltLedger) Total(_ context.Context, session string) (float64, error) {
	var total float64
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		total, err = readTotal(tx.Bucket([]byte(spendBucket)), session)
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Add runs in a single bbolt write transaction, so concurrent adds to the
// same session are serialized.
func (l *BoltLedger) Add(_ context.Context, session string, cost float64) (float64, error) {
	if err := checkSession(session); err != nil {
		return 0, err
	}
	if err := checkCost(cost); err != nil {
		return 0, err
	}

	var total float64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(spendBucket))
		current, err := readTotal(b, session)
		if err != nil {
			return err
		}
		total = current + cost
		data, err := json.Marshal(total)
		if err != nil {
			return fmt.Errorf("marshal total: %w", err)
		}
		return b.Put([]byte(session), data)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (l *BoltLedger) Reset(_ context.Context, session string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(spendBucket)).Delete([]byte(session))
	})
}

// Sessions returns every session with recorded spend.
func (l *BoltLedger) Sessions() (map[string]float64, error) {
	result := make(map[string]float64)
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(spendBucket)).ForEach(func(k, v []byte) error {
			var total float64
			if err := json.Unmarshal(v, &total); err != nil {
				return fmt.Errorf("unmarshal session %s: %w", string(k), err)
			}
			result[string(k)] = total
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func readTotal(b *bolt.Bucket, session string) (float64, error) {
	if b == nil {
		return 0, fmt.Errorf("bucket not found: %s", spendBucket)
	}
	data := b.Get([]byte(session))
	if data == nil {
		return 0, nil
	}
	var total float64
	if err := json.Unmarshal(data, &total); err != nil {
		return 0, fmt.Errorf("unmarshal total for %s: %w", session, err)
	}
	return total, nil
}
