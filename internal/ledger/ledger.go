// Package ledger persists open order records in a bbolt file so they can be
// restored after a restart.
package ledger

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/rickgao/tradelink/internal/model"
	"github.com/rickgao/tradelink/internal/order"
)

const ordersBucket = "orders"

// Ledger is an order.Store backed by bbolt. Records are keyed by
// transaction id.
type Ledger struct {
	db *bolt.DB
}

// Open opens or creates the ledger file at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir ledger path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ordersBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the file.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Save writes rec, replacing any earlier copy.
func (l *Ledger) Save(rec order.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", rec.TransactionID, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ordersBucket)).Put(key(rec.TransactionID), data)
	})
}

// Delete removes rec. Deleting a missing record is not an error.
func (l *Ledger) Delete(rec order.Record) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ordersBucket)).Delete(key(rec.TransactionID))
	})
}

// Load returns every stored record in transaction id order. Undecodable
// entries are skipped.
func (l *Ledger) Load() ([]order.Record, error) {
	var out []order.Record
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(ordersBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec order.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Replace atomically swaps the stored set for records. Used after a restore
// re-keys the orders under fresh transaction ids.
func (l *Ledger) Replace(records []order.Record) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(ordersBucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket([]byte(ordersBucket))
		if err != nil {
			return err
		}
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode order %d: %w", rec.TransactionID, err)
			}
			if err := b.Put(key(rec.TransactionID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of stored records.
func (l *Ledger) Len() int {
	n := 0
	l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(ordersBucket)).Stats().KeyN
		return nil
	})
	return n
}

func key(tx model.TransactionID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(tx))
	return b
}
