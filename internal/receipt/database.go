package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName      = "receipts"
	indexBucketName = "receipts_by_time"
)

// ErrNotFound is returned when a receipt does not exist.
var ErrNotFound = errors.New("receipt not found")

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt inserts or replaces a receipt
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, newest first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	Close() error
}

// BoltDB implements the DB interface using BoltDB. Receipts are stored as
// JSON keyed by ID, with a second bucket ordering IDs by creation time.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, indexBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// indexKey sorts lexically by creation time. The ID suffix keeps keys unique.
func indexKey(r *Receipt) []byte {
	return []byte(r.CreatedAt.UTC().Format("20060102T150405.000000000") + "/" + r.ID)
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		index := tx.Bucket([]byte(indexBucketName))

		if old := bucket.Get([]byte(receipt.ID)); old != nil {
			var prev Receipt
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := index.Delete(indexKey(&prev)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put([]byte(receipt.ID), data); err != nil {
			return err
		}
		return index.Put(indexKey(receipt), []byte(receipt.ID))
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts walks the time index backwards so the newest receipt is first.
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		c := tx.Bucket([]byte(indexBucketName)).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			data := bucket.Get(id)
			if data == nil {
				continue
			}
			var receipt Receipt
			if err := json.Unmarshal(data, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its index entry. Deleting a missing
// receipt is not an error.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err == nil {
			if err := tx.Bucket([]byte(indexBucketName)).Delete(indexKey(&receipt)); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
