package history

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoicesBucket     = "invoices"
	fingerprintsBucket = "fingerprints"
	extractionsBucket  = "extractions"
)

// DB defines the interface for database operations
type DB interface {
	// InsertRecord saves a record unless one with the same fingerprint exists,
	// in which case the existing record is returned
	InsertRecord(record *Record) (*Record, bool, error)

	// GetRecord retrieves a record by ID
	GetRecord(id string) (*Record, error)

	// ListRecords returns all records
	ListRecords() ([]*Record, error)

	// PutExtraction caches an extraction by document hash
	PutExtraction(extraction *Extraction) error

	// GetExtraction retrieves a cached extraction by document hash
	GetExtraction(hash string) (*Extraction, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
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
		for _, name := range []string{invoicesBucket, fingerprintsBucket, extractionsBucket} {
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

// InsertRecord saves a record, deduplicating on its fingerprint
func (b *BoltDB) InsertRecord(record *Record) (*Record, bool, error) {
	var existing *Record
	err := b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket([]byte(invoicesBucket))
		fingerprints := tx.Bucket([]byte(fingerprintsBucket))

		if record.Fingerprint != "" {
			if id := fingerprints.Get([]byte(record.Fingerprint)); id != nil {
				if data := invoices.Get(id); data != nil {
					return json.Unmarshal(data, &existing)
				}
			}
		}

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		if err := invoices.Put([]byte(record.ID), data); err != nil {
			return err
		}
		if record.Fingerprint == "" {
			return nil
		}
		return fingerprints.Put([]byte(record.Fingerprint), []byte(record.ID))
	})
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	return record, true, nil
}

// GetRecord retrieves a record by ID
func (b *BoltDB) GetRecord(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoicesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all records in key order
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoicesBucket)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PutExtraction caches an extraction by document hash
func (b *BoltDB) PutExtraction(extraction *Extraction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(extraction)
		if err != nil {
			return fmt.Errorf("marshaling extraction: %w", err)
		}
		return tx.Bucket([]byte(extractionsBucket)).Put([]byte(extraction.Hash), data)
	})
}

// GetExtraction retrieves a cached extraction by document hash
func (b *BoltDB) GetExtraction(hash string) (*Extraction, error) {
	var extraction *Extraction
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(extractionsBucket)).Get([]byte(hash))
		if data == nil {
			return fmt.Errorf("%w: no extraction for %s", ErrNotFound, hash)
		}
		return json.Unmarshal(data, &extraction)
	})
	if err != nil {
		return nil, err
	}
	return extraction, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
