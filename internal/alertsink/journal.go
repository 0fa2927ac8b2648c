package alertsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

const journalPrefix = "pending:"

// JournalEntry is an alert that failed delivery at least once.
type JournalEntry struct {
	Alert       surveillance.Alert `json:"alert"`
	LastError   string             `json:"last_error"`
	Attempts    int                `json:"attempts"`
	JournaledAt time.Time          `json:"journaled_at"`
}

// Journal is a disk-backed list of undelivered alerts using BadgerDB.
type Journal struct {
	db *badger.DB
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Journal{db: db}, nil
}

// key format: pending:detectedAt:alertID, so iteration is detection order
func journalKey(a surveillance.Alert) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", journalPrefix, a.DetectedAt.UnixNano(), a.ID))
}

// Append records alert with the delivery error. Appending an alert already in
// the journal bumps its attempt count.
func (j *Journal) Append(alert surveillance.Alert, reason string) error {
	key := journalKey(alert)
	return j.db.Update(func(txn *badger.Txn) error {
		entry := JournalEntry{Alert: alert, JournaledAt: time.Now()}
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &entry) }); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		entry.Attempts++
		entry.LastError = reason
		val, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

// Pending returns journaled entries in detection order.
func (j *Journal) Pending(ctx context.Context) ([]JournalEntry, error) {
	entries := make([]JournalEntry, 0)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e JournalEntry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Ack removes a delivered alert. Unknown ids are not an error.
func (j *Journal) Ack(id uuid.UUID) error {
	suffix := ":" + id.String()
	return j.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if strings.HasSuffix(string(k), suffix) {
				return txn.Delete(k)
			}
		}
		return nil
	})
}

// Replay delivers every pending entry to sink, acking successes. Failed
// entries stay journaled with their attempt count raised.
func (j *Journal) Replay(ctx context.Context, sink Sink) (int, error) {
	entries, err := j.Pending(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := sink.Deliver(ctx, e.Alert); err != nil {
			errs = append(errs, fmt.Errorf("alert %s: %w", e.Alert.ID, err))
			if aerr := j.Append(e.Alert, err.Error()); aerr != nil {
				errs = append(errs, aerr)
			}
			continue
		}
		if err := j.Ack(e.Alert.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Close closes the underlying BadgerDB.
func (j *Journal) Close() error {
	return j.db.Close()
}
