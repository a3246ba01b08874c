package persistence

import (
	"encoding/json"
	"strconv"
	"time"

	"futures-grid-engine/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// badgerRepository is the BadgerDB implementation of SnapshotRepository.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (SnapshotRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger 自身的日志很吵,关掉;错误仍从 DB 操作返回。
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "open %s: %v", dbPath, err)
	}
	return &badgerRepository{db: db}, nil
}

func snapshotKey(instrument string) []byte {
	return []byte("snapshot/" + instrument)
}

// snapshotRecord is the wire form of a snapshot. JSON object keys are
// strings, so price levels are formatted with strconv round-trip
// precision rather than relying on float map keys.
type snapshotRecord struct {
	Instrument string           `json:"instrument"`
	SessionID  string           `json:"session_id,omitempty"`
	Lines      map[string]int64 `json:"lines"`
	SavedAt    time.Time        `json:"saved_at"`
}

func toRecord(snap models.Snapshot) snapshotRecord {
	rec := snapshotRecord{
		Instrument: snap.Instrument,
		SessionID:  snap.SessionID,
		Lines:      make(map[string]int64, len(snap.Lines)),
		SavedAt:    snap.SavedAt,
	}
	for price, line := range snap.Lines {
		rec.Lines[strconv.FormatFloat(price, 'f', -1, 64)] = line.RemainingVolume
	}
	return rec
}

func (r snapshotRecord) toSnapshot() (models.Snapshot, error) {
	snap := models.Snapshot{
		Instrument: r.Instrument,
		SessionID:  r.SessionID,
		Lines:      make(map[float64]models.SnapshotLine, len(r.Lines)),
		SavedAt:    r.SavedAt,
	}
	for key, remaining := range r.Lines {
		price, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return snap, errors.Wrapf(ErrPersistence, "bad price key %q", key)
		}
		snap.Lines[price] = models.SnapshotLine{RemainingVolume: remaining}
	}
	return snap, nil
}

// SaveSnapshot atomically replaces the stored snapshot of the
// snapshot's instrument.
func (r *badgerRepository) SaveSnapshot(snap models.Snapshot) error {
	data, err := json.Marshal(toRecord(snap))
	if err != nil {
		return errors.Wrapf(ErrPersistence, "marshal snapshot: %v", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.Instrument), data)
	})
	if err != nil {
		return errors.Wrapf(ErrPersistence, "write snapshot for %s: %v", snap.Instrument, err)
	}
	return nil
}

// LoadSnapshot loads the stored snapshot for instrument, or (nil, nil)
// when the instrument was never saved.
func (r *badgerRepository) LoadSnapshot(instrument string) (*models.Snapshot, error) {
	var rec snapshotRecord

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(instrument))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "read snapshot for %s: %v", instrument, err)
	}

	snap, err := rec.toSnapshot()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Close gracefully closes the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
