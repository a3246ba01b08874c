package journal

import (
	"database/sql"

	"futures-grid-engine/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // sqlite driver, cgo-free
)

// Journal is the append-only audit trail of a trading session: every
// submitted order, every order event and every fill lands here, keyed by
// session id. The journal is for post-session analysis only; the engine
// never reads it back to make decisions, so journal failures degrade to
// logged warnings.
type Journal struct {
	db        *sql.DB
	sessionID string
}

// Open opens (or creates) the journal database at path and starts a new
// session with a fresh uuid.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal database")
	}
	if err = db.Ping(); err != nil {
		return nil, errors.Wrap(err, "connect journal database")
	}
	if err = createTables(db); err != nil {
		return nil, errors.Wrap(err, "create journal tables")
	}
	return &Journal{db: db, sessionID: uuid.NewString()}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			session_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			instrument TEXT NOT NULL,
			direction TEXT NOT NULL,
			offset TEXT NOT NULL,
			price REAL NOT NULL,
			volume INTEGER NOT NULL,
			submitted_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, order_id)
		);`,
		`CREATE TABLE IF NOT EXISTS order_events (
			session_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			traded_volume INTEGER NOT NULL,
			event_time INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fills (
			session_id TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			price REAL NOT NULL,
			volume INTEGER NOT NULL,
			event_time INTEGER NOT NULL,
			PRIMARY KEY (session_id, trade_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SessionID returns the uuid identifying this journal session.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// RecordSubmission journals an accepted order submission.
func (j *Journal) RecordSubmission(id models.OrderID, req models.OrderRequest, submittedAt int64) error {
	_, err := j.db.Exec(
		`INSERT OR REPLACE INTO submissions (session_id, order_id, instrument, direction, offset, price, volume, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.sessionID, int64(id), req.Instrument, req.Direction.String(), req.Offset.String(),
		req.Price, req.Volume, submittedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "journal submission %d", id)
	}
	return nil
}

// RecordOrderEvent journals one order feed event.
func (j *Journal) RecordOrderEvent(ev models.OrderEvent) error {
	_, err := j.db.Exec(
		`INSERT INTO order_events (session_id, order_id, status, traded_volume, event_time)
		 VALUES (?, ?, ?, ?, ?)`,
		j.sessionID, int64(ev.OrderID), ev.Status.String(), ev.TradedVolume, ev.Timestamp.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "journal order event %d", ev.OrderID)
	}
	return nil
}

// RecordFill journals one trade fill. Re-delivered fills collide on the
// (session, trade id) primary key and are ignored.
func (j *Journal) RecordFill(ev models.TradeEvent) error {
	_, err := j.db.Exec(
		`INSERT OR IGNORE INTO fills (session_id, trade_id, order_id, price, volume, event_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.sessionID, ev.TradeID, int64(ev.OrderID), ev.Price, ev.Volume, ev.Timestamp.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "journal fill %s", ev.TradeID)
	}
	return nil
}

// SessionStats aggregates the journal rows of the current session.
type SessionStats struct {
	Submissions int64
	OrderEvents int64
	Fills       int64
	FilledVol   int64
}

// Stats summarizes the current session for the end-of-run report.
func (j *Journal) Stats() (SessionStats, error) {
	var s SessionStats
	row := j.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM submissions WHERE session_id = ?),
			(SELECT COUNT(*) FROM order_events WHERE session_id = ?),
			(SELECT COUNT(*) FROM fills WHERE session_id = ?),
			(SELECT COALESCE(SUM(volume), 0) FROM fills WHERE session_id = ?)`,
		j.sessionID, j.sessionID, j.sessionID, j.sessionID,
	)
	if err := row.Scan(&s.Submissions, &s.OrderEvents, &s.Fills, &s.FilledVol); err != nil {
		return s, errors.Wrap(err, "journal stats")
	}
	return s, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
