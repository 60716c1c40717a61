// Package history persists encrypted broadcasts and serves per-recipient
// history on login (spec §3 "History store", §4.7), using the same
// clients_/messages_ shape as the original implementation's Diesel schema.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/samyycX/orwell/internal/orwellerr"
	"github.com/samyycX/orwell/internal/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients_ (
	id_            TEXT PRIMARY KEY,
	name_          TEXT NOT NULL UNIQUE,
	kyber_pk_      BLOB NOT NULL,
	dilithium_pk_  BLOB NOT NULL,
	online_time_   INTEGER NOT NULL,
	color_         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages_ (
	unique_id_   TEXT PRIMARY KEY,
	msg_id_      TEXT NOT NULL,
	msg_type_    INTEGER NOT NULL,
	sender_id_   TEXT NOT NULL,
	receiver_id_ TEXT NOT NULL,
	data_        BLOB NOT NULL,
	timestamp_   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages_(receiver_id_, timestamp_);
`

// Store wraps a sqlite-backed database/sql handle holding identity snapshots
// and per-recipient message rows.
type Store struct {
	db *sql.DB
}

// Row is one persisted message, keyed per-recipient so each roster member
// gets their own sealed key row (spec §4.4 "for each recipient r... seal_key
// r", §4.7 "History on login").
type Row struct {
	UniqueID   string
	MsgID      string
	MsgType    wire.InnerMsgType
	SenderID   string
	ReceiverID string
	Data       []byte
	Timestamp  int64
}

// Open creates or opens a sqlite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Storage, "history.Open", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: serialize writers, spec §5 concurrency model mirrors single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, orwellerr.New(orwellerr.Storage, "history.Open", fmt.Errorf("apply schema: %w", err))
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertIdentity persists or refreshes an identity's directory row.
func (s *Store) UpsertIdentity(id, name string, kyberPK, dilithiumPK []byte, colour uint32) error {
	_, err := s.db.Exec(
		`INSERT INTO clients_ (id_, name_, kyber_pk_, dilithium_pk_, online_time_, color_)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id_) DO UPDATE SET online_time_=excluded.online_time_, color_=excluded.color_`,
		id, name, kyberPK, dilithiumPK, time.Now().UnixMilli(), int64(colour),
	)
	if err != nil {
		return orwellerr.New(orwellerr.Storage, "history.UpsertIdentity", err)
	}
	return nil
}

// InsertMessage persists one recipient's row of a broadcast (spec §4.7:
// "server persists one row with sender=Alice.id, two key entries").
func (s *Store) InsertMessage(r Row) error {
	_, err := s.db.Exec(
		`INSERT INTO messages_ (unique_id_, msg_id_, msg_type_, sender_id_, receiver_id_, data_, timestamp_)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UniqueID, r.MsgID, int32(r.MsgType), r.SenderID, r.ReceiverID, r.Data, r.Timestamp,
	)
	if err != nil {
		return orwellerr.New(orwellerr.Storage, "history.InsertMessage", err)
	}
	return nil
}

// FetchHistory returns the most recent limit rows for which receiverID was
// a recipient, newest first, for replay to a newly-bound connection (spec
// §4.7, "the last N (≈50) ciphertext rows ordered by descending timestamp").
func (s *Store) FetchHistory(receiverID string, limit int) ([]Row, error) {
	rows, err := s.db.Query(
		`SELECT unique_id_, msg_id_, msg_type_, sender_id_, receiver_id_, data_, timestamp_
		 FROM messages_ WHERE receiver_id_ = ? ORDER BY timestamp_ DESC LIMIT ?`,
		receiverID, limit,
	)
	if err != nil {
		return nil, orwellerr.New(orwellerr.Storage, "history.FetchHistory", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var msgType int32
		if err := rows.Scan(&r.UniqueID, &r.MsgID, &msgType, &r.SenderID, &r.ReceiverID, &r.Data, &r.Timestamp); err != nil {
			return nil, orwellerr.New(orwellerr.Storage, "history.FetchHistory", err)
		}
		r.MsgType = wire.InnerMsgType(msgType)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, orwellerr.New(orwellerr.Storage, "history.FetchHistory", err)
	}

	return out, nil
}
