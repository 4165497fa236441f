package store

import (
	"encoding/binary"
	"os"
	"sync"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/vmihailenco/msgpack/v4"
	"gitlab.com/plurl/plurl"
)

var keyPrefix = []byte("evt:")

// envelope is the on-disk shape of one event: the typed payload is
// msgpack'd separately so replay can rebuild the right shape from the
// type tag.
type envelope struct {
	Timestamp string `msgpack:"timestamp"`
	Type      string `msgpack:"type"`
	Payload   []byte `msgpack:"payload"`
}

// EventJournal persists one session's events in arrival order so a
// crashed or interrupted session still leaves a durable record. Safe
// for concurrent appenders; each claims a unique sequence key.
type EventJournal struct {
	mu       sync.Mutex
	db       *badger.DB
	filepath string
	seq      uint64
}

// NewEventJournal at the given directory.
func NewEventJournal(filepath string) *EventJournal {
	return &EventJournal{filepath: filepath}
}

// Init opens the journal store, resuming the sequence counter when the
// directory already holds events.
func (j *EventJournal) Init() error {
	if err := os.MkdirAll(j.filepath, 0755); err != nil {
		return err
	}
	db, err := badger.Open(badger.DefaultOptions(j.filepath))
	if err != nil {
		return err
	}
	j.db = db

	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			j.seq++
		}
		return nil
	})
}

// MakeKey for a journal sequence number. Big-endian so badger's key
// order is arrival order.
func MakeKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// Append one event to the journal.
func (j *EventJournal) Append(evt *plurl.Event) error {
	payload, err := msgpack.Marshal(evt.Data)
	if err != nil {
		return err
	}
	buf, err := msgpack.Marshal(&envelope{
		Timestamp: evt.Timestamp,
		Type:      evt.Type,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	j.mu.Lock()
	key := MakeKey(j.seq)
	j.seq++
	j.mu.Unlock()
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Replay calls fn for every journaled event in arrival order.
func (j *EventJournal) Replay(fn func(evt *plurl.Event) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			env := &envelope{}
			if err := msgpack.Unmarshal(val, env); err != nil {
				return err
			}
			evt := &plurl.Event{
				Timestamp: env.Timestamp,
				Type:      env.Type,
				Data:      decodePayload(env.Type, env.Payload),
			}
			if err := fn(evt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close the journal store.
func (j *EventJournal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// decodePayload rebuilds the typed event shape from its type tag,
// falling back to the open map for anything unknown or undecodable.
func decodePayload(eventType string, payload []byte) plurl.EventData {
	var data plurl.EventData
	switch eventType {
	case plurl.EventAPI:
		data = &plurl.APIEvent{}
	case plurl.EventBrowser:
		data = &plurl.BrowserEvent{}
	case plurl.EventPhase:
		data = &plurl.PhaseEvent{}
	case plurl.EventBatch:
		data = &plurl.BatchEvent{}
	case plurl.EventBatchComplete:
		data = &plurl.BatchSummaryEvent{}
	case plurl.EventRetry:
		data = &plurl.RetryEvent{}
	case plurl.EventSummary:
		data = &plurl.SummaryEvent{}
	case plurl.EventError, plurl.EventSuccess, plurl.EventWarning:
		data = &plurl.MessageEvent{}
	default:
		generic := plurl.GenericEvent{}
		if err := msgpack.Unmarshal(payload, &generic); err != nil {
			return plurl.GenericEvent{"raw": string(payload)}
		}
		return generic
	}
	if err := msgpack.Unmarshal(payload, data); err != nil {
		return plurl.GenericEvent{"raw": string(payload)}
	}
	return data
}
