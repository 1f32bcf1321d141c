package events

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"dusd/core/types"
	"dusd/storage"
)

var (
	journalRecordPrefix = []byte("events/record/")
	journalHeadKey      = []byte("events/head")
)

// Attribute is a single event attribute. Records store attributes as a
// key-sorted list so encoding and hashing stay deterministic.
type Attribute struct {
	Key   string
	Value string
}

// Record is a journaled event: a dense sequence number, the event payload,
// the append timestamp, and a content hash committing to all of it.
type Record struct {
	Sequence   uint64      `json:"sequence"`
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
	Timestamp  uint64      `json:"timestamp"`
	Hash       [32]byte    `json:"hash"`
}

// AttributesMap returns the attributes as a map for wire payloads.
func (r *Record) AttributesMap() map[string]string {
	out := make(map[string]string, len(r.Attributes))
	for _, attr := range r.Attributes {
		out[attr.Key] = attr.Value
	}
	return out
}

type hashPayload struct {
	Sequence   uint64
	Type       string
	Attributes []Attribute
	Timestamp  uint64
}

func recordHash(record *Record) ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(&hashPayload{
		Sequence:   record.Sequence,
		Type:       record.Type,
		Attributes: record.Attributes,
		Timestamp:  record.Timestamp,
	})
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

// Journal persists committed events under dense sequence numbers. Appends
// happen after an operation's state changes commit, so the journal never
// records effects of a rolled-back operation.
type Journal struct {
	db    storage.Database
	clock func() time.Time

	mu   sync.Mutex
	head uint64
}

// NewJournal opens the journal, recovering the head sequence from storage.
func NewJournal(db storage.Database) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("events: journal requires a database")
	}
	j := &Journal{db: db, clock: time.Now}
	data, err := db.Get(journalHeadKey)
	if err != nil && err != storage.ErrNotFound {
		return nil, fmt.Errorf("events: load journal head: %w", err)
	}
	if len(data) == 8 {
		j.head = binary.BigEndian.Uint64(data)
	}
	return j, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (j *Journal) SetClock(clock func() time.Time) {
	if j == nil || clock == nil {
		return
	}
	j.clock = clock
}

// Head returns the sequence of the most recently appended record; zero means
// the journal is empty.
func (j *Journal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Append journals an event and returns the stored record.
func (j *Journal) Append(ev *types.Event) (*Record, error) {
	if j == nil {
		return nil, fmt.Errorf("events: journal not initialised")
	}
	if ev == nil || ev.Type == "" {
		return nil, fmt.Errorf("events: cannot journal empty event")
	}

	attrs := make([]Attribute, 0, len(ev.Attributes))
	for k, v := range ev.Attributes {
		attrs = append(attrs, Attribute{Key: k, Value: v})
	}
	sort.Slice(attrs, func(i, k int) bool { return attrs[i].Key < attrs[k].Key })

	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock().UTC().Unix()
	if now < 0 {
		now = 0
	}
	record := &Record{
		Sequence:   j.head + 1,
		Type:       ev.Type,
		Attributes: attrs,
		Timestamp:  uint64(now),
	}
	hash, err := recordHash(record)
	if err != nil {
		return nil, fmt.Errorf("events: hash record: %w", err)
	}
	record.Hash = hash

	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return nil, fmt.Errorf("events: encode record: %w", err)
	}
	if err := j.db.Put(recordKey(record.Sequence), encoded); err != nil {
		return nil, fmt.Errorf("events: persist record: %w", err)
	}
	headBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(headBuf, record.Sequence)
	if err := j.db.Put(journalHeadKey, headBuf); err != nil {
		return nil, fmt.Errorf("events: persist head: %w", err)
	}
	j.head = record.Sequence
	return record, nil
}

// Range returns up to limit records with sequence numbers strictly greater
// than after, in sequence order. A non-positive limit means no cap.
func (j *Journal) Range(after uint64, limit int) ([]*Record, error) {
	if j == nil {
		return nil, fmt.Errorf("events: journal not initialised")
	}
	head := j.Head()
	if after >= head {
		return nil, nil
	}
	count := head - after
	if limit > 0 && uint64(limit) < count {
		count = uint64(limit)
	}
	records := make([]*Record, 0, count)
	for seq := after + 1; seq <= head && (limit <= 0 || len(records) < limit); seq++ {
		record, err := j.Get(seq)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Get loads a single record by sequence; nil means the record is absent.
func (j *Journal) Get(sequence uint64) (*Record, error) {
	if j == nil {
		return nil, fmt.Errorf("events: journal not initialised")
	}
	data, err := j.db.Get(recordKey(sequence))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("events: load record %d: %w", sequence, err)
	}
	record := new(Record)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("events: decode record %d: %w", sequence, err)
	}
	return record, nil
}

func recordKey(sequence uint64) []byte {
	buf := make([]byte, len(journalRecordPrefix)+8)
	copy(buf, journalRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(journalRecordPrefix):], sequence)
	return buf
}
