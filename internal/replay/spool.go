// Package replay buffers recent agent output so a reconnecting client
// can catch up on frames it missed while the phone was offline.
package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Frame is one unit of agent output.
type Frame struct {
	Seq    uint64 `json:"seq"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
	Ts     int64  `json:"ts"` // unix milliseconds
}

// Spool is a disk-backed frame buffer. Frames are grouped under an
// opaque stream key (the device ID for bound devices, the session ID
// otherwise, so replay survives reconnects with fresh session IDs).
// Frames expire after the configured TTL; the spool never grows
// unbounded.
//
// Keys: "out:<stream key>:<seq>" with the sequence zero-padded to 16
// digits so lexicographic key order matches numeric frame order.
type Spool struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (and if needed creates) the spool directory.
func Open(dir string, ttl time.Duration) (*Spool, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open replay spool: %w", err)
	}
	return &Spool{db: db, ttl: ttl}, nil
}

// Close releases the spool.
func (s *Spool) Close() error {
	return s.db.Close()
}

func frameKey(key string, seq uint64) []byte {
	return []byte(fmt.Sprintf("out:%s:%016d", key, seq))
}

func streamPrefix(key string) []byte {
	return []byte("out:" + key + ":")
}

// Append stores one frame under the stream's key range.
func (s *Spool) Append(key string, frame Frame) error {
	buf, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(frameKey(key, frame.Seq), buf).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
}

// After returns all buffered frames with Seq > afterSeq, in order.
// Frames that already expired are simply absent; the caller gets
// whatever the TTL window still holds.
func (s *Spool) After(key string, afterSeq uint64) ([]Frame, error) {
	prefix := streamPrefix(key)
	var frames []Frame

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		// Seek directly past afterSeq instead of scanning from the
		// start of the stream's range.
		for it.Seek(frameKey(key, afterSeq+1)); it.ValidForPrefix(prefix); it.Next() {
			var f Frame
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				continue
			}
			frames = append(frames, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// LastSeq returns the highest buffered sequence for the stream, or 0
// when nothing is buffered. Used to continue numbering after a server
// restart.
func (s *Spool) LastSeq(key string) (uint64, error) {
	prefix := streamPrefix(key)
	var last uint64

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// In reverse mode, seek to the end of the stream's key range.
		seekKey := append(append([]byte{}, prefix...), 0xff)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var f Frame
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		}); err != nil {
			return err
		}
		last = f.Seq
		return nil
	})
	return last, err
}

// Drop removes all buffered frames for a stream.
func (s *Spool) Drop(key string) error {
	return s.db.DropPrefix(streamPrefix(key))
}
