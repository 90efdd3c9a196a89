package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Sink = (*BadgerSink)(nil)

var (
	badgerKeyPrefix = []byte("audit/")
	badgerSeqKey    = []byte("audit-seq")
)

// BadgerSink appends events to a local Badger database under
// monotonically increasing keys, so iteration order is write order.
type BadgerSink struct {
	db  *badger.DB
	seq *badger.Sequence
	log logrus.FieldLogger
}

func OpenBadgerSink(dir string, log logrus.FieldLogger) (*BadgerSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("audit badger dir is required")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open audit badger")
	}
	seq, err := db.GetSequence(badgerSeqKey, 64)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "audit sequence")
	}
	return &BadgerSink{db: db, seq: seq, log: log.WithField("component", "audit-badger")}, nil
}

func (s *BadgerSink) RecordEvent(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.seq.Next()
	if err != nil {
		return errors.Wrap(err, "next audit sequence")
	}
	val, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode audit event")
	}
	key := make([]byte, len(badgerKeyPrefix)+8)
	copy(key, badgerKeyPrefix)
	binary.BigEndian.PutUint64(key[len(badgerKeyPrefix):], n)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// List returns every recorded event in write order.
func (s *BadgerSink) List(ctx context.Context) ([]Event, error) {
	var out []Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var evt Event
				if err := json.Unmarshal(val, &evt); err != nil {
					return err
				}
				out = append(out, evt)
				return nil
			})
			if err != nil {
				return errors.Wrap(err, "decode audit event")
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerSink) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.WithError(err).Warn("release audit sequence")
	}
	return s.db.Close()
}
