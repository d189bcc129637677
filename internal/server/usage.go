package server

import (
	"encoding/binary"

	"github.com/cbeuw/tangle/internal/common"
	bolt "go.etcd.io/bbolt"
)

var u32 = binary.BigEndian.Uint32
var u64 = binary.BigEndian.Uint64

func i64ToB(value int64) []byte {
	oct := make([]byte, 8)
	binary.BigEndian.PutUint64(oct, uint64(value))
	return oct
}
func i32ToB(value int32) []byte {
	nib := make([]byte, 4)
	binary.BigEndian.PutUint32(nib, uint32(value))
	return nib
}

var usageBucket = []byte("sessions")

// SessionUsage is the record kept of a session once it has ended. Times are unix seconds.
type SessionUsage struct {
	ID          uint32
	RemoteAddr  string
	Rx          int64
	Tx          int64
	Start       int64
	End         int64
	TerminalMsg string
}

// UsageStore keeps the usage of ended sessions in a bolt database. Each record is a bucket
// keyed by a sequence number, nested in usageBucket.
type UsageStore struct {
	db    *bolt.DB
	world common.WorldState
}

func MakeUsageStore(dbPath string, worldState common.WorldState) (*UsageStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usageBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &UsageStore{db: db, world: worldState}, nil
}

func (store *UsageStore) Record(usage SessionUsage) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(usageBucket)
		seq, err := sessions.NextSequence()
		if err != nil {
			return err
		}
		bucket, err := sessions.CreateBucket(i64ToB(int64(seq)))
		if err != nil {
			return err
		}
		for key, value := range map[string][]byte{
			"ID":          i32ToB(int32(usage.ID)),
			"RemoteAddr":  []byte(usage.RemoteAddr),
			"Rx":          i64ToB(usage.Rx),
			"Tx":          i64ToB(usage.Tx),
			"Start":       i64ToB(usage.Start),
			"End":         i64ToB(usage.End),
			"TerminalMsg": []byte(usage.TerminalMsg),
		} {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUsage returns every record, oldest first. Records that ended before since are left out.
func (store *UsageStore) ListUsage(since int64) (usages []SessionUsage, err error) {
	err = store.db.View(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(usageBucket)
		c := sessions.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			bucket := sessions.Bucket(k)
			if bucket == nil {
				continue
			}
			usage := SessionUsage{
				ID:          u32(bucket.Get([]byte("ID"))),
				RemoteAddr:  string(bucket.Get([]byte("RemoteAddr"))),
				Rx:          int64(u64(bucket.Get([]byte("Rx")))),
				Tx:          int64(u64(bucket.Get([]byte("Tx")))),
				Start:       int64(u64(bucket.Get([]byte("Start")))),
				End:         int64(u64(bucket.Get([]byte("End")))),
				TerminalMsg: string(bucket.Get([]byte("TerminalMsg"))),
			}
			if usage.End < since {
				continue
			}
			usages = append(usages, usage)
		}
		return nil
	})
	if usages == nil {
		usages = []SessionUsage{}
	}
	return
}

// Totals sums the bytes received and sent by every recorded session
func (store *UsageStore) Totals() (rx int64, tx int64, err error) {
	usages, err := store.ListUsage(0)
	if err != nil {
		return 0, 0, err
	}
	for _, usage := range usages {
		rx += usage.Rx
		tx += usage.Tx
	}
	return rx, tx, nil
}

// Prune deletes the records of sessions that ended before the given unix time
func (store *UsageStore) Prune(before int64) (pruned int, err error) {
	err = store.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(usageBucket)
		var stale [][]byte
		c := sessions.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			bucket := sessions.Bucket(k)
			if bucket == nil {
				continue
			}
			if int64(u64(bucket.Get([]byte("End")))) < before {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := sessions.DeleteBucket(k); err != nil {
				return err
			}
		}
		pruned = len(stale)
		return nil
	})
	return
}

// PruneOlderThan deletes the records of sessions that ended more than age seconds ago
func (store *UsageStore) PruneOlderThan(age int64) (int, error) {
	return store.Prune(store.world.Now().Unix() - age)
}

func (store *UsageStore) Close() error {
	return store.db.Close()
}
