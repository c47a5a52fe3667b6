package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionBucket = []byte("session")
	readsBucket   = []byte("reads")
	metaBucket    = []byte("metadata")

	currentSessionKey = []byte("current")
)

// ErrNoSession is returned by GetSession when nobody is logged in.
var ErrNoSession = errors.New("no session")

// Meta keys used by the client.
const (
	MetaLastTab     = "last_tab"
	MetaLastRefresh = "last_refresh"
)

type Store struct {
	db *bolt.DB
}

func NewStore(dbPath string) (*Store, error) {
	return NewStoreWithTimeout(dbPath, 1*time.Second)
}

// NewStoreWithTimeout opens the database, waiting at most timeout for the file lock.
func NewStoreWithTimeout(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{sessionBucket, readsBucket, metaBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("nil session")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return tx.Bucket(sessionBucket).Put(currentSessionKey, data)
	})
}

func (s *Store) GetSession() (*Session, error) {
	var session Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionBucket).Get(currentSessionKey)
		if data == nil {
			return ErrNoSession
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) ClearSession() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(currentSessionKey)
	})
}

func (s *Store) MarkRead(itemID string) error {
	if itemID == "" {
		return fmt.Errorf("empty item id")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ReadMark{ItemID: itemID, ReadAt: time.Now()})
		if err != nil {
			return err
		}
		return tx.Bucket(readsBucket).Put([]byte(itemID), data)
	})
}

func (s *Store) IsRead(itemID string) bool {
	var found bool
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(readsBucket).Get([]byte(itemID)) != nil
		return nil
	})
	return found
}

// ReadIDs returns the set of item ids that have been opened.
func (s *Store) ReadIDs() (map[string]bool, error) {
	ids := make(map[string]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(readsBucket).ForEach(func(k, _ []byte) error {
			ids[string(k)] = true
			return nil
		})
	})
	return ids, err
}

func (s *Store) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(key), []byte(value))
	})
}

// GetMeta returns the stored value and whether the key exists.
func (s *Store) GetMeta(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(metaBucket).Get([]byte(key)); data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	return value, found, err
}

// ClearCache drops read marks and client metadata. The session is kept.
func (s *Store) ClearCache() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{readsBucket, metaBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("clearing %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating %s: %w", name, err)
			}
		}
		return nil
	})
}
