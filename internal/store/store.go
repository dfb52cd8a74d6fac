// Package store keeps central system facts and policy lists in badger.
// An empty path opens an in-memory database; nothing outlives the process
// unless a path is given.
package store

import (
	"errors"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

type Store struct {
	db *badger.DB
}

func Open(path string, logger log.FieldLogger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(logger)
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

func (s *Store) View(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

func (s *Store) KeyExists(key string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *Store) SetKeyValue(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

func (s *Store) GetKeyValue(key string) (string, error) {
	value := ""
	err := s.db.View(func(txn *badger.Txn) error {
		val, err := GetKeyValueTX(txn, key)
		if err != nil {
			return err
		}
		value = val
		return nil
	})
	return value, err
}

func (s *Store) GetIntKey(key string) (int, error) {
	value := 0
	err := s.db.View(func(txn *badger.Txn) error {
		i, err := GetIntKeyTX(txn, key)
		value = i
		return err
	})
	return value, err
}

func (s *Store) MustGetIntKey(key string) int {
	val, _ := s.GetIntKey(key)
	return val
}

func (s *Store) IncrementKey(key string, val int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return IncrementKeyTX(txn, key, val)
	})
}

// Each visits every key in order. Values longer than maxLen are cut.
func (s *Store) Each(maxLen int, fn func(key, value string)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if maxLen > 0 && len(v) > maxLen {
				v = append(v[:maxLen:maxLen], "..."...)
			}
			fn(string(item.Key()), string(v))
		}
		return nil
	})
}

func GetKeyValueTX(txn *badger.Txn, key string) (string, error) {
	val, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	v, err := val.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func GetIntKeyTX(txn *badger.Txn, key string) (int, error) {
	v, err := GetKeyValueTX(txn, key)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.Atoi(v)
}

func IncrementKeyTX(txn *badger.Txn, key string, val int) error {
	if val == 0 {
		val = 1
	}
	i, err := GetIntKeyTX(txn, key)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), []byte(strconv.Itoa(i+val)))
}

func SetIfNotExistsTX(txn *badger.Txn, key, value string) error {
	_, err := txn.Get([]byte(key))
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set([]byte(key), []byte(value))
}

func listKey(list, member string) []byte {
	return []byte(list + ":" + member)
}

// AddToList records member in the named list.
func (s *Store) AddToList(list string, members ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, member := range members {
			if err := txn.Set(listKey(list, member), []byte("1")); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) InList(list, member string) (bool, error) {
	return s.KeyExists(string(listKey(list, member)))
}
