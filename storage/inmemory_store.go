package storage

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore keeps the whole key space as one JSON document. Reads
// and writes go through gjson/sjson so values keep their JSON types on
// the way back out to agents.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte(`{}`),
	}
}

func (i *InmemoryStore) Close() error {
	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key string, value interface{}) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.SetBytes(i.values, key, value)
	return err
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, key)
	if !result.Exists() {
		return nil, nil
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key string) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.DeleteBytes(i.values, key)
	return err
}

func (i *InmemoryStore) Keys(ctx context.Context) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	keys := []string{}
	gjson.ParseBytes(i.values).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})

	return keys, nil
}

func (i *InmemoryStore) Restore(values []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(values) == 0 {
		values = []byte(`{}`)
	}

	i.values = values
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte(`{}`), nil
	}

	return i.values, nil
}

var _ Store = (*InmemoryStore)(nil)
