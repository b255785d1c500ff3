package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Memory keeps encoded records in process memory. It behaves like Badger
// without touching disk and backs tests and ephemeral terminals.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, collection string, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	records, ok := m.data[collection]
	if !ok {
		records = make(map[string][]byte)
		m.data[collection] = records
	}
	records[key] = payload
	return nil
}

func (m *Memory) Get(ctx context.Context, collection string, key string, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	payload, ok := m.data[collection][key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(payload, dest)
}

func (m *Memory) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.data[collection]))
	for key, payload := range m.data[collection] {
		records = append(records, Record{Key: key, Value: slices.Clone(payload)})
	}
	slices.SortFunc(records, func(a, b Record) int {
		return cmpString(a.Key, b.Key)
	})
	return records, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
