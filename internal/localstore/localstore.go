// Package localstore is the terminal's durable key-value storage. Values are
// JSON documents grouped in named collections.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	CollectionProducts     = "products"
	CollectionCategories   = "categories"
	CollectionInventory    = "inventory"
	CollectionSales        = "sales"
	CollectionCarts        = "carts"
	CollectionPendingSales = "pendingSales"
	CollectionClients      = "clients"
	CollectionSession      = "session"
)

var ErrNotFound = errors.New("local record not found")

type Record struct {
	Key   string
	Value []byte
}

type Store interface {
	Put(ctx context.Context, collection string, key string, value any) error
	Get(ctx context.Context, collection string, key string, dest any) error
	// GetAll returns every record of collection ordered by key.
	GetAll(ctx context.Context, collection string) ([]Record, error)
	// Delete removes a record. Deleting a missing key is not an error.
	Delete(ctx context.Context, collection string, key string) error
	Close() error
}

// All decodes every record of collection into T.
func All[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	records, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, record := range records {
		var value T
		if err := json.Unmarshal(record.Value, &value); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, record.Key, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func recordKey(collection string, key string) []byte {
	return []byte(collection + "/" + key)
}

func collectionPrefix(collection string) []byte {
	return []byte(collection + "/")
}
