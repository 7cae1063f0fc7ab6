package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

// DefaultKVKey is where the serialized service account lives in the KV store.
const DefaultKVKey = "service-account"

var ErrNoCredential = errors.New("no service account configured")

// KeyValueReader is the read side of the KV store holding the serialized key.
type KeyValueReader interface {
	GetString(ctx context.Context, key string) (string, error)
}

// LoadOptions lists the credential sources, tried in field order.
type LoadOptions struct {
	JSON  string
	File  string
	KV    KeyValueReader
	KVKey string
}

// Load resolves the service account from the first configured source.
func Load(ctx context.Context, opts LoadOptions) (relay.ServiceAccount, error) {
	switch {
	case opts.JSON != "":
		return Parse([]byte(opts.JSON))
	case opts.File != "":
		raw, err := os.ReadFile(opts.File)
		if err != nil {
			return relay.ServiceAccount{}, fmt.Errorf("failed to read service account file: %w", err)
		}
		return Parse(raw)
	case opts.KV != nil:
		key := opts.KVKey
		if key == "" {
			key = DefaultKVKey
		}
		raw, err := opts.KV.GetString(ctx, key)
		if err != nil {
			return relay.ServiceAccount{}, fmt.Errorf("failed to read service account from kv key %q: %w", key, err)
		}
		if raw == "" {
			return relay.ServiceAccount{}, ErrNoCredential
		}
		return Parse([]byte(raw))
	}
	return relay.ServiceAccount{}, ErrNoCredential
}

// Parse decodes and validates a service-account JSON document.
func Parse(raw []byte) (relay.ServiceAccount, error) {
	var sa relay.ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return relay.ServiceAccount{}, fmt.Errorf("failed to decode service account: %w", err)
	}
	switch {
	case sa.ClientEmail == "":
		return relay.ServiceAccount{}, errors.New("service account is missing client_email")
	case sa.PrivateKey == "":
		return relay.ServiceAccount{}, errors.New("service account is missing private_key")
	case sa.ProjectID == "":
		return relay.ServiceAccount{}, errors.New("service account is missing project_id")
	}
	return sa, nil
}
