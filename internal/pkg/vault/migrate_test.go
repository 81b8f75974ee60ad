package vault

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecordStore struct {
	mu      sync.Mutex
	records map[uint]map[string]string
	// interfere, when set, rewrites a field right before the swap lands.
	interfere func(id uint, field string) (string, bool)
}

func newMemoryRecordStore(records map[uint]map[string]string) *memoryRecordStore {
	return &memoryRecordStore{records: records}
}

func (s *memoryRecordStore) ListSecretRecords(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for id := uint(1); id <= uint(len(s.records)); id++ {
		fields := make(map[string]string, len(s.records[id]))
		for k, v := range s.records[id] {
			fields[k] = v
		}
		out = append(out, Record{ID: id, Fields: fields})
	}
	return out, nil
}

func (s *memoryRecordStore) CompareAndSwapField(ctx context.Context, id uint, field, prev, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interfere != nil {
		if v, ok := s.interfere(id, field); ok {
			s.records[id][field] = v
		}
	}
	if s.records[id][field] != prev {
		return false, nil
	}
	s.records[id][field] = next
	return true, nil
}

func TestMigrateLegacyPlaintext_IsIdempotent(t *testing.T) {
	v := mustVault(t, testKey("v1", 1))
	already, err := v.Encrypt("whsec_done")
	require.NoError(t, err)

	store := newMemoryRecordStore(map[uint]map[string]string{
		1: {"secret_key_enc": "sk_live_plain", "webhook_secret_enc": already},
		2: {"secret_key_enc": "", "webhook_secret_enc": ""},
		3: {"secret_key_enc": "FLWSECK-plain", "client_secret_enc": "pp-secret"},
	})
	ctx := context.Background()

	first, err := v.MigrateLegacyPlaintext(ctx, store, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Scanned)
	assert.Equal(t, 2, first.Updated)

	for id, fields := range store.records {
		for name, value := range fields {
			if value == "" {
				continue
			}
			assert.True(t, IsEnvelope(value), "record %d field %s still plaintext", id, name)
		}
	}
	got, err := v.Decrypt(store.records[3]["client_secret_enc"])
	require.NoError(t, err)
	assert.Equal(t, "pp-secret", got)
	assert.Equal(t, already, store.records[1]["webhook_secret_enc"])

	second, err := v.MigrateLegacyPlaintext(ctx, store, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Scanned)
	assert.Equal(t, 0, second.Updated)
}

func TestMigrateLegacyPlaintext_SkipsConcurrentWrites(t *testing.T) {
	v := mustVault(t, testKey("v1", 1))
	store := newMemoryRecordStore(map[uint]map[string]string{
		1: {"secret_key_enc": "sk_old"},
	})
	fresh, err := v.Encrypt("sk_new")
	require.NoError(t, err)
	store.interfere = func(id uint, field string) (string, bool) {
		return fresh, true
	}

	res, err := v.MigrateLegacyPlaintext(context.Background(), store, MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, fresh, store.records[1]["secret_key_enc"])
}

func TestMigrateLegacyPlaintext_Rekey(t *testing.T) {
	old := mustVault(t, testKey("v1", 1))
	legacyEnv, err := old.Encrypt("sk_rotate_me")
	require.NoError(t, err)

	v := mustVault(t, testKey("v2", 2), testKey("v1", 1))
	store := newMemoryRecordStore(map[uint]map[string]string{
		1: {"secret_key_enc": legacyEnv},
	})

	res, err := v.MigrateLegacyPlaintext(context.Background(), store, MigrateOptions{Rekey: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Rekeyed)

	id, ok := KeyID(store.records[1]["secret_key_enc"])
	require.True(t, ok)
	assert.Equal(t, "v2", id)

	again, err := v.MigrateLegacyPlaintext(context.Background(), store, MigrateOptions{Rekey: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rekeyed)
}

func TestMigrateLegacyPlaintext_StopsOnCancelledContext(t *testing.T) {
	v := mustVault(t, testKey("v1", 1))
	store := newMemoryRecordStore(map[uint]map[string]string{1: {"secret_key_enc": "x"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.MigrateLegacyPlaintext(ctx, store, MigrateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
