package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paymux/paymux/gateway"
	"github.com/paymux/paymux/gateway/flatpay"
)

const testMasterKey = "unit-test-master-key"

func validFlatpayCreds() map[string]string {
	return map[string]string{
		"apiKey":        "fp_live_9kQ3jW7xRv2tYb5dHn8m",
		"webhookSecret": "ws_Nc7Lp0qTze4AxK2v",
		"mode":          "test",
	}
}

func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	registry := gateway.NewRegistry()
	registry.Register("flatpay", flatpay.NewGateway)

	store, err := NewCredentialStore(storage, registry, testMasterKey)
	require.NoError(t, err)
	return store
}

func TestCredentialStore_StoreAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	record, err := store.Load(ctx, "tenant-1", "flatpay")
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", record.TenantID)
	assert.Equal(t, "flatpay", record.GatewayID)
	assert.Equal(t, gateway.ModeTest, record.Mode)
	assert.True(t, record.Enabled)
	assert.Equal(t, validFlatpayCreds(), record.Values)
	assert.False(t, record.UpdatedAt.IsZero())
}

func TestCredentialStore_StoreValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		tenantID  string
		gatewayID string
		values    map[string]string
	}{
		{name: "empty tenant", tenantID: "", gatewayID: "flatpay", values: validFlatpayCreds()},
		{name: "empty gateway", tenantID: "tenant-1", gatewayID: "", values: validFlatpayCreds()},
		{name: "empty values", tenantID: "tenant-1", gatewayID: "flatpay", values: nil},
		{name: "unknown gateway", tenantID: "tenant-1", gatewayID: "ghost", values: validFlatpayCreds()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Store(ctx, tt.tenantID, tt.gatewayID, gateway.ModeTest, tt.values)
			require.Error(t, err)
		})
	}
}

func TestCredentialStore_SchemaValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("missing required field", func(t *testing.T) {
		values := validFlatpayCreds()
		delete(values, "webhookSecret")

		err := store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, values)
		var confErr *gateway.ConfigError
		require.True(t, errors.As(err, &confErr))
		assert.Equal(t, "webhookSecret", confErr.Field)
	})

	t.Run("value below minimum length", func(t *testing.T) {
		values := validFlatpayCreds()
		values["apiKey"] = "fp_short"

		err := store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, values)
		var confErr *gateway.ConfigError
		require.True(t, errors.As(err, &confErr))
		assert.Equal(t, "apiKey", confErr.Field)
	})

	t.Run("invalid mode", func(t *testing.T) {
		values := validFlatpayCreds()
		values["mode"] = "staging"

		err := store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, values)
		require.Error(t, err)
	})

	// Nothing may be persisted after failed validation.
	_, err := store.Load(ctx, "tenant-1", "flatpay")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCredentialStore_RejectsPlaceholderSecrets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	placeholders := []string{
		"your-api-key-goes-here",
		"changeme-changeme-1",
		"placeholder_value_1",
		"<insert-key-here-1>",
	}

	for _, value := range placeholders {
		t.Run(value, func(t *testing.T) {
			values := validFlatpayCreds()
			values["apiKey"] = value

			err := store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, values)
			var confErr *gateway.ConfigError
			require.True(t, errors.As(err, &confErr), "expected config error, got %v", err)
			assert.Equal(t, "apiKey", confErr.Field)
		})
	}
}

func TestCredentialStore_LoadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "tenant-1", "flatpay")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrDecryption))
}

func TestCredentialStore_LoadWrongKeyIsDecryptionError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	// Same storage, different master key.
	registry := gateway.NewRegistry()
	registry.Register("flatpay", flatpay.NewGateway)
	wrongKeyStore, err := NewCredentialStore(store.storage, registry, "a-different-master-key")
	require.NoError(t, err)

	_, err = wrongKeyStore.Load(ctx, "tenant-1", "flatpay")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestCredentialStore_UpsertReplacesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	updated := validFlatpayCreds()
	updated["apiKey"] = "fp_live_replacement_key_0042"
	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeLive, updated))

	record, err := store.Load(ctx, "tenant-1", "flatpay")
	require.NoError(t, err)
	assert.Equal(t, gateway.ModeLive, record.Mode)
	assert.Equal(t, "fp_live_replacement_key_0042", record.Values["apiKey"])

	records, err := store.ListRecords(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCredentialStore_Disable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	require.NoError(t, store.Disable(ctx, "tenant-1", "flatpay"))

	// Disabled records drop out of resolution but keep their data.
	enabled, err := store.LoadEnabled(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, enabled)

	record, err := store.Load(ctx, "tenant-1", "flatpay")
	require.NoError(t, err)
	assert.False(t, record.Enabled)
	assert.Equal(t, validFlatpayCreds(), record.Values)

	// Re-storing re-enables.
	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	enabled, err = store.LoadEnabled(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestCredentialStore_DisableNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.Disable(context.Background(), "tenant-1", "flatpay")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCredentialStore_LoadEnabledSkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	require.NoError(t, store.Store(ctx, "tenant-2", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	// Corrupt tenant-1's blob directly in storage.
	rows, err := store.storage.listCredentials(ctx, "tenant-1", false)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, store.storage.updateBlob(ctx, rows[0].ID, "bm90LXJlYWwtY2lwaGVydGV4dA=="))

	// The corrupt record is skipped, not fatal.
	creds, err := store.LoadEnabled(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, creds)

	creds, err = store.LoadEnabled(ctx, "tenant-2")
	require.NoError(t, err)
	assert.Len(t, creds, 1)
	assert.Equal(t, "flatpay", creds[0].GatewayID)
	assert.Equal(t, validFlatpayCreds(), creds[0].Values)
}

func TestCredentialStore_RotateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	require.NoError(t, store.Store(ctx, "tenant-2", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	rotated, skipped, err := store.RotateKey(ctx, "rotated-master-key")
	require.NoError(t, err)
	assert.Equal(t, 2, rotated)
	assert.Equal(t, 0, skipped)

	// The store keeps working under the new key.
	record, err := store.Load(ctx, "tenant-1", "flatpay")
	require.NoError(t, err)
	assert.Equal(t, validFlatpayCreds(), record.Values)

	// A fresh store with the new key reads the rotated blobs.
	registry := gateway.NewRegistry()
	registry.Register("flatpay", flatpay.NewGateway)
	newStore, err := NewCredentialStore(store.storage, registry, "rotated-master-key")
	require.NoError(t, err)
	_, err = newStore.Load(ctx, "tenant-2", "flatpay")
	require.NoError(t, err)

	// The old key no longer decrypts anything.
	oldStore, err := NewCredentialStore(store.storage, registry, testMasterKey)
	require.NoError(t, err)
	_, err = oldStore.Load(ctx, "tenant-1", "flatpay")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestCredentialStore_RotateKeySkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	require.NoError(t, store.Store(ctx, "tenant-2", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	rows, err := store.storage.listCredentials(ctx, "tenant-1", false)
	require.NoError(t, err)
	require.NoError(t, store.storage.updateBlob(ctx, rows[0].ID, "Z2FyYmFnZS1ibG9i"))

	rotated, skipped, err := store.RotateKey(ctx, "rotated-master-key")
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)
	assert.Equal(t, 1, skipped)

	// The healthy record survives rotation.
	_, err = store.Load(ctx, "tenant-2", "flatpay")
	require.NoError(t, err)
}

func TestCredentialStore_RotateKeyRejectsEmptyKey(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.RotateKey(context.Background(), "")
	require.Error(t, err)
}

func TestCredentialStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, "tenant-1", "flatpay", gateway.ModeTest, validFlatpayCreds()))
	require.NoError(t, store.Store(ctx, "tenant-2", "flatpay", gateway.ModeTest, validFlatpayCreds()))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total_records"])
	assert.Equal(t, 2, stats["unique_tenants"])
	assert.Equal(t, 1, stats["unique_gateways"])
	assert.Equal(t, 2, stats["enabled_records"])
}
