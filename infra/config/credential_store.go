package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/paymux/paymux/gateway"
)

var (
	// ErrNotFound means no credentials exist for the tenant-gateway pair.
	ErrNotFound = errors.New("gateway credentials not found")
	// ErrDecryption means a stored blob exists but could not be decrypted.
	// Distinct from ErrNotFound so key problems are never mistaken for
	// missing configuration.
	ErrDecryption = errors.New("gateway credential decryption failed")
)

const minSecretLength = 12

// Values containing these markers are template leftovers, never real
// credentials.
var placeholderMarkers = []string{"changeme", "change-me", "placeholder", "your-", "your_", "<", ">"}

var placeholderExact = []string{"test", "secret", "password", "example", "sample", "todo", "xxx", "dummy"}

// StoredCredentials is one decrypted credential record.
type StoredCredentials struct {
	TenantID  string            `json:"tenantId"`
	GatewayID string            `json:"gatewayId"`
	Mode      string            `json:"mode"`
	Enabled   bool              `json:"enabled"`
	Values    map[string]string `json:"values,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// CredentialStore manages encrypted gateway credentials per tenant. Writes
// validate against the gateway's declared config schema before anything is
// persisted; at most one record exists per tenant-gateway pair.
type CredentialStore struct {
	storage  *SQLiteStorage
	registry *gateway.Registry

	// mu serializes key rotation against loads so a record is never read
	// half-rotated.
	mu  sync.RWMutex
	enc *Encryptor
}

// NewCredentialStore creates a credential store over SQLite persistence.
func NewCredentialStore(storage *SQLiteStorage, registry *gateway.Registry, masterKey string) (*CredentialStore, error) {
	enc, err := NewEncryptor(masterKey)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	return &CredentialStore{
		storage:  storage,
		registry: registry,
		enc:      enc,
	}, nil
}

// Store validates and persists credentials for a tenant-gateway pair,
// replacing any prior record. Validation runs the gateway's own schema plus
// placeholder and secret-length checks; nothing is written on failure.
func (s *CredentialStore) Store(ctx context.Context, tenantID, gatewayID, mode string, values map[string]string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if gatewayID == "" {
		return fmt.Errorf("gateway ID cannot be empty")
	}
	if len(values) == 0 {
		return fmt.Errorf("credentials cannot be empty")
	}
	if mode == "" {
		mode = gateway.ModeTest
	}

	instance, err := s.registry.Create(gatewayID)
	if err != nil {
		return err
	}

	fields := instance.RequiredConfig(mode)
	if err := gateway.ValidateConfigFields(gatewayID, values, fields); err != nil {
		return err
	}
	if err := checkSecretStrength(gatewayID, fields, values); err != nil {
		return err
	}

	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	s.mu.RLock()
	encData, err := s.enc.Encrypt(plaintext)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	return s.storage.upsertCredentials(ctx, tenantID, gatewayID, mode, encData)
}

// Load returns the decrypted credentials for a tenant-gateway pair.
func (s *CredentialStore) Load(ctx context.Context, tenantID, gatewayID string) (*StoredCredentials, error) {
	row, err := s.storage.getCredentials(ctx, tenantID, gatewayID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s, gateway %s: %w", tenantID, gatewayID, ErrNotFound)
		}
		return nil, err
	}

	values, err := s.decryptValues(row.EncData)
	if err != nil {
		return nil, fmt.Errorf("tenant %s, gateway %s: %w: %v", tenantID, gatewayID, ErrDecryption, err)
	}

	return &StoredCredentials{
		TenantID:  row.TenantID,
		GatewayID: row.GatewayID,
		Mode:      row.Mode,
		Enabled:   row.Enabled,
		Values:    values,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// LoadEnabled returns decrypted credentials for all of a tenant's enabled
// gateways. Records that fail decryption are skipped and logged; one corrupt
// blob must not take the tenant's remaining gateways down with it.
func (s *CredentialStore) LoadEnabled(ctx context.Context, tenantID string) ([]gateway.Credentials, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID cannot be empty")
	}

	rows, err := s.storage.listCredentials(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	creds := make([]gateway.Credentials, 0, len(rows))
	for _, row := range rows {
		values, err := s.decryptValues(row.EncData)
		if err != nil {
			log.Printf("Warning: skipping credentials for tenant %s, gateway %s: %v", row.TenantID, row.GatewayID, err)
			continue
		}

		creds = append(creds, gateway.Credentials{
			GatewayID: row.GatewayID,
			Mode:      row.Mode,
			Values:    values,
		})
	}

	return creds, nil
}

// ListRecords returns credential metadata for a tenant without decrypting
// values.
func (s *CredentialStore) ListRecords(ctx context.Context, tenantID string) ([]StoredCredentials, error) {
	rows, err := s.storage.listCredentials(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}

	records := make([]StoredCredentials, 0, len(rows))
	for _, row := range rows {
		records = append(records, StoredCredentials{
			TenantID:  row.TenantID,
			GatewayID: row.GatewayID,
			Mode:      row.Mode,
			Enabled:   row.Enabled,
			UpdatedAt: row.UpdatedAt,
		})
	}

	return records, nil
}

// Disable soft-disables a tenant's gateway. The record and its encrypted
// credentials remain; re-storing re-enables.
func (s *CredentialStore) Disable(ctx context.Context, tenantID, gatewayID string) error {
	err := s.storage.setEnabled(ctx, tenantID, gatewayID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("tenant %s, gateway %s: %w", tenantID, gatewayID, ErrNotFound)
	}
	return err
}

// RotateKey re-encrypts every stored record under a new master key. Each
// record is rewritten in its own transaction; records that fail to decrypt
// under the old key are skipped and logged rather than aborting the rest.
// Returns the rotated and skipped counts.
func (s *CredentialStore) RotateKey(ctx context.Context, newMasterKey string) (int, int, error) {
	newEnc, err := NewEncryptor(newMasterKey)
	if err != nil {
		return 0, 0, fmt.Errorf("rotate key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.storage.listCredentials(ctx, "", false)
	if err != nil {
		return 0, 0, err
	}

	rotated, skipped := 0, 0
	for _, row := range rows {
		plaintext, err := s.enc.Decrypt(row.EncData)
		if err != nil {
			log.Printf("Warning: key rotation skipped tenant %s, gateway %s: %v", row.TenantID, row.GatewayID, err)
			skipped++
			continue
		}

		encData, err := newEnc.Encrypt(plaintext)
		if err != nil {
			log.Printf("Warning: key rotation skipped tenant %s, gateway %s: %v", row.TenantID, row.GatewayID, err)
			skipped++
			continue
		}

		if err := s.storage.updateBlob(ctx, row.ID, encData); err != nil {
			log.Printf("Warning: key rotation skipped tenant %s, gateway %s: %v", row.TenantID, row.GatewayID, err)
			skipped++
			continue
		}

		rotated++
	}

	s.enc = newEnc

	return rotated, skipped, nil
}

// Stats returns storage statistics.
func (s *CredentialStore) Stats() (map[string]any, error) {
	return s.storage.GetStats()
}

// Close closes the underlying storage.
func (s *CredentialStore) Close() error {
	return s.storage.Close()
}

func (s *CredentialStore) decryptValues(encData string) (map[string]string, error) {
	s.mu.RLock()
	plaintext, err := s.enc.Decrypt(encData)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}

	return values, nil
}

// checkSecretStrength rejects secret fields that hold placeholder text or
// values too short to be real credentials.
func checkSecretStrength(gatewayID string, fields []gateway.ConfigField, values map[string]string) error {
	for _, field := range fields {
		if !field.Secret {
			continue
		}

		value, ok := values[field.Key]
		if !ok {
			continue
		}

		if len(value) < minSecretLength {
			return &gateway.ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "secret value is too short to be a real credential"}
		}

		lower := strings.ToLower(strings.TrimSpace(value))
		for _, marker := range placeholderMarkers {
			if strings.Contains(lower, marker) {
				return &gateway.ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "secret value looks like a placeholder"}
			}
		}
		for _, exact := range placeholderExact {
			if lower == exact {
				return &gateway.ConfigError{GatewayID: gatewayID, Field: field.Key, Message: "secret value looks like a placeholder"}
			}
		}
	}

	return nil
}
