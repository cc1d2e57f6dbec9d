package config

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// credentialRow is one persisted gateway credential record.
type credentialRow struct {
	ID        int64
	TenantID  string
	GatewayID string
	Mode      string
	EncData   string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteStorage handles persistent storage of encrypted gateway credentials
type SQLiteStorage struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLiteStorage) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		// Check if it's a busy error
		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				// Exponential backoff: 10ms, 20ms, 40ms, 80ms
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				log.Printf("SQLite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxRetries+1)
				time.Sleep(backoff)
				continue
			}
		} else {
			// Not a retry-able error
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// NewSQLiteStorage creates a new SQLite storage instance optimized for multiple processes
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// SQLite connection string with multi-process optimizations
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate", dbPath)

	// Open database connection
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for multi-replica environment
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	storage := &SQLiteStorage{
		db:   db,
		path: dbPath,
	}

	// Initialize database schema and optimizations
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Apply additional performance optimizations
	if err := storage.optimizeForMultiProcess(); err != nil {
		log.Printf("Warning: Failed to apply optimizations: %v", err)
	}

	return storage, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		gateway_id TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'test',
		enc_data TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(tenant_id, gateway_id)
	);

	CREATE INDEX IF NOT EXISTS idx_credentials_tenant ON gateway_credentials(tenant_id, enabled);

	-- Trigger to update updated_at column
	CREATE TRIGGER IF NOT EXISTS update_gateway_credentials_updated_at
		AFTER UPDATE ON gateway_credentials
	BEGIN
		UPDATE gateway_credentials SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := s.db.Exec(query)
	return err
}

// optimizeForMultiProcess applies SQLite optimizations for multi-process access
func (s *SQLiteStorage) optimizeForMultiProcess() error {
	optimizations := []string{
		"PRAGMA journal_mode = WAL;",    // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL;",  // Balance between safety and speed
		"PRAGMA cache_size = 1000;",     // Increase cache size
		"PRAGMA busy_timeout = 30000;",  // 30 second timeout for lock waits
		"PRAGMA temp_store = memory;",   // Store temp tables in memory
		"PRAGMA mmap_size = 268435456;", // 256MB memory mapping
		"PRAGMA optimize;",              // Optimize database
	}

	for _, pragma := range optimizations {
		if _, err := s.db.Exec(pragma); err != nil {
			log.Printf("Warning: Failed to execute %s: %v", pragma, err)
		}
	}

	// Test WAL mode is actually enabled
	var journalMode string
	err := s.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode)
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	return nil
}

// upsertCredentials inserts or replaces the encrypted blob for a
// tenant-gateway pair. Re-storing re-enables a disabled record.
func (s *SQLiteStorage) upsertCredentials(ctx context.Context, tenantID, gatewayID, mode, encData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `
		INSERT INTO gateway_credentials (tenant_id, gateway_id, mode, enc_data, enabled, updated_at)
		VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(tenant_id, gateway_id)
		DO UPDATE SET
			mode = excluded.mode,
			enc_data = excluded.enc_data,
			enabled = 1,
			updated_at = CURRENT_TIMESTAMP
		`

		_, err := s.db.ExecContext(ctx, query, tenantID, gatewayID, mode, encData)
		if err != nil {
			return fmt.Errorf("failed to save gateway credentials: %w", err)
		}

		return nil
	}, 3)
}

// getCredentials loads one record. Returns sql.ErrNoRows when absent.
func (s *SQLiteStorage) getCredentials(ctx context.Context, tenantID, gatewayID string) (*credentialRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row credentialRow
	err := s.retryOperation(func() error {
		query := `
		SELECT id, tenant_id, gateway_id, mode, enc_data, enabled, created_at, updated_at
		FROM gateway_credentials
		WHERE tenant_id = ? AND gateway_id = ?
		`

		var enabled int
		err := s.db.QueryRowContext(ctx, query, tenantID, gatewayID).Scan(
			&row.ID, &row.TenantID, &row.GatewayID, &row.Mode, &row.EncData,
			&enabled, &row.CreatedAt, &row.UpdatedAt,
		)
		if err != nil {
			return err
		}
		row.Enabled = enabled == 1

		return nil
	}, 3)
	if err != nil {
		return nil, err
	}

	return &row, nil
}

// listCredentials loads all records, optionally restricted to one tenant and
// to enabled records only.
func (s *SQLiteStorage) listCredentials(ctx context.Context, tenantID string, enabledOnly bool) ([]credentialRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	SELECT id, tenant_id, gateway_id, mode, enc_data, enabled, created_at, updated_at
	FROM gateway_credentials
	`
	var conditions []string
	var args []any
	if tenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, tenantID)
	}
	if enabledOnly {
		conditions = append(conditions, "enabled = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY tenant_id, gateway_id"

	var out []credentialRow
	err := s.retryOperation(func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query gateway credentials: %w", err)
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var row credentialRow
			var enabled int
			if err := rows.Scan(&row.ID, &row.TenantID, &row.GatewayID, &row.Mode, &row.EncData,
				&enabled, &row.CreatedAt, &row.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			row.Enabled = enabled == 1
			out = append(out, row)
		}

		return rows.Err()
	}, 3)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// setEnabled flips the enabled flag on a record. Returns sql.ErrNoRows when
// the record does not exist.
func (s *SQLiteStorage) setEnabled(ctx context.Context, tenantID, gatewayID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `UPDATE gateway_credentials SET enabled = ? WHERE tenant_id = ? AND gateway_id = ?`

		flag := 0
		if enabled {
			flag = 1
		}

		result, err := s.db.ExecContext(ctx, query, flag, tenantID, gatewayID)
		if err != nil {
			return fmt.Errorf("failed to update gateway credentials: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		return nil
	}, 3)
}

// updateBlob rewrites the encrypted blob of one record in its own
// transaction. Used by key rotation.
func (s *SQLiteStorage) updateBlob(ctx context.Context, id int64, encData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE gateway_credentials SET enc_data = ? WHERE id = ?", encData, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to update blob: %w", err)
		}

		return tx.Commit()
	}, 3)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns database statistics
func (s *SQLiteStorage) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any)

	var totalRecords int
	err := s.db.QueryRow("SELECT COUNT(*) FROM gateway_credentials").Scan(&totalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count credential records: %w", err)
	}
	stats["total_records"] = totalRecords

	var uniqueTenants int
	err = s.db.QueryRow("SELECT COUNT(DISTINCT tenant_id) FROM gateway_credentials").Scan(&uniqueTenants)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique tenants: %w", err)
	}
	stats["unique_tenants"] = uniqueTenants

	var uniqueGateways int
	err = s.db.QueryRow("SELECT COUNT(DISTINCT gateway_id) FROM gateway_credentials").Scan(&uniqueGateways)
	if err != nil {
		return nil, fmt.Errorf("failed to count unique gateways: %w", err)
	}
	stats["unique_gateways"] = uniqueGateways

	var enabledRecords int
	err = s.db.QueryRow("SELECT COUNT(*) FROM gateway_credentials WHERE enabled = 1").Scan(&enabledRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to count enabled records: %w", err)
	}
	stats["enabled_records"] = enabledRecords

	// Database file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats["db_size_bytes"] = fileInfo.Size()
	}

	stats["db_path"] = s.path

	return stats, nil
}
