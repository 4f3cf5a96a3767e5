package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/multidb-router/backend/internal/storage/models"
	"github.com/multidb-router/backend/pkg/logger"
)

// ErrNotFound is returned when no audit entry exists for a request id.
var ErrNotFound = errors.New("audit entry not found")

// Client is the append-only audit store. database/sql serializes concurrent
// writers over one sqlite handle, so appends never interleave partially.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("Audit store initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		request_id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		backend TEXT NOT NULL,
		operation_kind TEXT NOT NULL,
		operation_verb TEXT,
		destructive INTEGER NOT NULL DEFAULT 0,
		confidence REAL,
		routing_summary TEXT,
		status TEXT NOT NULL,
		error_kind TEXT,
		error_detail TEXT,
		confirmation_outcome TEXT,
		result_count INTEGER,
		elapsed_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_backend ON audit_entries(backend);
	CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_entries(status);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_entries(created_at);

	CREATE TABLE IF NOT EXISTS audit_signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		backend TEXT NOT NULL,
		weight REAL NOT NULL,
		applied REAL NOT NULL,
		FOREIGN KEY (entry_id) REFERENCES audit_entries(request_id)
	);
	CREATE INDEX IF NOT EXISTS idx_signals_entry ON audit_signals(entry_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Audit schema initialized")
	return nil
}

func (c *Client) AppendEntry(entry *models.AuditEntry) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit append: %w", err)
	}
	defer tx.Rollback()

	destructive := 0
	if entry.Destructive {
		destructive = 1
	}

	_, err = tx.Exec(`
		INSERT INTO audit_entries (request_id, query_text, backend, operation_kind, operation_verb,
			destructive, confidence, routing_summary, status, error_kind, error_detail,
			confirmation_outcome, result_count, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.QueryText,
		entry.Backend,
		entry.OperationKind,
		entry.OperationVerb,
		destructive,
		entry.Confidence,
		entry.RoutingSummary,
		entry.Status,
		entry.ErrorKind,
		entry.ErrorDetail,
		entry.ConfirmationOutcome,
		entry.ResultCount,
		entry.ElapsedMS,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	for _, sig := range entry.Signals {
		_, err = tx.Exec(`
			INSERT INTO audit_signals (entry_id, position, name, backend, weight, applied)
			VALUES (?, ?, ?, ?, ?, ?)`,
			entry.RequestID, sig.Position, sig.Name, sig.Backend, sig.Weight, sig.Applied,
		)
		if err != nil {
			return fmt.Errorf("failed to append audit signal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit append: %w", err)
	}

	logger.Debug("Audit entry appended",
		zap.String("request_id", entry.RequestID),
		zap.String("status", entry.Status),
	)
	return nil
}

func (c *Client) GetEntry(requestID string) (*models.AuditEntry, error) {
	row := c.db.QueryRow(`
		SELECT request_id, query_text, backend, operation_kind, operation_verb, destructive,
			confidence, routing_summary, status, error_kind, error_detail,
			confirmation_outcome, result_count, elapsed_ms, created_at
		FROM audit_entries WHERE request_id = ?`, requestID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := c.db.Query(`
		SELECT entry_id, position, name, backend, weight, applied
		FROM audit_signals WHERE entry_id = ? ORDER BY position`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit signals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sig models.AuditSignal
		if err := rows.Scan(&sig.EntryID, &sig.Position, &sig.Name, &sig.Backend, &sig.Weight, &sig.Applied); err != nil {
			return nil, fmt.Errorf("failed to scan audit signal: %w", err)
		}
		entry.Signals = append(entry.Signals, sig)
	}

	return entry, rows.Err()
}

func (c *Client) ListEntries(limit, offset int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := c.db.Query(`
		SELECT request_id, query_text, backend, operation_kind, operation_verb, destructive,
			confidence, routing_summary, status, error_kind, error_detail,
			confirmation_outcome, result_count, elapsed_ms, created_at
		FROM audit_entries ORDER BY created_at DESC, request_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	var destructive int
	var createdAt int64

	err := row.Scan(
		&entry.RequestID,
		&entry.QueryText,
		&entry.Backend,
		&entry.OperationKind,
		&entry.OperationVerb,
		&destructive,
		&entry.Confidence,
		&entry.RoutingSummary,
		&entry.Status,
		&entry.ErrorKind,
		&entry.ErrorDetail,
		&entry.ConfirmationOutcome,
		&entry.ResultCount,
		&entry.ElapsedMS,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Destructive = destructive == 1
	entry.CreatedAt = time.Unix(createdAt, 0)
	return &entry, nil
}
