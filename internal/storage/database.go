package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"photorelay/internal/config"
	"photorelay/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmt string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmt = `CREATE TABLE IF NOT EXISTS uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			correlation_id TEXT NOT NULL,
			postcode TEXT NOT NULL,
			category TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL,
			remote_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS uploads (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			correlation_id VARCHAR(64) NOT NULL,
			postcode VARCHAR(16) NOT NULL,
			category VARCHAR(128) NOT NULL,
			tag VARCHAR(32) NOT NULL DEFAULT '',
			file_name VARCHAR(255) NOT NULL,
			remote_url VARCHAR(1024) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL
		)`
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("migrate uploads table: %w", err)
	}
	return nil
}

// Store persists the upload audit trail.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordUpload inserts one audit row.
func (s *Store) RecordUpload(ctx context.Context, rec *models.UploadRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (correlation_id, postcode, category, tag, file_name, remote_url, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.Postcode, rec.Category, rec.Tag, rec.FileName,
		rec.RemoteURL, rec.Status, rec.Error, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// RecentUploads returns the newest audit rows, capped at limit.
func (s *Store) RecentUploads(ctx context.Context, limit int) ([]*models.UploadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, postcode, category, tag, file_name, remote_url, status, error, created_at
		 FROM uploads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var records []*models.UploadRecord
	for rows.Next() {
		rec := &models.UploadRecord{}
		if err := rows.Scan(&rec.ID, &rec.CorrelationID, &rec.Postcode, &rec.Category, &rec.Tag,
			&rec.FileName, &rec.RemoteURL, &rec.Status, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
