package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/docchat/docchat/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// ApplyMigrations renders the embedded migrations with the configured
// embedding dimension and applies them in order. A database created with a
// different dimension is rejected rather than left to fail on every insert.
func ApplyMigrations(db *sql.DB, embedDim int) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return err
		}
		queries := strings.Split(renderMigration(string(content), embedDim), ";")
		for _, q := range queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.Exec(q); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					continue
				}
				return fmt.Errorf("execute query in %s: %w", file, err)
			}
		}
	}
	return checkEmbedDim(db, embedDim)
}

func renderMigration(content string, embedDim int) string {
	return strings.ReplaceAll(content, "{EMBED_DIM}", strconv.Itoa(embedDim))
}

// checkEmbedDim compares the declared dimension of the vector column with
// the configured one. pgvector stores the dimension as the column typmod.
func checkEmbedDim(db *sql.DB, embedDim int) error {
	var declared int
	err := db.QueryRow(
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = 'vector_entries'::regclass AND attname = 'embedding'`,
	).Scan(&declared)
	if err != nil {
		return fmt.Errorf("read vector column dimension: %w", err)
	}
	if declared != embedDim {
		return fmt.Errorf("vector_entries.embedding has dimension %d, config ai.embed_dim is %d; migrate the table or fix the config",
			declared, embedDim)
	}
	return nil
}
