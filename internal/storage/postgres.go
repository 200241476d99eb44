package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/wcf-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders a key/value connection string with every value quoted.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(c.Host), c.Port, quoteDSN(c.User), quoteDSN(c.Password), quoteDSN(c.DBName), quoteDSN(c.SSLMode))
}

func quoteDSN(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// PostgresAuditLog stores request records in the ai_requests table.
type PostgresAuditLog struct {
	db *sql.DB
}

func NewPostgresAuditLog(config DatabaseConfig) (*PostgresAuditLog, error) {
	return OpenPostgresAuditLog(config.DSN())
}

func OpenPostgresAuditLog(dsn string) (*PostgresAuditLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	a := &PostgresAuditLog{db: db}
	if err := a.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return a, nil
}

func (a *PostgresAuditLog) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := a.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (a *PostgresAuditLog) Record(ctx context.Context, entry models.RequestLog) error {
	query := `
		INSERT INTO ai_requests (requested_at, message, model, prompt_type, history, status, response)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	requestedAt, err := time.ParseInLocation(models.DatetimeLayout, entry.Timestamp, time.Local)
	if err != nil {
		requestedAt = time.Now()
	}
	_, err = a.db.ExecContext(ctx, query,
		requestedAt,
		entry.Message,
		entry.Model,
		string(entry.PromptType),
		entry.History,
		entry.Status,
		entry.Response,
	)
	if err != nil {
		return fmt.Errorf("%w: error inserting request log: %v", ErrPersist, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (a *PostgresAuditLog) Recent(ctx context.Context, limit int) ([]models.RequestLog, error) {
	query := `
		SELECT requested_at, message, model, prompt_type, history, status, response
		FROM ai_requests
		ORDER BY requested_at DESC, id DESC
		LIMIT $1`

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying request log: %w", err)
	}
	defer rows.Close()

	var out []models.RequestLog
	for rows.Next() {
		var (
			entry       models.RequestLog
			requestedAt time.Time
			promptType  string
		)
		if err := rows.Scan(
			&requestedAt,
			&entry.Message,
			&entry.Model,
			&promptType,
			&entry.History,
			&entry.Status,
			&entry.Response,
		); err != nil {
			return nil, fmt.Errorf("error scanning request log: %w", err)
		}
		entry.Timestamp = requestedAt.Local().Format(models.DatetimeLayout)
		entry.PromptType = models.ParseMode(promptType)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (a *PostgresAuditLog) Close() error {
	return a.db.Close()
}
