package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"chatrelay/internal/migrations"
	"chatrelay/internal/models"
	"chatrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrMessageNotFound is returned when a message ID does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// Database is the durable-storage collaborator: append-only message
// records with delivery state, plus user accounts for the auth layer.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// AppendMessage durably persists a stamped message and assigns its
// server-side message ID. The ID is monotonically increasing within the
// store. The message is committed before this returns.
func (d *Database) AppendMessage(ctx context.Context, msg *models.Message) (int64, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, sent_at, delivery_state)
		VALUES (?, ?, ?, ?, ?)
	`

	id, err := retryableDBOperation(ctx, func() (int64, error) {
		result, err := d.db.ExecContext(ctx, query,
			msg.SenderID,
			msg.ReceiverID,
			msg.Content,
			msg.SentAt,
			msg.State,
		)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}, "append message")
	if err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	msg.ID = id
	return id, nil
}

// GetMessage retrieves a message by ID. Returns (nil, nil) when no such
// message exists.
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, sent_at, delivery_state
		FROM messages
		WHERE id = ?
	`

	msg := &models.Message{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.SentAt,
		&msg.State,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// UpdateDeliveryState advances a message's delivery state. The update is
// forward-only at the SQL level: a target state at or behind the current
// one leaves the row untouched. The resulting state is returned either
// way, so redundant acknowledgments are safe to apply.
func (d *Database) UpdateDeliveryState(ctx context.Context, id int64, target models.DeliveryState) (models.DeliveryState, error) {
	if !target.IsValid() {
		return "", fmt.Errorf("invalid delivery state %q", target)
	}

	query := `
		UPDATE messages
		SET delivery_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND CASE delivery_state WHEN 'pending' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END
		    < CASE ?          WHEN 'pending' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END
	`

	err := retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, target, id, target)
		return err
	}, "update delivery state")
	if err != nil {
		return "", fmt.Errorf("failed to update delivery state: %w", err)
	}

	var state models.DeliveryState
	err = d.db.QueryRowContext(ctx, `SELECT delivery_state FROM messages WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no message with ID %d: %w", id, ErrMessageNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read delivery state: %w", err)
	}

	return state, nil
}

// FetchPending returns all undelivered messages for a receiver in
// ascending sent_at order, ties broken by ascending message ID.
func (d *Database) FetchPending(ctx context.Context, receiverID string) ([]*models.Message, error) {
	query := `
		SELECT id, sender_id, receiver_id, content, sent_at, delivery_state
		FROM messages
		WHERE receiver_id = ? AND delivery_state = 'pending'
		ORDER BY sent_at ASC, id ASC
	`

	rows, err := d.db.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&msg.SentAt,
			&msg.State,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending messages: %w", err)
	}

	return messages, nil
}

// CountStalePending counts messages still pending after the given age.
func (d *Database) CountStalePending(ctx context.Context, threshold time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE delivery_state = 'pending' AND sent_at < ?
	`

	var count int
	cutoff := time.Now().Add(-threshold)
	if err := d.db.QueryRowContext(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stale pending messages: %w", err)
	}

	return count, nil
}

// CleanupOldMessages deletes read messages older than the retention
// period. Pending and delivered messages are kept regardless of age.
func (d *Database) CleanupOldMessages(ctx context.Context, retentionDays int) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE delivery_state = 'read'
		  AND created_at < datetime('now', '-' || ? || ' days')
	`

	result, err := d.db.ExecContext(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old messages: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned up messages: %w", err)
	}

	return removed, nil
}

// User operations

// CreateUser stores a new user account. The username must be unique.
func (d *Database) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`

	result, err := d.db.ExecContext(ctx, query, user.Username, user.PasswordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("username %q taken: %w", user.Username, ErrUserExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}
	user.ID = id

	return nil
}

// GetUserByUsername retrieves a user account. Returns (nil, nil) when no
// such user exists.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`

	user := &models.User{}
	err := d.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
