package database

import (
	"context"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const searchResultCap = 50

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// InitSchema creates the tables if they do not exist. The timestamp column
// is BIGINT so pagination cursors round-trip as native integers; a text
// column would compare "9" > "10" and misorder history.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	messages := `
		CREATE TABLE IF NOT EXISTS messages (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			content       TEXT,
			author_id     TEXT NOT NULL,
			author_avatar TEXT,
			room_id       TEXT NOT NULL,
			timestamp     BIGINT NOT NULL,
			device_origin TEXT
		)`
	if _, err := db.pool.Exec(ctx, messages); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	users := `
		CREATE TABLE IF NOT EXISTS users (
			id            SERIAL PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	if _, err := db.pool.Exec(ctx, users); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	return nil
}

// Message Store Implementation
func (db *PostgresDB) Append(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, type, content, author_id, author_avatar, room_id, timestamp, device_origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.pool.Exec(ctx, query,
		msg.ID, string(msg.Type), msg.Content, msg.AuthorID, msg.AuthorAvatar,
		msg.RoomID, msg.Timestamp, msg.DeviceOrigin,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (db *PostgresDB) Delete(ctx context.Context, id string) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete message: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (db *PostgresDB) Range(ctx context.Context, roomID string, limit int, beforeTimestamp int64) ([]*models.Message, error) {
	query := `
		SELECT id, type, content, author_id, author_avatar, room_id, timestamp, device_origin
		FROM messages
		WHERE room_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, roomID, beforeTimestamp, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Selected newest-first for the cursor; reverse for oldest-first delivery.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) Search(ctx context.Context, roomID, substr string) ([]*models.Message, error) {
	query := `
		SELECT id, type, content, author_id, author_avatar, room_id, timestamp, device_origin
		FROM messages
		WHERE room_id = $1 AND content ILIKE $2 AND type = 'text'
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, roomID, "%"+substr+"%", searchResultCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PostgresDB) PatchAuthorAvatar(ctx context.Context, identity, avatarURL string) (int64, error) {
	if identity == "" || avatarURL == "" {
		return 0, nil
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE messages SET author_avatar = $1 WHERE author_id = $2`,
		avatarURL, identity,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to patch author avatar: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var msgType string
		if err := rows.Scan(&msg.ID, &msgType, &msg.Content, &msg.AuthorID,
			&msg.AuthorAvatar, &msg.RoomID, &msg.Timestamp, &msg.DeviceOrigin); err != nil {
			return nil, err
		}
		msg.Type = models.MessageType(msgType)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// User Repository Implementation
func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, req.Username, req.Email, string(hash)).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return user, nil
}
