package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, msg *Message) error {
	return r.db.QueryRow(
		ctx,
		`INSERT INTO chat_messages (user_id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		msg.UserID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		msg.CreatedAt,
	).Scan(&msg.ID)
}

func (r *PostgresRepository) DeleteMessage(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListMessages(ctx context.Context, userID, sessionID string) ([]Message, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT id, user_id, session_id, role, content, created_at
		 FROM chat_messages
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY created_at ASC, id ASC`,
		userID,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) FirstMessage(ctx context.Context, userID, sessionID string) (Message, error) {
	row := r.db.QueryRow(
		ctx,
		`SELECT id, user_id, session_id, role, content, created_at
		 FROM chat_messages
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		userID,
		sessionID,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return msg, err
}

func scanMessage(row pgx.Row) (Message, error) {
	var msg Message
	var role string
	if err := row.Scan(&msg.ID, &msg.UserID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt); err != nil {
		return Message{}, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return Message{}, err
	}
	msg.Role = parsed
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT session_id, MAX(created_at) AS last_activity
		 FROM chat_messages
		 WHERE user_id = $1
		 GROUP BY session_id
		 ORDER BY last_activity DESC, session_id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]SessionSummary, 0)
	for rows.Next() {
		var item SessionSummary
		if err := rows.Scan(&item.SessionID, &item.LastActivity); err != nil {
			return nil, err
		}
		item.LastActivity = item.LastActivity.UTC()
		sessions = append(sessions, item)
	}
	return sessions, rows.Err()
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM chat_messages WHERE user_id = $1 AND session_id = $2`,
		userID,
		sessionID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) GetInstructions(ctx context.Context) (Instructions, error) {
	rows, err := r.db.Query(ctx, `SELECT role, content FROM chat_configurations`)
	if err != nil {
		return Instructions{}, err
	}
	defer rows.Close()

	var out Instructions
	var haveUser, haveAssistant bool
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return Instructions{}, err
		}
		switch Role(role) {
		case RoleUser:
			out.User, haveUser = content, true
		case RoleAssistant:
			out.Assistant, haveAssistant = content, true
		}
	}
	if err := rows.Err(); err != nil {
		return Instructions{}, err
	}
	if !haveUser || !haveAssistant {
		return Instructions{}, ErrMissingInstructions
	}
	return out, nil
}

func (r *PostgresRepository) SeedInstructions(ctx context.Context, defaults Instructions) error {
	_, err := r.db.Exec(
		ctx,
		`INSERT INTO chat_configurations (role, content)
		 VALUES ($1, $2), ($3, $4)
		 ON CONFLICT (role) DO NOTHING`,
		string(RoleUser),
		defaults.User,
		string(RoleAssistant),
		defaults.Assistant,
	)
	return err
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.db.Exec(
		ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		field := "username"
		if strings.Contains(pgErr.ConstraintName, "email") {
			field = "email"
		}
		return &DuplicateUserError{Field: field}
	}
	return err
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, "id", id)
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return r.getUser(ctx, "username", username)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getUser(ctx, "email", email)
}

func (r *PostgresRepository) getUser(ctx context.Context, column, value string) (User, error) {
	var user User
	err := r.db.QueryRow(
		ctx,
		fmt.Sprintf(`SELECT id, username, email, password_hash, created_at FROM users WHERE %s = $1`, column),
		value,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}
