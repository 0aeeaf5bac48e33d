package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/pawfect/pkg/chat"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile returns a DSN for a database file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
		  user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		  first_name TEXT NOT NULL DEFAULT '',
		  last_name TEXT NOT NULL DEFAULT '',
		  email TEXT NOT NULL UNIQUE,
		  password_hash TEXT NOT NULL,
		  role TEXT NOT NULL,
		  address TEXT NOT NULL DEFAULT '',
		  birthdate TEXT NOT NULL DEFAULT '',
		  sex TEXT NOT NULL DEFAULT '',
		  monthly_salary REAL NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
		  conversation_id INTEGER PRIMARY KEY AUTOINCREMENT,
		  user_id INTEGER NOT NULL UNIQUE REFERENCES users(user_id),
		  last_message_at_ms INTEGER,
		  last_message_preview TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_last_message
		  ON conversations(last_message_at_ms DESC, conversation_id DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
		  message_id INTEGER PRIMARY KEY AUTOINCREMENT,
		  conversation_id INTEGER NOT NULL REFERENCES conversations(conversation_id),
		  sender_id INTEGER NOT NULL,
		  sender_role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  is_read INTEGER NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conversation
		  ON messages(conversation_id, message_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u NewUser) (chat.User, error) {
	u, err := validateNewUser(u)
	if err != nil {
		return chat.User{}, errors.Wrap(err, "sqlite chat store: create user")
	}
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (first_name, last_name, email, password_hash, role, address, birthdate, sex, monthly_salary, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.FirstName, u.LastName, u.Email, u.PasswordHash, string(u.Role), u.Address, u.Birthdate, u.Sex, u.MonthlySalary, now)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return chat.User{}, ErrEmailTaken
		}
		return chat.User{}, errors.Wrap(err, "sqlite chat store: create user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.User{}, errors.Wrap(err, "sqlite chat store: user id")
	}
	return chat.User{
		UserID:        id,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
		Role:          u.Role,
		Address:       u.Address,
		Birthdate:     u.Birthdate,
		Sex:           u.Sex,
		MonthlySalary: u.MonthlySalary,
		CreatedAt:     fromMs(now),
	}, nil
}

const userColumns = `user_id, first_name, last_name, email, password_hash, role, address, birthdate, sex, monthly_salary, created_at_ms`

func scanUser(row interface{ Scan(...any) error }) (UserRecord, error) {
	var (
		rec       UserRecord
		role      string
		createdMs int64
	)
	err := row.Scan(&rec.UserID, &rec.FirstName, &rec.LastName, &rec.Email, &rec.PasswordHash,
		&role, &rec.Address, &rec.Birthdate, &rec.Sex, &rec.MonthlySalary, &createdMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	rec.Role = chat.Role(role)
	rec.CreatedAt = fromMs(createdMs)
	return rec, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	rec, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email)))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return rec, errors.Wrap(err, "sqlite chat store: get user by email")
	}
	return rec, err
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID int64) (chat.User, error) {
	rec, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return chat.User{}, err
		}
		return chat.User{}, errors.Wrap(err, "sqlite chat store: get user")
	}
	return rec.User, nil
}

const conversationQuery = `
	SELECT c.conversation_id, c.user_id, u.first_name, u.last_name,
	       c.last_message_at_ms, c.last_message_preview, c.created_at_ms
	FROM conversations c
	JOIN users u ON u.user_id = c.user_id`

func scanConversation(row interface{ Scan(...any) error }) (chat.Conversation, error) {
	var (
		c         chat.Conversation
		lastMs    sql.NullInt64
		createdMs int64
	)
	if err := row.Scan(&c.ConversationID, &c.UserID, &c.FirstName, &c.LastName, &lastMs, &c.LastMessagePreview, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ErrNotFound
		}
		return c, err
	}
	if lastMs.Valid {
		t := fromMs(lastMs.Int64)
		c.LastMessageAt = &t
	}
	c.CreatedAt = fromMs(createdMs)
	return c, nil
}

func (s *SQLiteStore) EnsureConversation(ctx context.Context, userID int64) (chat.Conversation, error) {
	if _, err := s.GetUserByID(ctx, userID); err != nil {
		return chat.Conversation{}, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, created_at_ms) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, time.Now().UnixMilli())
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "sqlite chat store: ensure conversation")
	}
	c, err := scanConversation(s.db.QueryRowContext(ctx, conversationQuery+` WHERE c.user_id = ?`, userID))
	if err != nil {
		return c, errors.Wrap(err, "sqlite chat store: ensure conversation")
	}
	return c, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID int64) (chat.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, conversationQuery+` WHERE c.conversation_id = ?`, conversationID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return c, errors.Wrap(err, "sqlite chat store: get conversation")
	}
	return c, err
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, conversationQuery+`
		ORDER BY c.last_message_at_ms IS NULL, c.last_message_at_ms DESC, c.conversation_id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	out := []chat.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan conversation")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list conversations")
	}
	return out, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]chat.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, sender_id, sender_role, content, is_read, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		ORDER BY message_id ASC
	`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list messages")
	}
	defer func() { _ = rows.Close() }()

	out := []chat.Message{}
	for rows.Next() {
		var (
			m         chat.Message
			role      string
			isRead    int64
			createdMs int64
		)
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.SenderID, &role, &m.Content, &isRead, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		m.SenderRole = chat.Role(role)
		m.IsRead = isRead != 0
		m.CreatedAt = fromMs(createdMs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list messages")
	}
	return out, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, senderID int64, role chat.Role, content string) (chat.Message, error) {
	content, err := validateMessage(role, content)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: append message")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	upd, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at_ms = ?, last_message_preview = ?
		WHERE conversation_id = ?
	`, now, chat.Preview(content), conversationID)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: touch conversation")
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return chat.Message{}, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sender_role, content, is_read, created_at_ms)
		VALUES (?, ?, ?, ?, 0, ?)
	`, conversationID, senderID, string(role), content, now)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: message id")
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite chat store: commit")
	}
	return chat.Message{
		MessageID:      id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderRole:     role,
		Content:        content,
		CreatedAt:      fromMs(now),
	}, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID int64, readerRole chat.Role) (int64, error) {
	if !readerRole.Valid() {
		return 0, errors.Errorf("sqlite chat store: unknown reader role %q", readerRole)
	}
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_role <> ? AND is_read = 0
	`, conversationID, string(readerRole))
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: mark read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: mark read")
	}
	return n, nil
}
