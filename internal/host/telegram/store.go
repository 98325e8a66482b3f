package telegram

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/bakkerme/topic-finder/internal/host"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite message log and stream registry behind the Telegram host.
type Store struct {
	db *sql.DB
}

// OpenStore opens the database at dsn and applies pending migrations.
func OpenStore(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordMessage appends a message to the log.
func (s *Store) RecordMessage(ctx context.Context, msg host.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, user_id, text, is_group, from_bot, is_command, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.UserID, msg.Text, boolToInt(msg.IsGroup), boolToInt(msg.FromBot), boolToInt(msg.IsCommand), msg.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MessagesInRange returns messages for chatID with start <= sent_at <= end, newest first.
func (s *Store) MessagesInRange(ctx context.Context, chatID string, start, end time.Time, q host.Query) ([]host.Message, error) {
	query := `SELECT chat_id, user_id, text, is_group, from_bot, is_command, sent_at
		FROM messages WHERE chat_id = ? AND sent_at BETWEEN ? AND ?`
	if q.FilterBot {
		query += ` AND from_bot = 0`
	}
	if q.FilterCommand {
		query += ` AND is_command = 0`
	}
	query += ` ORDER BY sent_at DESC, id DESC`
	args := []any{chatID, start.UnixMilli(), end.UnixMilli()}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []host.Message
	for rows.Next() {
		var (
			msg                     host.Message
			isGroup, fromBot, isCmd int
			sentAt                  int64
		)
		if err := rows.Scan(&msg.ChatID, &msg.UserID, &msg.Text, &isGroup, &fromBot, &isCmd, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.IsGroup, msg.FromBot, msg.IsCommand = isGroup != 0, fromBot != 0, isCmd != 0
		msg.At = time.UnixMilli(sentAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

// PruneMessages deletes messages older than before and reports how many were removed.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sent_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

// UpsertStream stores or refreshes a stream.
func (s *Store) UpsertStream(ctx context.Context, stream host.Stream, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (id, group_id, user_id, name, is_group, platform, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   group_id = excluded.group_id, user_id = excluded.user_id, name = excluded.name,
		   is_group = excluded.is_group, platform = excluded.platform, updated_at = excluded.updated_at`,
		stream.ID, stream.GroupID, stream.UserID, stream.Name, boolToInt(stream.IsGroup), stream.Platform, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert stream: %w", err)
	}
	return nil
}

// Streams lists every known stream ordered by id.
func (s *Store) Streams(ctx context.Context) ([]host.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, user_id, name, is_group, platform FROM streams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []host.Stream
	for rows.Next() {
		var (
			stream  host.Stream
			isGroup int
		)
		if err := rows.Scan(&stream.ID, &stream.GroupID, &stream.UserID, &stream.Name, &isGroup, &stream.Platform); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		stream.IsGroup = isGroup != 0
		out = append(out, stream)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
