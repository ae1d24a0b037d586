package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EnsureSchema creates the schema and tables used by PostgresStore when missing.
// It is idempotent and safe to run on every boot.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	conversations := s.table("conversations")
	members := s.table("conversation_members")
	cursors := s.table("conversation_cursors")
	messages := s.table("messages")
	reactions := s.table("message_reactions")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id                   TEXT PRIMARY KEY,
  is_group             BOOLEAN NOT NULL DEFAULT false,
  name                 TEXT NOT NULL DEFAULT '',
  direct_key           TEXT UNIQUE,
  last_message_preview TEXT,
  last_message_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at
  ON %s (last_message_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  ord             INT NOT NULL,
  last_read_seq   BIGINT NOT NULL DEFAULT 0,
  joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_conversation_members_user
  ON %s (user_id);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %s (
  id                  TEXT PRIMARY KEY,
  conversation_id     TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  seq                 BIGINT NOT NULL,
  client_msg_id       TEXT NOT NULL,
  author_id           TEXT NOT NULL,
  type                TEXT NOT NULL CHECK (type IN ('text', 'image', 'video', 'audio', 'file')),
  content             TEXT,
  attachment_url      TEXT,
  attachment_filename TEXT,
  attachment_size     BIGINT,
  attachment_mime     TEXT,
  replied_to_id       TEXT,
  edited              BOOLEAN NOT NULL DEFAULT false,
  server_ts           TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_messages_conversation_seq UNIQUE (conversation_id, seq),
  CONSTRAINT uq_messages_conversation_client_msg UNIQUE (conversation_id, client_msg_id),
  CONSTRAINT chk_messages_content_len CHECK (content IS NULL OR char_length(content) <= 4096)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq_desc
  ON %s (conversation_id, seq DESC);

CREATE TABLE IF NOT EXISTS %s (
  message_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  user_id    TEXT NOT NULL,
  type       TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (message_id, user_id, type)
);
`,
		pgx.Identifier{s.schema}.Sanitize(),
		conversations, conversations,
		members, conversations, members,
		cursors, conversations,
		messages, conversations, messages,
		reactions, messages,
	)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("realtime: ensure schema: %w", err)
	}
	return nil
}
