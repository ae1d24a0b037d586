// Package realtime contains the hrchat request/response WebSocket gateway,
// the upload handler and the conversation/message persistence primitives.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-conversation transactional advisory locks to guarantee:
//   - No sequence gaps caused by duplicates
//   - Strict monotonic ordering (seq and server_ts) under concurrency
//
// - Direct conversation creation locks on the member pair so concurrent
//   starts converge on one conversation.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "hrchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "hrchat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) table(name string) string { return pgIdent(s.schema, name) }

func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	return s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

// CreateConversation creates a conversation, or returns the existing direct one for the pair.
func (s *PostgresStore) CreateConversation(ctx context.Context, in CreateConversationInput) (StoredConversation, error) {
	const op = "realtime.CreateConversation"

	creator := strings.TrimSpace(in.CreatorID)
	if creator == "" {
		return StoredConversation{}, invalidInput(op, "missing creator")
	}
	members := normalizeMembers(creator, in.ParticipantIDs)
	if len(members) < 2 {
		return StoredConversation{}, invalidInput(op, "at least one other participant required")
	}
	if len(members) > maxConversationMembers {
		return StoredConversation{}, invalidInput(op, "too many participants")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.Truncate(time.Microsecond)
	name := strings.TrimSpace(in.Name)
	isGroup := len(members) > 2 || name != ""

	tx, err := s.begin(ctx)
	if err != nil {
		return StoredConversation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := s.table("conversations")

	var key *string
	if !isGroup {
		k := directKey(members[0], members[1])
		key = &k

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return StoredConversation{}, fmt.Errorf("advisory lock: %w", err)
		}

		var existing string
		err := tx.QueryRow(ctx, `SELECT id FROM `+conversations+` WHERE direct_key = $1`, k).Scan(&existing)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return StoredConversation{}, err
			}
			return s.loadConversation(ctx, s.pool, existing, creator)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return StoredConversation{}, err
		}
	}

	id, err := NewConversationID(now)
	if err != nil {
		return StoredConversation{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, is_group, name, direct_key, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		id, isGroup, name, key, now,
	); err != nil {
		return StoredConversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	membersTable := s.table("conversation_members")
	for i, m := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+membersTable+` (conversation_id, user_id, ord, joined_at) VALUES ($1, $2, $3, $4)`,
			id, m, i, now,
		); err != nil {
			return StoredConversation{}, fmt.Errorf("insert member: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("conversation_cursors")+` (conversation_id, next_seq) VALUES ($1, 1)`,
		id,
	); err != nil {
		return StoredConversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StoredConversation{}, err
	}

	return StoredConversation{
		ID:            id,
		IsGroup:       isGroup,
		Name:          name,
		MemberIDs:     members,
		LastMessageAt: now,
		CreatedAt:     now,
	}, nil
}

func (s *PostgresStore) conversationSelect() string {
	return `SELECT c.id, c.is_group, c.name, c.last_message_preview, c.last_message_at, c.created_at,
	        (SELECT COUNT(*) FROM ` + s.table("messages") + ` msg
	          WHERE msg.conversation_id = c.id AND msg.seq > m.last_read_seq AND msg.author_id <> m.user_id),
	        ARRAY(SELECT mm.user_id FROM ` + s.table("conversation_members") + ` mm
	               WHERE mm.conversation_id = c.id ORDER BY mm.ord)
	   FROM ` + s.table("conversations") + ` c
	   JOIN ` + s.table("conversation_members") + ` m ON m.conversation_id = c.id`
}

func scanConversation(row rowScanner) (StoredConversation, error) {
	var (
		c      StoredConversation
		unread int64
	)
	if err := row.Scan(&c.ID, &c.IsGroup, &c.Name, &c.LastMessagePreview, &c.LastMessageAt, &c.CreatedAt, &unread, &c.MemberIDs); err != nil {
		return StoredConversation{}, err
	}
	c.UnreadCount = int(unread)
	return c, nil
}

func (s *PostgresStore) loadConversation(ctx context.Context, q pgQuerier, id, viewer string) (StoredConversation, error) {
	c, err := scanConversation(q.QueryRow(ctx, s.conversationSelect()+` WHERE c.id = $1 AND m.user_id = $2`, id, viewer))
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredConversation{}, notFound("realtime.CreateConversation", "conversation")
	}
	return c, err
}

// ListConversations returns the user's conversations ordered by last activity.
func (s *PostgresStore) ListConversations(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	const op = "realtime.ListConversations"

	user := strings.TrimSpace(in.UserID)
	if user == "" {
		return ListConversationsResult{}, invalidInput(op, "missing user")
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	limit := clampLimit(in.Limit, defaultConversationLimit, maxConversationLimit)

	rows, err := s.pool.Query(ctx,
		s.conversationSelect()+`
		  WHERE m.user_id = $1
		  ORDER BY c.last_message_at DESC, c.id DESC
		  LIMIT $2 OFFSET $3`,
		user, limit+1, (page-1)*limit,
	)
	if err != nil {
		return ListConversationsResult{}, err
	}
	defer rows.Close()

	items := make([]StoredConversation, 0, limit+1)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return ListConversationsResult{}, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return ListConversationsResult{}, err
	}

	hasNext := len(items) > limit
	if hasNext {
		items = items[:limit]
	}
	return ListConversationsResult{Items: items, HasNext: hasNext}, nil
}

// IsMember reports whether userID belongs to conversationID.
func (s *PostgresStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("conversation_members")+` WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&ok)
	return ok, err
}

// checkMember distinguishes a missing conversation from a non-member.
func (s *PostgresStore) checkMember(ctx context.Context, q pgQuerier, op, conversationID, userID string) error {
	var exists, member bool
	if err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("conversations")+` WHERE id = $1),
		        EXISTS (SELECT 1 FROM `+s.table("conversation_members")+` WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists, &member); err != nil {
		return err
	}
	if !exists {
		return notFound(op, "conversation")
	}
	if !member {
		return forbidden(op, "not a member")
	}
	return nil
}

const messageColumns = `id, conversation_id, seq, client_msg_id, author_id, type, content,
	attachment_url, attachment_filename, attachment_size, attachment_mime, replied_to_id, edited, server_ts`

func scanMessage(row rowScanner) (StoredMessage, error) {
	var (
		m         StoredMessage
		url, name *string
		size      *int64
		mime      *string
		replyTo   *string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.ClientMsgID, &m.AuthorID, &m.Type, &m.Content,
		&url, &name, &size, &mime, &replyTo, &m.Edited, &m.ServerTS); err != nil {
		return StoredMessage{}, err
	}
	if url != nil {
		a := &StoredAttachment{URL: *url}
		if name != nil {
			a.Filename = *name
		}
		if size != nil {
			a.Size = *size
		}
		if mime != nil {
			a.MimeType = *mime
		}
		m.Attachment = a
	}
	if replyTo != nil {
		m.RepliedToID = *replyTo
	}
	return m, nil
}

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "realtime.AppendMessage"

	if err := validateAppend(op, &in); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.Truncate(time.Microsecond)

	tx, err := s.begin(ctx)
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := s.table("messages")
	cursors := s.table("conversation_cursors")

	// Serialize all writes per conversation to guarantee:
	// - No seq waste for duplicates
	// - Strict monotonic ordering without races
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if err := s.checkMember(ctx, tx, op, in.ConversationID, in.AuthorID); err != nil {
		return AppendMessageResult{}, err
	}

	existing, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messages+` WHERE conversation_id = $1 AND client_msg_id = $2`,
		in.ConversationID, in.ClientMsgID,
	))
	if err == nil {
		if err := s.attachReactions(ctx, tx, []*StoredMessage{&existing}); err != nil {
			return AppendMessageResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	if in.RepliedToID != "" {
		var ok bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+messages+` WHERE id = $1 AND conversation_id = $2)`,
			in.RepliedToID, in.ConversationID,
		).Scan(&ok); err != nil {
			return AppendMessageResult{}, err
		}
		if !ok {
			return AppendMessageResult{}, invalidInput(op, "replied_to_id not in conversation")
		}
	}

	// server_ts is strictly increasing per conversation so (server_ts, id) follows seq.
	var last *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT max(server_ts) FROM `+messages+` WHERE conversation_id = $1`,
		in.ConversationID,
	).Scan(&last); err != nil {
		return AppendMessageResult{}, err
	}
	if last != nil && !now.After(*last) {
		now = last.Add(time.Microsecond)
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	id, err := NewMessageID(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	out := StoredMessage{
		ID:             id,
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		Seq:            seq,
		AuthorID:       in.AuthorID,
		Type:           in.Type,
		Content:        in.Content,
		Attachment:     in.Attachment,
		RepliedToID:    in.RepliedToID,
		ServerTS:       now,
	}

	var (
		attURL, attName, attMime *string
		attSize                  *int64
		replyTo                  *string
	)
	if a := in.Attachment; a != nil {
		attURL, attName, attMime, attSize = &a.URL, &a.Filename, &a.MimeType, &a.Size
	}
	if in.RepliedToID != "" {
		replyTo = &in.RepliedToID
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, seq, client_msg_id, author_id, type, content,
		     attachment_url, attachment_filename, attachment_size, attachment_mime, replied_to_id, server_ts
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, in.ConversationID, seq, in.ClientMsgID, in.AuthorID, in.Type, in.Content,
		attURL, attName, attSize, attMime, replyTo, now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("conversations")+` SET last_message_at = $2, last_message_preview = $3 WHERE id = $1`,
		in.ConversationID, now, previewOf(out),
	); err != nil {
		return AppendMessageResult{}, err
	}

	// The author has read everything up to their own message.
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("conversation_members")+` SET last_read_seq = $3 WHERE conversation_id = $1 AND user_id = $2`,
		in.ConversationID, in.AuthorID, seq,
	); err != nil {
		return AppendMessageResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: out, Duplicated: false}, nil
}

// FetchHistory returns one newest-first window.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	const op = "realtime.FetchHistory"

	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, errors.New("realtime: nil store")
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		return FetchHistoryResult{}, invalidInput(op, "missing conversation_id")
	}
	limit := clampLimit(in.Limit, defaultHistoryLimit, maxHistoryLimit)
	page := in.Page
	if page <= 0 {
		page = 1
	}

	if in.ViewerID != "" {
		if err := s.checkMember(ctx, s.pool, op, in.ConversationID, in.ViewerID); err != nil {
			return FetchHistoryResult{}, err
		}
	}

	messages := s.table("messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.BeforeID != "" {
		var before int64
		err := s.pool.QueryRow(ctx,
			`SELECT seq FROM `+messages+` WHERE id = $1 AND conversation_id = $2`,
			in.BeforeID, in.ConversationID,
		).Scan(&before)
		if errors.Is(err, pgx.ErrNoRows) {
			return FetchHistoryResult{}, notFound(op, "before message")
		}
		if err != nil {
			return FetchHistoryResult{}, err
		}

		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND seq < $2
			  ORDER BY seq DESC
			  LIMIT $3`,
			in.ConversationID, before, limit+1,
		)
		if err != nil {
			return FetchHistoryResult{}, err
		}
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+`
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY seq DESC
			  LIMIT $2 OFFSET $3`,
			in.ConversationID, limit+1, (page-1)*limit,
		)
		if err != nil {
			return FetchHistoryResult{}, err
		}
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, limit+1)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return FetchHistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}
	rows.Close()

	hasOlder := len(msgs) > limit
	if hasOlder {
		msgs = msgs[:limit]
	}

	ptrs := make([]*StoredMessage, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := s.attachReactions(ctx, s.pool, ptrs); err != nil {
		return FetchHistoryResult{}, err
	}

	if in.ViewerID != "" && in.BeforeID == "" && page == 1 {
		if _, err := s.pool.Exec(ctx,
			`UPDATE `+s.table("conversation_members")+` m
			    SET last_read_seq = GREATEST(m.last_read_seq, cur.next_seq - 1)
			   FROM `+s.table("conversation_cursors")+` cur
			  WHERE cur.conversation_id = m.conversation_id
			    AND m.conversation_id = $1 AND m.user_id = $2`,
			in.ConversationID, in.ViewerID,
		); err != nil {
			return FetchHistoryResult{}, err
		}
	}

	return FetchHistoryResult{Messages: msgs, HasOlder: hasOlder}, nil
}

// EditMessage replaces the content of an own message.
func (s *PostgresStore) EditMessage(ctx context.Context, in EditMessageInput) (StoredMessage, error) {
	const op = "realtime.EditMessage"

	if err := normalizeEdit(op, &in); err != nil {
		return StoredMessage{}, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return StoredMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := s.table("messages")

	m, err := scanMessage(tx.QueryRow(ctx,
		`UPDATE `+messages+` SET content = $3, edited = true
		  WHERE id = $1 AND author_id = $2
		RETURNING `+messageColumns,
		in.MessageID, in.EditorID, in.Content,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+messages+` WHERE id = $1)`, in.MessageID).Scan(&exists); err != nil {
			return StoredMessage{}, err
		}
		if !exists {
			return StoredMessage{}, notFound(op, "message")
		}
		return StoredMessage{}, forbidden(op, "only the author may edit")
	}
	if err != nil {
		return StoredMessage{}, err
	}

	// Keep the list preview in sync when the newest message was edited.
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("conversations")+` c
		    SET last_message_preview = $2
		  WHERE c.id = $1
		    AND NOT EXISTS (SELECT 1 FROM `+messages+` WHERE conversation_id = $1 AND seq > $3)`,
		m.ConversationID, previewOf(m), m.Seq,
	); err != nil {
		return StoredMessage{}, err
	}

	if err := s.attachReactions(ctx, tx, []*StoredMessage{&m}); err != nil {
		return StoredMessage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return StoredMessage{}, err
	}
	return m, nil
}

// AddReaction records (user, type) on a message; repeats are no-ops.
func (s *PostgresStore) AddReaction(ctx context.Context, in AddReactionInput) (AddReactionResult, error) {
	const op = "realtime.AddReaction"

	if err := normalizeReaction(op, &in); err != nil {
		return AddReactionResult{}, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return AddReactionResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE id = $1`,
		in.MessageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return AddReactionResult{}, notFound(op, "message")
	}
	if err != nil {
		return AddReactionResult{}, err
	}
	if err := s.checkMember(ctx, tx, op, m.ConversationID, in.UserID); err != nil {
		return AddReactionResult{}, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("message_reactions")+` (message_id, user_id, type)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id, type) DO NOTHING`,
		in.MessageID, in.UserID, in.Type,
	)
	if err != nil {
		return AddReactionResult{}, err
	}

	if err := s.attachReactions(ctx, tx, []*StoredMessage{&m}); err != nil {
		return AddReactionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return AddReactionResult{}, err
	}
	return AddReactionResult{Stored: m, Added: tag.RowsAffected() == 1}, nil
}

func (s *PostgresStore) attachReactions(ctx context.Context, q pgQuerier, msgs []*StoredMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*StoredMessage, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT message_id, user_id, type
		   FROM `+s.table("message_reactions")+`
		  WHERE message_id = ANY($1)
		  ORDER BY created_at, user_id, type`,
		ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msgID string
			r     StoredReaction
		)
		if err := rows.Scan(&msgID, &r.UserID, &r.Type); err != nil {
			return err
		}
		if m := byID[msgID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
