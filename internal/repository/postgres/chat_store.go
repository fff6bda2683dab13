package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
)

// ChatRepo implements repository.ChatStore using PostgreSQL.
type ChatRepo struct{ db *DB }

// NewChatRepo constructs a chat store repository.
func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

// UpsertAccount inserts an account; on conflict over the
// (user_id, platform, platform_account_id) key it refreshes the session blob.
func (r *ChatRepo) UpsertAccount(
	ctx context.Context, userID uuid.UUID, platform, platformAccountID string, sessionEnc []byte,
) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	const q = `
INSERT INTO accounts (id, user_id, platform, platform_account_id, session_enc)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, platform, platform_account_id)
DO UPDATE SET session_enc = EXCLUDED.session_enc
RETURNING id`
	var out uuid.UUID
	if err := r.db.Pool.QueryRow(ctx, q, id, userID, platform, platformAccountID, sessionEnc).Scan(&out); err != nil {
		return uuid.Nil, err
	}
	return out, nil
}

// UpsertChat inserts a chat if absent. An existing chat keeps its title so a
// stale platform-provided one never clobbers it.
func (r *ChatRepo) UpsertChat(
	ctx context.Context, accountID uuid.UUID, platformChatID, title string,
) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	const ins = `
INSERT INTO chats (id, account_id, platform_chat_id, title)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id, platform_chat_id) DO NOTHING
RETURNING id`
	var out uuid.UUID
	err = r.db.Pool.QueryRow(ctx, ins, id, accountID, platformChatID, title).Scan(&out)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	const sel = `SELECT id FROM chats WHERE account_id=$1 AND platform_chat_id=$2`
	if err := r.db.Pool.QueryRow(ctx, sel, accountID, platformChatID).Scan(&out); err != nil {
		return uuid.Nil, err
	}
	return out, nil
}

// AppendMessage stores a message, deduplicating on (chat_id, platform_message_id)
// when the platform id is present, and advances the chat's last-activity
// timestamp to max(current, message timestamp).
func (r *ChatRepo) AppendMessage(ctx context.Context, msg *model.Message) (id uuid.UUID, err error) {
	id, err = uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	var pmid *string
	if msg.PlatformMessageID != "" {
		pmid = &msg.PlatformMessageID

		const dup = `SELECT id FROM messages WHERE chat_id=$1 AND platform_message_id=$2`
		var existing uuid.UUID
		scanErr := tx.QueryRow(ctx, dup, msg.ChatID, msg.PlatformMessageID).Scan(&existing)
		switch {
		case scanErr == nil:
			return existing, nil
		case errors.Is(scanErr, pgx.ErrNoRows):
			// first sighting, fall through to insert
		default:
			err = scanErr
			return uuid.Nil, err
		}
	}

	atts, err := json.Marshal(msg.Attachments)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal attachments: %w", err)
	}

	status := msg.Status
	if status == "" {
		status = model.StatusDelivered
	}

	const ins = `
INSERT INTO messages (id, chat_id, platform, platform_message_id, sender_id, sender_name, body, attachments, ts, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err = tx.Exec(ctx, ins,
		id, msg.ChatID, msg.Platform, pmid, msg.SenderID, msg.SenderName, msg.Text, atts, msg.Timestamp, status,
	); err != nil {
		return uuid.Nil, err
	}

	const bump = `UPDATE chats SET last_message_at = GREATEST(last_message_at, $2) WHERE id=$1`
	if _, err = tx.Exec(ctx, bump, msg.ChatID, msg.Timestamp); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ListChats returns every chat across the user's accounts, most recently
// active first, with the owning account's platform tag attached.
func (r *ChatRepo) ListChats(ctx context.Context, userID uuid.UUID) ([]model.Chat, error) {
	const q = `
SELECT c.id, c.account_id, c.platform_chat_id, c.title, a.platform, c.last_message_at
FROM chats c
JOIN accounts a ON a.id = c.account_id
WHERE a.user_id = $1
ORDER BY c.last_message_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.AccountID, &c.PlatformChatID, &c.Title, &c.Platform, &c.LastMessageAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMessages returns at most limit most-recent messages of a chat in
// ascending timestamp order.
func (r *ChatRepo) ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]model.Message, error) {
	const q = `
SELECT id, chat_id, platform, platform_message_id, sender_id, sender_name, body, attachments, ts, status
FROM (
	SELECT * FROM messages WHERE chat_id=$1 ORDER BY ts DESC LIMIT $2
) recent
ORDER BY ts ASC`
	rows, err := r.db.Pool.Query(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m    model.Message
			pmid *string
			atts []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Platform, &pmid, &m.SenderID, &m.SenderName, &m.Text, &atts, &m.Timestamp, &m.Status); err != nil {
			return nil, err
		}
		if pmid != nil {
			m.PlatformMessageID = *pmid
		}
		if len(atts) > 0 {
			if err := json.Unmarshal(atts, &m.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshal attachments: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetChat returns a chat by id with its platform tag.
func (r *ChatRepo) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	const q = `
SELECT c.id, c.account_id, c.platform_chat_id, c.title, a.platform, c.last_message_at
FROM chats c
JOIN accounts a ON a.id = c.account_id
WHERE c.id = $1`
	var c model.Chat
	err := r.db.Pool.QueryRow(ctx, q, chatID).Scan(
		&c.ID, &c.AccountID, &c.PlatformChatID, &c.Title, &c.Platform, &c.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetAccount returns an account by id.
func (r *ChatRepo) GetAccount(ctx context.Context, accountID uuid.UUID) (*model.Account, error) {
	const q = `
SELECT id, user_id, platform, platform_account_id, session_enc, created_at
FROM accounts WHERE id=$1`
	var a model.Account
	err := r.db.Pool.QueryRow(ctx, q, accountID).Scan(
		&a.ID, &a.UserID, &a.Platform, &a.PlatformAccountID, &a.SessionEnc, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns all accounts of a user.
func (r *ChatRepo) ListAccounts(ctx context.Context, userID uuid.UUID) ([]model.Account, error) {
	const q = `
SELECT id, user_id, platform, platform_account_id, session_enc, created_at
FROM accounts WHERE user_id=$1 ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListAccountsByPlatforms returns every account of the given platforms across
// all users, for session restoration at startup.
func (r *ChatRepo) ListAccountsByPlatforms(ctx context.Context, platforms []string) ([]model.Account, error) {
	const q = `
SELECT id, user_id, platform, platform_account_id, session_enc, created_at
FROM accounts WHERE platform = ANY($1) ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, q, platforms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]model.Account, error) {
	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Platform, &a.PlatformAccountID, &a.SessionEnc, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetSession returns the encrypted session blob for an account.
func (r *ChatRepo) GetSession(ctx context.Context, accountID uuid.UUID) ([]byte, error) {
	const q = `SELECT session_enc FROM accounts WHERE id=$1`
	var blob []byte
	if err := r.db.Pool.QueryRow(ctx, q, accountID).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return blob, nil
}

// UpdateSession replaces the encrypted session blob for an account.
func (r *ChatRepo) UpdateSession(ctx context.Context, accountID uuid.UUID, sessionEnc []byte) error {
	const q = `UPDATE accounts SET session_enc=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, accountID, sessionEnc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account owned by userID; chats and messages go with
// it via ON DELETE CASCADE. Ownership lives in the predicate so there is no
// check-then-delete race; a non-owned id is a no-op.
func (r *ChatRepo) DeleteAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	const q = `DELETE FROM accounts WHERE id=$1 AND user_id=$2`
	_, err := r.db.Pool.Exec(ctx, q, accountID, userID)
	return err
}
