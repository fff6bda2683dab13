// Package repository declares storage interfaces implemented by the postgres package.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/cross-messenger/internal/model"
)

// ChatStore provides durable storage of accounts, chats and messages.
// All methods are safe under concurrent callers.
type ChatStore interface {
	// UpsertAccount inserts an account or, when (user, platform, platform
	// account id) already exists, refreshes its encrypted session blob.
	UpsertAccount(ctx context.Context, userID uuid.UUID, platform, platformAccountID string, sessionEnc []byte) (uuid.UUID, error)

	// UpsertChat inserts a chat if absent and returns its id. An existing
	// chat's title is left untouched.
	UpsertChat(ctx context.Context, accountID uuid.UUID, platformChatID, title string) (uuid.UUID, error)

	// AppendMessage stores a message and advances the owning chat's
	// last-activity timestamp. When msg.PlatformMessageID is set and already
	// recorded for the chat, the existing message id is returned and no row
	// is created.
	AppendMessage(ctx context.Context, msg *model.Message) (uuid.UUID, error)

	// ListChats returns all chats across the user's accounts, most recently
	// active first.
	ListChats(ctx context.Context, userID uuid.UUID) ([]model.Chat, error)

	// ListMessages returns at most limit most-recent messages of a chat in
	// ascending timestamp order.
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]model.Message, error)

	// GetChat returns a chat by id.
	GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error)

	// GetAccount returns an account by id.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*model.Account, error)

	// ListAccounts returns all accounts of a user.
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]model.Account, error)

	// ListAccountsByPlatforms returns every account whose platform tag is in
	// the given set, across all users. Used for session restoration at startup.
	ListAccountsByPlatforms(ctx context.Context, platforms []string) ([]model.Account, error)

	// GetSession returns the encrypted session blob for an account.
	GetSession(ctx context.Context, accountID uuid.UUID) ([]byte, error)

	// UpdateSession replaces the encrypted session blob for an account.
	UpdateSession(ctx context.Context, accountID uuid.UUID, sessionEnc []byte) error

	// DeleteAccount removes an account and cascades to its chats and
	// messages. Ownership is part of the delete predicate: deleting an
	// account that does not belong to userID is a no-op.
	DeleteAccount(ctx context.Context, userID, accountID uuid.UUID) error
}
