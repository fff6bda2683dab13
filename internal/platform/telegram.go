package platform

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/cross-messenger/internal/crypto"
	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
)

const onboardingTTL = 10 * time.Minute

type tgPending struct {
	userID  uuid.UUID
	hint    string
	created time.Time
}

// Telegram is the session-listener adapter. Session material is the bot token;
// inbound events arrive over long polling.
type Telegram struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]tgPending
}

// NewTelegram constructs the Telegram adapter.
func NewTelegram(log *zap.Logger) *Telegram {
	return &Telegram{log: log, pending: make(map[string]tgPending)}
}

// Platform returns the platform tag.
func (t *Telegram) Platform() string { return model.PlatformTelegram }

// Listener reports that Telegram streams inbound events.
func (t *Telegram) Listener() bool { return true }

// BeginOnboarding hands out a short-lived challenge token the user must echo
// back together with their bot token.
func (t *Telegram) BeginOnboarding(_ context.Context, userID uuid.UUID, identityHint string) (string, error) {
	raw, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	challenge := hex.EncodeToString(raw)

	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.pending {
		if time.Since(p.created) > onboardingTTL {
			delete(t.pending, k)
		}
	}
	t.pending[challenge] = tgPending{userID: userID, hint: identityHint, created: time.Now()}
	return challenge, nil
}

// CompleteOnboarding validates the bot token against the platform and returns
// the session material plus a live handle.
func (t *Telegram) CompleteOnboarding(ctx context.Context, challenge, proof string) (*Onboarded, error) {
	t.mu.Lock()
	p, ok := t.pending[challenge]
	delete(t.pending, challenge)
	t.mu.Unlock()
	if !ok || time.Since(p.created) > onboardingTTL {
		return nil, fmt.Errorf("unknown or expired challenge: %w", errs.ErrAuthRejected)
	}

	h, err := t.connect(ctx, proof)
	if err != nil {
		if errors.Is(err, errs.ErrSessionExpired) {
			return nil, fmt.Errorf("token rejected: %w", errs.ErrAuthRejected)
		}
		return nil, err
	}
	return &Onboarded{
		PlatformAccountID: strconv.FormatInt(h.me.ID, 10),
		Session:           []byte(proof),
		Handle:            h,
	}, nil
}

// RestoreSession revives a persisted token.
func (t *Telegram) RestoreSession(ctx context.Context, session []byte) (Handle, error) {
	return t.connect(ctx, string(session))
}

func (t *Telegram) connect(ctx context.Context, token string) (*tgHandle, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("telegram client: %w", err)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		if isTelegramAuthError(err) {
			return nil, fmt.Errorf("getMe: %w", errs.ErrSessionExpired)
		}
		return nil, fmt.Errorf("getMe: %w", err)
	}
	return &tgHandle{bot: b, me: me}, nil
}

// Listen converts every inbound text message to a normalized event and blocks
// on the long-polling loop until ctx is cancelled.
func (t *Telegram) Listen(ctx context.Context, h Handle, sink Sink) error {
	th, err := t.handle(h)
	if err != nil {
		return err
	}

	th.registerOnce.Do(func() {
		th.bot.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix,
			func(ctx context.Context, _ *bot.Bot, update *models.Update) {
				if update.Message == nil {
					return
				}
				if err := sink(ctx, normalizeUpdate(update.Message)); err != nil {
					t.log.Error("inbound telegram event dropped",
						zap.Int64("chat_id", update.Message.Chat.ID), zap.Error(err))
				}
			})
	})

	th.bot.Start(ctx)
	return ctx.Err()
}

// Backfill is a no-op for Telegram: the Bot API cannot enumerate history, and
// the pending update backlog is delivered by the polling loop on connect.
func (t *Telegram) Backfill(_ context.Context, _ Handle, _ Sink, _ int) error {
	return nil
}

// Send delivers text to a chat and returns the platform message id.
func (t *Telegram) Send(ctx context.Context, h Handle, platformChatID, text string) (string, error) {
	th, err := t.handle(h)
	if err != nil {
		return "", err
	}
	chatID, err := strconv.ParseInt(platformChatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad chat id %q: %w", platformChatID, errs.ErrSendFailed)
	}
	msg, err := th.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		if isTelegramAuthError(err) {
			return "", fmt.Errorf("sendMessage: %w", errs.ErrSessionExpired)
		}
		return "", fmt.Errorf("sendMessage: %w", errors.Join(errs.ErrSendFailed, err))
	}
	return strconv.Itoa(msg.ID), nil
}

func (t *Telegram) handle(h Handle) (*tgHandle, error) {
	th, ok := h.(*tgHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle type %T", h)
	}
	return th, nil
}

// tgHandle holds the live bot client. Closing is a no-op: polling stops when
// the listen context is cancelled, and the token stays valid server-side.
type tgHandle struct {
	bot          *bot.Bot
	me           *models.User
	registerOnce sync.Once
}

func (h *tgHandle) Close() error { return nil }

func normalizeUpdate(m *models.Message) model.NewMessage {
	out := model.NewMessage{
		PlatformChatID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatTitle:         chatTitle(&m.Chat),
		PlatformMessageID: strconv.Itoa(m.ID),
		Text:              m.Text,
		Timestamp:         time.Unix(int64(m.Date), 0).UTC(),
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	if m.From != nil {
		out.SenderID = strconv.FormatInt(m.From.ID, 10)
		out.SenderName = senderName(m.From)
	}
	if len(m.Photo) > 0 {
		// last element is the largest rendition
		out.Attachments = append(out.Attachments, model.Attachment{Type: "photo", URL: m.Photo[len(m.Photo)-1].FileID})
	}
	if m.Document != nil {
		out.Attachments = append(out.Attachments, model.Attachment{
			Type: "document", URL: m.Document.FileID, Name: m.Document.FileName,
		})
	}
	return out
}

func chatTitle(c *models.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if c.Username != "" {
		return c.Username
	}
	return "Unknown Chat"
}

func senderName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return "Unknown"
}

// isTelegramAuthError reports whether the API rejected our credentials rather
// than the request transport failing.
func isTelegramAuthError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unauthorized") || strings.Contains(s, "401")
}
