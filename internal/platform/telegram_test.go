package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/cross-messenger/internal/errs"
)

func TestTelegram_BeginOnboarding_UniqueChallenges(t *testing.T) {
	tg := NewTelegram(zap.NewNop())
	user := uuid.Must(uuid.NewV4())

	a, err := tg.BeginOnboarding(context.Background(), user, "+123")
	require.NoError(t, err)
	b, err := tg.BeginOnboarding(context.Background(), user, "+123")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 32)
}

func TestTelegram_CompleteOnboarding_UnknownChallenge(t *testing.T) {
	tg := NewTelegram(zap.NewNop())

	_, err := tg.CompleteOnboarding(context.Background(), "bogus", "token")
	require.ErrorIs(t, err, errs.ErrAuthRejected)
}

func TestTelegram_CompleteOnboarding_ExpiredChallenge(t *testing.T) {
	tg := NewTelegram(zap.NewNop())
	user := uuid.Must(uuid.NewV4())

	ch, err := tg.BeginOnboarding(context.Background(), user, "")
	require.NoError(t, err)

	tg.mu.Lock()
	p := tg.pending[ch]
	p.created = time.Now().Add(-onboardingTTL - time.Minute)
	tg.pending[ch] = p
	tg.mu.Unlock()

	_, err = tg.CompleteOnboarding(context.Background(), ch, "token")
	require.ErrorIs(t, err, errs.ErrAuthRejected)
}

func TestNormalizeUpdate_PrivateChat(t *testing.T) {
	m := &models.Message{
		ID:   777,
		Date: 100,
		Text: "hi",
		Chat: models.Chat{ID: 42, FirstName: "Alice", LastName: "Smith"},
		From: &models.User{ID: 9, FirstName: "Alice"},
	}
	out := normalizeUpdate(m)
	require.Equal(t, "42", out.PlatformChatID)
	require.Equal(t, "Alice Smith", out.ChatTitle)
	require.Equal(t, "777", out.PlatformMessageID)
	require.Equal(t, "9", out.SenderID)
	require.Equal(t, "Alice", out.SenderName)
	require.Equal(t, "hi", out.Text)
	require.Equal(t, time.Unix(100, 0).UTC(), out.Timestamp)
}

func TestNormalizeUpdate_GroupWithAttachments(t *testing.T) {
	m := &models.Message{
		ID:      1,
		Date:    200,
		Caption: "look",
		Chat:    models.Chat{ID: -100, Title: "Team"},
		From:    &models.User{ID: 2, Username: "bob"},
		Photo:   []models.PhotoSize{{FileID: "small"}, {FileID: "big"}},
		Document: &models.Document{
			FileID:   "doc1",
			FileName: "report.pdf",
		},
	}
	out := normalizeUpdate(m)
	require.Equal(t, "Team", out.ChatTitle)
	require.Equal(t, "bob", out.SenderName)
	require.Equal(t, "look", out.Text)
	require.Len(t, out.Attachments, 2)
	require.Equal(t, "photo", out.Attachments[0].Type)
	require.Equal(t, "big", out.Attachments[0].URL)
	require.Equal(t, "report.pdf", out.Attachments[1].Name)
}

func TestChatTitle_Fallbacks(t *testing.T) {
	require.Equal(t, "Unknown Chat", chatTitle(&models.Chat{}))
	require.Equal(t, "usr", chatTitle(&models.Chat{Username: "usr"}))
}

func TestIsTelegramAuthError(t *testing.T) {
	require.True(t, isTelegramAuthError(errors.New("Unauthorized")))
	require.True(t, isTelegramAuthError(errors.New("unexpected status 401")))
	require.False(t, isTelegramAuthError(errors.New("connection refused")))
	require.False(t, isTelegramAuthError(nil))
}

func TestTelegram_Send_BadChatID(t *testing.T) {
	tg := NewTelegram(zap.NewNop())
	_, err := tg.Send(context.Background(), &tgHandle{}, "not-a-number", "hi")
	require.ErrorIs(t, err, errs.ErrSendFailed)
}

func TestTelegram_ForeignHandle(t *testing.T) {
	tg := NewTelegram(zap.NewNop())
	err := tg.Listen(context.Background(), &igHandle{}, nil)
	require.Error(t, err)
}
