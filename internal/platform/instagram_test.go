package platform

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
)

func newIG(t *testing.T) *Instagram {
	t.Helper()
	return NewInstagram(zap.NewNop(), InstagramConfig{
		AppID:       "app",
		AppSecret:   "secret",
		RedirectURL: "http://localhost/api/auth/instagram/callback",
	})
}

func TestInstagram_BeginOnboarding_AuthorizeURL(t *testing.T) {
	ig := newIG(t)
	challenge, err := ig.BeginOnboarding(context.Background(), uuid.Must(uuid.NewV4()), "")
	require.NoError(t, err)

	u, err := url.Parse(challenge)
	require.NoError(t, err)
	require.Equal(t, "api.instagram.com", u.Host)
	require.Equal(t, "app", u.Query().Get("client_id"))
	require.NotEmpty(t, u.Query().Get("state"))
}

func TestInstagram_CompleteOnboarding_UnknownState(t *testing.T) {
	ig := newIG(t)
	_, err := ig.CompleteOnboarding(context.Background(), "bogus-state", "code")
	require.ErrorIs(t, err, errs.ErrAuthRejected)
}

func TestInstagram_Listen_BlocksUntilCancel(t *testing.T) {
	ig := newIG(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ig.Listen(ctx, &igHandle{}, nil) }()

	select {
	case <-done:
		t.Fatal("listen returned before cancel")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listen did not return after cancel")
	}
}

func TestInstagram_Backfill_SeedsChats(t *testing.T) {
	ig := newIG(t)

	var got []model.NewMessage
	sink := func(_ context.Context, msg model.NewMessage) error {
		got = append(got, msg)
		return nil
	}
	require.NoError(t, ig.Backfill(context.Background(), &igHandle{}, sink, 50))
	require.Len(t, got, 2)
	require.Equal(t, "instagram_chat_1", got[0].PlatformChatID)
	require.NotEmpty(t, got[0].PlatformMessageID)
}

func TestInstagram_Send_LocalID(t *testing.T) {
	ig := newIG(t)
	id, err := ig.Send(context.Background(), &igHandle{}, "instagram_chat_1", "hello")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "local_"))
}
