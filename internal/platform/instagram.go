package platform

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/cross-messenger/internal/crypto"
	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
)

const (
	igAuthorizeURL = "https://api.instagram.com/oauth/authorize"
	igTokenURL     = "https://api.instagram.com/oauth/access_token"
)

// InstagramConfig holds the OAuth app credentials.
type InstagramConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string
}

// Instagram is the stub/limited-access adapter: onboarding performs a one-time
// OAuth token exchange, there is no inbound stream, and sends are recorded
// locally without contacting the platform. Accounts of this adapter must not
// expect real delivery confirmation.
type Instagram struct {
	log  *zap.Logger
	cfg  InstagramConfig
	http *http.Client

	mu      sync.Mutex
	pending map[string]tgPending
}

// NewInstagram constructs the Instagram adapter.
func NewInstagram(log *zap.Logger, cfg InstagramConfig) *Instagram {
	return &Instagram{
		log:     log,
		cfg:     cfg,
		http:    &http.Client{Timeout: 15 * time.Second},
		pending: make(map[string]tgPending),
	}
}

// Platform returns the platform tag.
func (i *Instagram) Platform() string { return model.PlatformInstagram }

// Listener reports that Instagram has no inbound event stream.
func (i *Instagram) Listener() bool { return false }

// BeginOnboarding returns the OAuth authorize URL; the state parameter doubles
// as the challenge token.
func (i *Instagram) BeginOnboarding(_ context.Context, userID uuid.UUID, _ string) (string, error) {
	raw, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	state := hex.EncodeToString(raw)

	i.mu.Lock()
	for k, p := range i.pending {
		if time.Since(p.created) > onboardingTTL {
			delete(i.pending, k)
		}
	}
	i.pending[state] = tgPending{userID: userID, created: time.Now()}
	i.mu.Unlock()

	q := url.Values{
		"client_id":     {i.cfg.AppID},
		"redirect_uri":  {i.cfg.RedirectURL},
		"scope":         {"instagram_basic"},
		"response_type": {"code"},
		"state":         {state},
	}
	return igAuthorizeURL + "?" + q.Encode(), nil
}

// CompleteOnboarding exchanges the OAuth code (proof) for an access token.
func (i *Instagram) CompleteOnboarding(ctx context.Context, challenge, proof string) (*Onboarded, error) {
	// The challenge arrives back as the state query parameter; accept the
	// full authorize URL too in case the caller echoes it verbatim.
	state := challenge
	if u, err := url.Parse(challenge); err == nil && u.Query().Get("state") != "" {
		state = u.Query().Get("state")
	}

	i.mu.Lock()
	p, ok := i.pending[state]
	delete(i.pending, state)
	i.mu.Unlock()
	if !ok || time.Since(p.created) > onboardingTTL {
		return nil, fmt.Errorf("unknown or expired state: %w", errs.ErrAuthRejected)
	}

	form := url.Values{
		"client_id":     {i.cfg.AppID},
		"client_secret": {i.cfg.AppSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {i.cfg.RedirectURL},
		"code":          {proof},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, igTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID json.Number `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("token exchange decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return nil, fmt.Errorf("token exchange rejected (status %d): %w", resp.StatusCode, errs.ErrAuthRejected)
	}

	accountID := body.User.ID.String()
	if accountID == "" {
		accountID = "unknown"
	}
	return &Onboarded{
		PlatformAccountID: accountID,
		Session:           []byte(body.AccessToken),
		Handle:            &igHandle{},
	}, nil
}

// RestoreSession wraps the stored token. The Graph API offers no cheap
// validation call for this scope, so expiry surfaces on first use.
func (i *Instagram) RestoreSession(_ context.Context, _ []byte) (Handle, error) {
	return &igHandle{}, nil
}

// Listen blocks until cancelled; there is no inbound stream to drain.
func (i *Instagram) Listen(ctx context.Context, _ Handle, _ Sink) error {
	<-ctx.Done()
	return ctx.Err()
}

// Backfill seeds placeholder chats while DM access is unavailable in the
// Graph API, mirroring what a real history sync would produce.
func (i *Instagram) Backfill(ctx context.Context, _ Handle, sink Sink, _ int) error {
	seed := []struct{ chatID, title string }{
		{"instagram_chat_1", "Instagram Chat 1"},
		{"instagram_chat_2", "Instagram Chat 2"},
	}
	for _, s := range seed {
		msg := model.NewMessage{
			PlatformChatID:    s.chatID,
			ChatTitle:         s.title,
			PlatformMessageID: "seed_" + s.chatID,
			SenderID:          "instagram",
			SenderName:        "Instagram",
			Text:              "Direct message history is not available for this account yet.",
			Timestamp:         time.Now().UTC(),
		}
		if err := sink(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Send records the outgoing text locally; the platform is never contacted.
// The caller stores the message under the returned locally generated id.
func (i *Instagram) Send(_ context.Context, _ Handle, platformChatID, _ string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	i.log.Info("instagram send recorded locally", zap.String("chat_id", platformChatID))
	return "local_" + id.String(), nil
}

type igHandle struct{}

func (h *igHandle) Close() error { return nil }
