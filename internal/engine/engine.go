// Package engine orchestrates platform adapters: account onboarding, session
// restoration, inbound message routing and outbound sends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
	"github.com/and161185/cross-messenger/internal/platform"
	"github.com/and161185/cross-messenger/internal/repository"
	"github.com/and161185/cross-messenger/internal/vault"
)

// Fanouter delivers an event to every live channel of a user.
// Implemented by registry.Registry.
type Fanouter interface {
	Fanout(ctx context.Context, userID uuid.UUID, ev model.Event)
}

// Options tune listener and backfill behavior.
type Options struct {
	BackfillLimit    int
	ListenerRetries  uint64
	ListenerBaseWait time.Duration
}

func (o *Options) fill() {
	if o.BackfillLimit <= 0 {
		o.BackfillLimit = 50
	}
	if o.ListenerRetries == 0 {
		o.ListenerRetries = 5
	}
	if o.ListenerBaseWait <= 0 {
		o.ListenerBaseWait = 2 * time.Second
	}
}

// liveAccount is the runtime side of an active listener account.
type liveAccount struct {
	handle platform.Handle
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine is the aggregation core. The live-handle map and the state map are
// the only mutable shared state; no I/O happens while holding their lock.
type Engine struct {
	log      *zap.Logger
	store    repository.ChatStore
	vault    *vault.Vault
	reg      Fanouter
	adapters map[string]platform.Adapter
	opts     Options

	mu     sync.Mutex
	live   map[uuid.UUID]*liveAccount
	states map[uuid.UUID]model.AccountState

	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New constructs an engine over the given adapters.
func New(log *zap.Logger, store repository.ChatStore, v *vault.Vault, reg Fanouter, adapters []platform.Adapter, opts Options) *Engine {
	opts.fill()
	byTag := make(map[string]platform.Adapter, len(adapters))
	for _, a := range adapters {
		byTag[a.Platform()] = a
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		log:        log,
		store:      store,
		vault:      v,
		reg:        reg,
		adapters:   byTag,
		opts:       opts,
		live:       make(map[uuid.UUID]*liveAccount),
		states:     make(map[uuid.UUID]model.AccountState),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// BeginOnboarding starts a platform auth exchange for the user.
func (e *Engine) BeginOnboarding(ctx context.Context, userID uuid.UUID, platformTag, identityHint string) (string, error) {
	ad, ok := e.adapters[platformTag]
	if !ok {
		return "", fmt.Errorf("platform %q: %w", platformTag, errs.ErrNotFound)
	}
	return ad.BeginOnboarding(ctx, userID, identityHint)
}

// CompleteOnboarding finishes the exchange, persists the account with its
// session encrypted at rest, runs the initial backlog sync and, for listener
// platforms, starts the background listen task.
func (e *Engine) CompleteOnboarding(ctx context.Context, userID uuid.UUID, platformTag, challenge, proof string) (uuid.UUID, error) {
	ad, ok := e.adapters[platformTag]
	if !ok {
		return uuid.Nil, fmt.Errorf("platform %q: %w", platformTag, errs.ErrNotFound)
	}

	ob, err := ad.CompleteOnboarding(ctx, challenge, proof)
	if err != nil {
		return uuid.Nil, err
	}

	enc, err := e.vault.Encrypt(ob.Session)
	if err != nil {
		return uuid.Nil, err
	}
	accountID, err := e.store.UpsertAccount(ctx, userID, platformTag, ob.PlatformAccountID, enc)
	if err != nil {
		return uuid.Nil, err
	}

	if err := ad.Backfill(ctx, ob.Handle, e.sinkFor(accountID), e.opts.BackfillLimit); err != nil {
		e.log.Warn("backfill failed",
			zap.String("account_id", accountID.String()),
			zap.String("platform", platformTag),
			zap.Error(err))
	}

	if ad.Listener() {
		e.startListener(accountID, ad, ob.Handle)
	} else {
		e.setState(accountID, model.StateActive)
	}
	e.log.Info("account onboarded",
		zap.String("account_id", accountID.String()),
		zap.String("platform", platformTag))
	return accountID, nil
}

// RestoreAllSessions revives every persisted listener account at startup.
// Restoration is independent per account: one failure is logged and reflected
// in the account state, never blocking the rest.
func (e *Engine) RestoreAllSessions(ctx context.Context) error {
	var listeners []string
	for tag, ad := range e.adapters {
		if ad.Listener() {
			listeners = append(listeners, tag)
		}
	}
	if len(listeners) == 0 {
		return nil
	}

	accounts, err := e.store.ListAccountsByPlatforms(ctx, listeners)
	if err != nil {
		return err
	}
	for i := range accounts {
		e.restoreOne(ctx, &accounts[i])
	}
	return nil
}

func (e *Engine) restoreOne(ctx context.Context, acc *model.Account) {
	ad := e.adapters[acc.Platform]
	log := e.log.With(
		zap.String("account_id", acc.ID.String()),
		zap.String("platform", acc.Platform),
	)

	sess, err := e.vault.Decrypt(acc.SessionEnc)
	if err != nil {
		// Unreadable credential is as good as a rejected session.
		log.Warn("session decrypt failed, account requires re-onboarding", zap.Error(err))
		e.setState(acc.ID, model.StateExpired)
		return
	}

	h, err := ad.RestoreSession(ctx, sess)
	switch {
	case err == nil:
		e.startListener(acc.ID, ad, h)
		log.Info("session restored")
	case errors.Is(err, errs.ErrSessionExpired):
		log.Warn("platform rejected stored session")
		e.setState(acc.ID, model.StateExpired)
	default:
		log.Error("session restore failed", zap.Error(err))
		e.setState(acc.ID, model.StateDegraded)
	}
}

// OnMessageReceived is the single choke point for inbound messages: it
// resolves (creating if unseen) the owning chat, persists the message, and
// only then fans it out to the owner's live connections.
func (e *Engine) OnMessageReceived(ctx context.Context, accountID uuid.UUID, msg model.NewMessage) error {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	title := msg.ChatTitle
	if title == "" {
		title = "Unknown Chat"
	}
	chatID, err := e.store.UpsertChat(ctx, acc.ID, msg.PlatformChatID, title)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	if _, err := e.store.AppendMessage(ctx, &model.Message{
		ChatID:            chatID,
		Platform:          acc.Platform,
		PlatformMessageID: msg.PlatformMessageID,
		SenderID:          msg.SenderID,
		SenderName:        msg.SenderName,
		Text:              msg.Text,
		Attachments:       msg.Attachments,
		Timestamp:         msg.Timestamp,
		Status:            model.StatusDelivered,
	}); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	e.reg.Fanout(ctx, acc.UserID, model.Event{
		Type:       model.EventNewMessage,
		Platform:   acc.Platform,
		ChatID:     msg.PlatformChatID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Timestamp:  msg.Timestamp.UTC().Format(time.RFC3339),
	})
	return nil
}

// SendMessage delivers text through the owning adapter and records the sent
// message locally so the sender's history stays consistent on platforms
// without echo. Ownership failures surface as errs.ErrForbidden before any
// mutation.
func (e *Engine) SendMessage(ctx context.Context, userID, accountID, chatID uuid.UUID, text string) (uuid.UUID, error) {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return uuid.Nil, err
	}
	if acc.UserID != userID {
		return uuid.Nil, errs.ErrForbidden
	}
	chat, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return uuid.Nil, err
	}
	if chat.AccountID != accountID {
		return uuid.Nil, errs.ErrForbidden
	}

	ad, h, err := e.handleFor(ctx, acc)
	if err != nil {
		return uuid.Nil, err
	}

	pmid, err := ad.Send(ctx, h, chat.PlatformChatID, text)
	if err != nil {
		return uuid.Nil, err
	}

	msgID, err := e.store.AppendMessage(ctx, &model.Message{
		ChatID:            chatID,
		Platform:          acc.Platform,
		PlatformMessageID: pmid,
		SenderID:          acc.PlatformAccountID,
		SenderName:        "You",
		Text:              text,
		Timestamp:         time.Now().UTC(),
		Status:            model.StatusSent,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("record sent message: %w", err)
	}
	return msgID, nil
}

// DisconnectAccount stops the background task (bounded wait), then removes the
// account and everything under it.
func (e *Engine) DisconnectAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	acc, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.UserID != userID {
		return errs.ErrForbidden
	}

	e.stopListener(accountID)
	if err := e.store.DeleteAccount(ctx, userID, accountID); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.states, accountID)
	e.mu.Unlock()
	e.log.Info("account disconnected", zap.String("account_id", accountID.String()))
	return nil
}

// ListAccounts returns the user's accounts with their runtime state attached.
func (e *Engine) ListAccounts(ctx context.Context, userID uuid.UUID) ([]model.Account, error) {
	accounts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range accounts {
		if st, ok := e.states[accounts[i].ID]; ok {
			accounts[i].State = st
			continue
		}
		if ad, ok := e.adapters[accounts[i].Platform]; ok && !ad.Listener() {
			accounts[i].State = model.StateActive
		} else {
			accounts[i].State = model.StateDisconnected
		}
	}
	return accounts, nil
}

// Shutdown cancels all listen tasks and waits for them, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.baseCancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) sinkFor(accountID uuid.UUID) platform.Sink {
	return func(ctx context.Context, msg model.NewMessage) error {
		return e.OnMessageReceived(ctx, accountID, msg)
	}
}

func (e *Engine) setState(accountID uuid.UUID, st model.AccountState) {
	e.mu.Lock()
	e.states[accountID] = st
	e.mu.Unlock()
}

// handleFor returns the live handle for an account, restoring an ephemeral
// session when no listener is running (stub platforms, degraded accounts).
func (e *Engine) handleFor(ctx context.Context, acc *model.Account) (platform.Adapter, platform.Handle, error) {
	ad, ok := e.adapters[acc.Platform]
	if !ok {
		return nil, nil, fmt.Errorf("platform %q: %w", acc.Platform, errs.ErrNotFound)
	}

	e.mu.Lock()
	la := e.live[acc.ID]
	e.mu.Unlock()
	if la != nil {
		return ad, la.handle, nil
	}

	sess, err := e.vault.Decrypt(acc.SessionEnc)
	if err != nil {
		return nil, nil, err
	}
	h, err := ad.RestoreSession(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return ad, h, nil
}

// startListener registers the live handle and launches the listen task. A
// previous task for the same account is stopped first (re-onboarding).
func (e *Engine) startListener(accountID uuid.UUID, ad platform.Adapter, h platform.Handle) {
	e.stopListener(accountID)

	lctx, cancel := context.WithCancel(e.baseCtx)
	la := &liveAccount{handle: h, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.live[accountID] = la
	e.states[accountID] = model.StateActive
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runListener(lctx, la, accountID, ad)
}

// runListener drives the listen loop with bounded exponential backoff on
// transient failures. Session rejection and exhausted retries surface in the
// account state, never into an unrelated caller's request.
func (e *Engine) runListener(ctx context.Context, la *liveAccount, accountID uuid.UUID, ad platform.Adapter) {
	defer e.wg.Done()
	defer close(la.done)

	log := e.log.With(
		zap.String("account_id", accountID.String()),
		zap.String("platform", ad.Platform()),
	)
	sink := e.sinkFor(accountID)

	backoff := retry.WithMaxRetries(e.opts.ListenerRetries, retry.NewExponential(e.opts.ListenerBaseWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := ad.Listen(ctx, la.handle, sink)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, errs.ErrSessionExpired) {
			return err
		}
		log.Warn("listener failed, reconnecting", zap.Error(err))
		return retry.RetryableError(err)
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		// clean stop (disconnect or shutdown)
	case errors.Is(err, errs.ErrSessionExpired):
		log.Warn("session rejected, account requires re-onboarding")
		e.setState(accountID, model.StateExpired)
	default:
		log.Error("listener gave up", zap.Error(err))
		e.setState(accountID, model.StateDegraded)
	}

	e.mu.Lock()
	if e.live[accountID] == la {
		delete(e.live, accountID)
	}
	e.mu.Unlock()
	_ = la.handle.Close()
}

// stopListener cancels the listen task and waits for it to confirm, bounded.
func (e *Engine) stopListener(accountID uuid.UUID) {
	e.mu.Lock()
	la := e.live[accountID]
	if la != nil {
		delete(e.live, accountID)
	}
	e.mu.Unlock()
	if la == nil {
		return
	}

	la.cancel()
	select {
	case <-la.done:
	case <-time.After(5 * time.Second):
		e.log.Warn("listener did not stop in time", zap.String("account_id", accountID.String()))
	}
}
