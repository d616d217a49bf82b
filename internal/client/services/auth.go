// Package services contains the application services of the sync engine:
// the Syncer, which owns reads, writes and queue delivery, and the
// AuthService, which decides between online sign-in and the offline
// fallback.
package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/cache"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/netmon"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/vault"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// ErrNoSession is returned by Start when neither the server nor the vault
// can provide a session.
var ErrNoSession = errors.New("no session")

// AuthService establishes the user session.
//
// Online, it signs in against the remote auth client and stores offline
// material (a salted password hash and the confirmed identity). Offline, it
// compares against that material and restores the stored identity in
// offline mode. When connectivity returns during an offline-mode session it
// quietly tries to confirm the session with the server.
type AuthService struct {
	auth    client.AuthClient
	vault   *vault.Vault
	monitor *netmon.Monitor
	syncer  *Syncer
	cache   *cache.Manager
	queue   *queue.Queue
	logger  logging.Logger

	mu        sync.Mutex
	current   *models.Session
	upgrading bool
	closed    bool

	// persistMu orders session changes together with their vault writes,
	// so an upgrade can never store a session after SignOut cleared it.
	persistMu sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   func()
}

func NewAuthService(
	auth client.AuthClient,
	v *vault.Vault,
	m *netmon.Monitor,
	s *Syncer,
	c *cache.Manager,
	q *queue.Queue,
	logger logging.Logger,
) *AuthService {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AuthService{
		auth:    auth,
		vault:   v,
		monitor: m,
		syncer:  s,
		cache:   c,
		queue:   q,
		logger:  logging.Module(logger, "auth"),
		baseCtx: ctx,
		cancel:  cancel,
	}
	a.unsub = m.Subscribe(func(st netmon.State) {
		if st.Online {
			a.upgradeAsync()
		}
	})
	return a
}

// Close stops a pending session upgrade and waits for it.
func (a *AuthService) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.unsub()
	a.cancel()
	a.wg.Wait()
}

// Current returns a copy of the active session or nil.
func (a *AuthService) Current() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	s := *a.current
	return &s
}

func (a *AuthService) setCurrent(s *models.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = s
}

// Start restores the session at process start. Online it asks the server
// to confirm the stored session; when that fails or the device is offline
// the stored session is restored in offline mode.
func (a *AuthService) Start(ctx context.Context) (*models.Session, error) {
	st := a.monitor.ProbeNow(ctx)

	stored, err := a.vault.Session(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNoSession
	}

	a.auth.Restore(stored)

	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	if st.Online {
		s, err := a.auth.CurrentSession(ctx)
		if err == nil && s != nil {
			if err := a.vault.SaveSession(ctx, s); err != nil {
				return nil, err
			}
			a.setCurrent(s)
			a.syncer.Resume(ctx)
			a.logger.Info(ctx, "session restored online", "email", s.Email)
			return a.Current(), nil
		}
		a.logger.Info(ctx, "online session restore failed, using offline session", "error", err)
	}

	stored.Offline = true
	a.setCurrent(stored)
	a.syncer.Resume(ctx)
	a.logger.Info(ctx, "session restored offline", "email", stored.Email)
	return a.Current(), nil
}

// SignIn authenticates online when the device is online and the server
// answers. A transient failure of the online attempt falls back to the
// offline comparison; rejections and bad credentials are returned.
func (a *AuthService) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if a.monitor.Current().Online {
		s, err := a.auth.SignIn(ctx, email, password)
		if err == nil {
			if err := a.establish(ctx, s, email, password); err != nil {
				return nil, err
			}
			a.logger.Info(ctx, "signed in online", "email", s.Email)
			return a.Current(), nil
		}
		if !client.IsRetryable(err) || errors.Is(err, client.ErrUnauthorized) {
			return nil, err
		}
		a.logger.Info(ctx, "server unavailable, trying offline sign-in", "error", err)
	}

	return a.offlineSignIn(ctx, email, password)
}

func (a *AuthService) establish(ctx context.Context, s *models.Session, email, password string) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	if err := a.vault.SaveSession(ctx, s); err != nil {
		return err
	}
	if err := a.vault.SaveCredentials(ctx, email, []byte(password)); err != nil {
		return err
	}
	a.setCurrent(s)
	a.syncer.Resume(ctx)
	return nil
}

func (a *AuthService) offlineSignIn(ctx context.Context, email, password string) (*models.Session, error) {
	cred, err := a.vault.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, client.ErrOfflineCredentialsUnavailable
	}

	pw := []byte(password)
	defer cryptox.Wipe(pw)

	hashOK := cryptox.VerifyPassword(pw, cred.Salt, cred.Hash)
	emailOK := subtle.ConstantTimeCompare([]byte(vault.NormalizeEmail(email)), []byte(cred.Email)) == 1
	if !hashOK || !emailOK {
		return nil, client.ErrOfflineCredentialsInvalid
	}

	stored, err := a.vault.Session(ctx)
	if err != nil {
		return nil, err
	}
	// a credential alone never yields a session
	if stored == nil || stored.Email != cred.Email {
		return nil, client.ErrOfflineCredentialsUnavailable
	}

	stored.Offline = true
	a.auth.Restore(stored)
	a.persistMu.Lock()
	a.setCurrent(stored)
	a.persistMu.Unlock()
	a.syncer.Resume(ctx)
	a.logger.Info(ctx, "signed in offline", "email", stored.Email)
	return a.Current(), nil
}

// SignOut suspends syncing and removes every trace of the session: tokens,
// offline material, cached reads and pending writes. The server is told on
// a best-effort basis.
func (a *AuthService) SignOut(ctx context.Context) error {
	a.syncer.Suspend(ctx)

	if a.monitor.Current().Online {
		if err := a.auth.SignOut(ctx); err != nil {
			a.logger.Warn(ctx, "remote sign-out failed", "error", err)
		}
	}
	a.persistMu.Lock()
	a.auth.Restore(nil)
	a.setCurrent(nil)

	var errs []error
	if err := a.vault.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	a.persistMu.Unlock()

	if err := a.cache.ClearAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.queue.Clear(ctx); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info(ctx, "signed out")
	return errors.Join(errs...)
}

func (a *AuthService) upgradeAsync() {
	a.mu.Lock()
	if a.closed || a.upgrading || a.current == nil || !a.current.Offline {
		a.mu.Unlock()
		return
	}
	a.upgrading = true
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			a.upgrading = false
			a.mu.Unlock()
		}()
		a.upgrade(a.baseCtx)
	}()
}

// upgrade swaps an offline-mode session for a server-confirmed one. Any
// failure leaves the offline session in place without telling the user.
func (a *AuthService) upgrade(ctx context.Context) {
	s, err := a.auth.CurrentSession(ctx)
	if err != nil || s == nil {
		a.logger.Debug(ctx, "session upgrade failed, staying offline", "error", err)
		return
	}

	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	a.mu.Lock()
	if a.current == nil || !a.current.Offline || vault.NormalizeEmail(s.Email) != a.current.Email {
		a.mu.Unlock()
		return
	}
	a.current = s
	a.mu.Unlock()

	if err := a.vault.SaveSession(ctx, s); err != nil {
		a.logger.Warn(ctx, "failed to store upgraded session", "error", err)
	}
	a.logger.Info(ctx, "session upgraded online", "email", s.Email)
}
