// Package vault keeps the material needed to sign in without the network:
// one salted hash of the last password that signed in online and the last
// identity the server confirmed. Writes are serialized.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
)

const (
	credentialKey = "vault/credential"
	sessionKey    = "vault/session"
)

type Vault struct {
	store store.Store
	now   func() time.Time
	mu    sync.Mutex
}

func New(s store.Store) *Vault {
	return &Vault{store: s, now: time.Now}
}

// NormalizeEmail is the form emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SaveCredentials replaces the stored credential with a fresh salt and the
// argon2id hash of password. The plaintext is not kept.
func (v *Vault) SaveCredentials(ctx context.Context, email string, password []byte) error {
	salt := cryptox.NewSalt()
	cred := models.OfflineCredential{
		Email:   NormalizeEmail(email),
		Salt:    salt,
		Hash:    cryptox.HashPassword(password, salt),
		SavedAt: v.now().UTC(),
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.putJSON(ctx, credentialKey, cred)
}

// Credentials returns the stored credential or nil.
func (v *Vault) Credentials(ctx context.Context) (*models.OfflineCredential, error) {
	cred := &models.OfflineCredential{}
	ok, err := v.getJSON(ctx, credentialKey, cred)
	if err != nil || !ok {
		return nil, err
	}
	return cred, nil
}

// SaveSession stores s as the identity to restore offline.
func (v *Vault) SaveSession(ctx context.Context, s *models.Session) error {
	stored := *s
	stored.Email = NormalizeEmail(s.Email)
	if stored.SavedAt.IsZero() {
		stored.SavedAt = v.now().UTC()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.putJSON(ctx, sessionKey, stored)
}

// Session returns the stored session or nil. Offline is never set here;
// the caller decides how the session is being used.
func (v *Vault) Session(ctx context.Context) (*models.Session, error) {
	s := &models.Session{}
	ok, err := v.getJSON(ctx, sessionKey, s)
	if err != nil || !ok {
		return nil, err
	}
	return s, nil
}

// Clear removes both the credential and the session.
func (v *Vault) Clear(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.Delete(ctx, sessionKey); err != nil {
		return err
	}
	return v.store.Delete(ctx, credentialKey)
}

func (v *Vault) putJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return v.store.Put(ctx, key, raw)
}

func (v *Vault) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := v.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: failed to decode %s: %w", store.ErrLocalStorage, key, err)
	}
	return true, nil
}
