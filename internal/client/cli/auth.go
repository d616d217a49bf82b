package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

var errPendingWrites = errors.New("writes are not synced yet")

func sessionMode(s *models.Session) string {
	if s.Offline {
		return "offline mode"
	}
	return "online"
}

// restoreSession resumes the stored session, or asks for credentials when
// there is none.
func (a *App) restoreSession(ctx context.Context) {
	s, err := a.auth.Start(ctx)
	if err == nil {
		a.printf("Welcome back, %s (%s)", s.Email, sessionMode(s))
		return
	}
	if !errors.Is(err, services.ErrNoSession) {
		a.printf("error: %v", err)
		return
	}
	if err := a.Login(ctx); err != nil {
		a.printf("error: %v", err)
	}
}

// Login prompts for credentials and signs in. When the server cannot be
// reached the password is checked against the offline credential stored by
// the last online sign-in on this device.
//
// The password is wiped before returning.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a)
	if err != nil {
		return err
	}

	password, err := getPassword(a)
	if err != nil {
		return err
	}
	defer cryptox.Wipe(password)

	s, err := a.auth.SignIn(ctx, email, string(password))
	switch {
	case errors.Is(err, client.ErrOfflineCredentialsUnavailable):
		return fmt.Errorf("server unreachable and no offline login is stored on this device: %w", err)
	case errors.Is(err, client.ErrOfflineCredentialsInvalid):
		return fmt.Errorf("wrong email or password (checked offline): %w", err)
	case errors.Is(err, client.ErrUnauthorized):
		return fmt.Errorf("wrong email or password: %w", err)
	case err != nil:
		return err
	}

	a.printf("Signed in as %s (%s)", s.Email, sessionMode(s))
	return nil
}

// Logout signs out and wipes local data, pending writes included. It refuses
// while writes are pending unless called with --force.
func (a *App) Logout(ctx context.Context, args []string) error {
	force := len(args) == 1 && args[0] == "--force"
	if len(args) > 0 && !force {
		return usageError("logout [--force]")
	}

	if n := a.syncer.PendingCount(); n > 0 && !force {
		return fmt.Errorf("%w: %d pending, run sync or use logout --force", errPendingWrites, n)
	}

	if err := a.auth.SignOut(ctx); err != nil {
		return err
	}
	a.printf("Signed out")
	return nil
}

// Status prints the session, connectivity and queue state.
func (a *App) Status(ctx context.Context) error {
	user := "not signed in"
	if cur := a.auth.Current(); cur != nil {
		user = fmt.Sprintf("%s (%s)", cur.Email, sessionMode(cur))
	}

	a.printf("User:    %s", user)
	a.printf("Network: %s", onlineLabel(a.network.Current().Online))
	a.printf("Sync:    %s", a.syncer.State())
	a.printf("Pending: %d", a.syncer.PendingCount())
	return nil
}
