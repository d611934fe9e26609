package session

import (
	"context"
	"time"

	"clubadmin/internal/admin/device"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	"clubadmin/internal/docstore"
	"clubadmin/internal/resilient"
	dErrors "clubadmin/pkg/domain-errors"
)

// Verify checks the token of the pending login and, on success, establishes
// the session. Failures leave the machine in PendingToken except lockout,
// which ends the pending login.
func (m *Machine) Verify(ctx context.Context, input string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()

	pending := m.currentPending()
	if m.currentState() != models.StatePendingToken || pending == nil {
		return dErrors.New(dErrors.CodeBadRequest, "no pending sign-in")
	}

	if err := m.tokens.Verify(ctx, pending.Email, input); err != nil {
		m.warnIfDegraded(false)
		if dErrors.HasCode(err, dErrors.CodeTokenLockout) {
			if serr := m.provider.SignOut(ctx); serr != nil {
				m.logger.WarnContext(ctx, "provider sign-out after lockout failed", "error", serr)
			}
			_ = m.clearPending(ctx)
			m.setState(models.StateSignedOut)
			m.metrics.IncSignIn("lockout")
		}
		return m.fail(ctx, err, "")
	}
	return m.establish(ctx, *pending)
}

// establish persists the session and the admin profile. When the profile
// cannot be written on either path the session is rolled back and the user
// must sign in again.
func (m *Machine) establish(ctx context.Context, pending models.PendingAdmin) error {
	now := m.now()
	expiry := now.Add(m.cfg.SessionTimeout)

	if err := m.saveSession(ctx, models.SessionRecord{UID: pending.UID, Expiry: expiry.UnixMilli()}); err != nil {
		return m.abortSignIn(ctx, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to persist session"))
	}

	profile := models.AdminProfileRecord{
		UID:             pending.UID,
		Email:           pending.Email,
		Name:            pending.Name,
		PhotoURL:        pending.PhotoURL,
		Role:            models.RoleAdmin,
		Verified:        true,
		LastLogin:       now.UTC().Format(time.RFC3339),
		Permissions:     m.cfg.Permissions,
		LastLoginDevice: device.Name(ctx),
	}
	doc, err := docstore.Encode(profile)
	if err != nil {
		return m.abortSignIn(ctx, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode admin profile"))
	}
	src, err := m.profiles.Set(ctx, models.CollectionAdmins, pending.UID, doc, true)
	if err != nil {
		return m.abortSignIn(ctx, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to save admin profile"))
	}
	m.warnIfDegraded(src == resilient.SourceFallback)

	_ = m.clearPending(ctx)
	m.mu.Lock()
	m.state = models.StateAuthenticated
	m.expiry = expiry
	m.admin = &profile
	m.mu.Unlock()
	m.startTicker()

	m.metrics.IncSignIn("success")
	m.logAudit(ctx, "admin_signed_in", "uid", profile.UID, "device", profile.LastLoginDevice)
	m.record(ctx, &profile, models.ActionLogin, map[string]any{"device": profile.LastLoginDevice})
	m.notes.Push(notify.LevelSuccess, "Signed in as "+profile.Email+".", "")
	return nil
}

func (m *Machine) abortSignIn(ctx context.Context, err error) error {
	if rerr := m.durable.Remove(ctx, models.KeyAdminSession); rerr != nil {
		m.logger.ErrorContext(ctx, "failed to roll back session record", "error", rerr)
	}
	_ = m.clearPending(ctx)
	m.setState(models.StateSignedOut)
	m.metrics.IncSignIn("store_error")
	return m.fail(ctx, err, "Could not save your admin profile. Please sign in again.")
}
