package session

import (
	"context"
	"errors"
	"time"

	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	dErrors "clubadmin/pkg/domain-errors"
)

// Start resolves the initial state: a valid session whose profile is still
// verified restores Authenticated, a stored pending login resumes, anything
// else settles on SignedOut.
func (m *Machine) Start(ctx context.Context) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()
	defer m.markReady()

	m.mu.Lock()
	m.resolving = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.resolving = false
		m.mu.Unlock()
	}()

	if m.restore(ctx) {
		return nil
	}
	if m.resumeSentToken(ctx) {
		return nil
	}
	return m.resumeUnsent(ctx)
}

// restore never escalates: without a readable, verified profile the session
// stays signed out.
func (m *Machine) restore(ctx context.Context) bool {
	rec, err := m.loadSession(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read session record", "error", err)
		return false
	}
	if rec == nil {
		return false
	}
	if !rec.Valid(m.now()) {
		m.discardSession(ctx, "expired")
		return false
	}

	profile, err := m.readProfile(ctx, rec.UID)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		m.discardSession(ctx, "profile_missing")
		return false
	case err != nil:
		// Keep the record: the store may answer on the next start.
		m.logger.WarnContext(ctx, "could not validate stored session", "error", err)
		return false
	case !profile.Verified:
		m.discardSession(ctx, "profile_unverified")
		return false
	}

	m.mu.Lock()
	m.state = models.StateAuthenticated
	m.expiry = rec.ExpiresAt()
	m.admin = profile
	m.mu.Unlock()
	m.startTicker()
	m.logAudit(ctx, "admin_session_restored", "uid", profile.UID)
	return true
}

func (m *Machine) discardSession(ctx context.Context, reason string) {
	if err := m.durable.Remove(ctx, models.KeyAdminSession); err != nil {
		m.logger.WarnContext(ctx, "failed to remove stale session", "error", err)
	}
	m.logger.InfoContext(ctx, "discarded stored session", "reason", reason)
}

// Logout signs out at the provider and clears every local trace of the
// session. Local state is cleared even when the provider sign-out fails.
func (m *Machine) Logout(ctx context.Context) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()

	m.mu.RLock()
	admin := m.admin
	m.mu.RUnlock()

	err := m.endSession(ctx)
	if admin != nil {
		m.record(ctx, admin, models.ActionLogout, nil)
		m.logAudit(ctx, "admin_signed_out", "uid", admin.UID)
	}
	m.notes.Push(notify.LevelInfo, "You have been signed out.", "")
	return err
}

// endSession returns the machine to SignedOut. Only local persistence errors
// are returned.
func (m *Machine) endSession(ctx context.Context) error {
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.WarnContext(ctx, "provider sign-out failed", "error", err)
	}
	m.stopTickerLocked()

	m.mu.RLock()
	admin := m.admin
	m.mu.RUnlock()

	var errs []error
	if admin != nil {
		if err := m.removeSession(ctx, admin.UID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.clearPending(ctx); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.state = models.StateSignedOut
	m.admin = nil
	m.expiry = time.Time{}
	m.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear local session state")
	}
	return nil
}

// removeSession deletes the browser's session record unless it belongs to
// another sign-in. A corrupt record is removed.
func (m *Machine) removeSession(ctx context.Context, uid string) error {
	rec, err := m.loadSession(ctx)
	if err != nil {
		return err
	}
	if rec == nil || (rec.UID != "" && rec.UID != uid) {
		return nil
	}
	return m.durable.Remove(ctx, models.KeyAdminSession)
}

// ExtendSession moves the session expiry to now + d.
func (m *Machine) ExtendSession(ctx context.Context, d time.Duration) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()

	if d <= 0 {
		d = m.cfg.SessionTimeout
	}
	m.syncLocked(ctx)
	if m.currentState() != models.StateAuthenticated {
		return dErrors.New(dErrors.CodeUnauthorized, "not signed in")
	}

	m.mu.RLock()
	admin := m.admin
	m.mu.RUnlock()

	expiry := m.now().Add(d)
	if err := m.saveSession(ctx, models.SessionRecord{UID: admin.UID, Expiry: expiry.UnixMilli()}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to extend session")
	}
	m.mu.Lock()
	m.expiry = expiry
	m.mu.Unlock()
	m.record(ctx, admin, models.ActionSessionExtended, map[string]any{"minutes": int(d / time.Minute)})
	return nil
}

func (m *Machine) sessionExpired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == models.StateAuthenticated && !m.now().Before(m.expiry)
}

// trySync reconciles with the session record unless an operation is in flight.
func (m *Machine) trySync(ctx context.Context) {
	if !m.op.TryLock() {
		return
	}
	defer m.op.Unlock()
	m.syncLocked(ctx)
}

// syncLocked adopts the browser's session record. The record is shared by
// every tab: a missing or foreign record ends this tab's session, a changed
// expiry replaces the in-memory one. On a read failure only the in-memory
// expiry is checked. The operation lock must be held.
func (m *Machine) syncLocked(ctx context.Context) {
	m.mu.RLock()
	admin := m.admin
	state := m.state
	m.mu.RUnlock()
	if state != models.StateAuthenticated || admin == nil {
		return
	}

	rec, err := m.loadSession(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read session record", "error", err)
		m.expireLocked(ctx)
		return
	}
	if rec == nil || rec.UID != admin.UID {
		m.dropSession(ctx, admin)
		return
	}
	m.mu.Lock()
	if m.expiry.UnixMilli() != rec.Expiry {
		m.expiry = rec.ExpiresAt()
	}
	m.mu.Unlock()
	m.expireLocked(ctx)
}

// dropSession ends a session another tab already closed. The shared record is
// left alone: it is gone or belongs to another sign-in.
func (m *Machine) dropSession(ctx context.Context, admin *models.AdminProfileRecord) {
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.WarnContext(ctx, "provider sign-out failed", "error", err)
	}
	m.stopTickerLocked()
	m.mu.Lock()
	m.state = models.StateSignedOut
	m.admin = nil
	m.expiry = time.Time{}
	m.mu.Unlock()
	m.logAudit(ctx, "admin_session_ended_elsewhere", "uid", admin.UID)
	m.notes.Push(notify.LevelInfo, "You have been signed out in another tab.", "")
}

// expireLocked ends an expired session. The operation lock must be held.
func (m *Machine) expireLocked(ctx context.Context) bool {
	if !m.sessionExpired() {
		return false
	}
	m.mu.RLock()
	admin := m.admin
	m.mu.RUnlock()

	if err := m.endSession(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to clear expired session", "error", err)
	}
	m.record(ctx, admin, models.ActionSessionExpired, nil)
	m.notes.Push(notify.LevelWarning, "Your session has expired. Please sign in again.", "session_expired")
	return true
}

// startTicker (re)starts the periodic expiry check. The operation lock must be held.
func (m *Machine) startTicker() {
	m.stopTickerLocked()
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.stopTicker = cancel
	interval := m.cfg.CheckInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.trySync(m.baseCtx)
			}
		}
	}()
}

func (m *Machine) stopTickerLocked() {
	if m.stopTicker != nil {
		m.stopTicker()
		m.stopTicker = nil
	}
}

// onIdentityChanged refreshes the profile when the provider reports the
// signed-in admin again. A profile that lost verified ends the session.
// Changes raised by the machine's own operations are skipped.
func (m *Machine) onIdentityChanged(id *models.AdminIdentity) {
	if id == nil || !m.op.TryLock() {
		return
	}
	defer m.op.Unlock()

	m.mu.RLock()
	admin := m.admin
	state := m.state
	m.mu.RUnlock()
	if state != models.StateAuthenticated || admin == nil || admin.UID != id.UID {
		return
	}

	ctx := m.baseCtx
	profile, err := m.readProfile(ctx, id.UID)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		m.logger.WarnContext(ctx, "failed to refresh admin profile", "error", err)
		return
	}
	if err == nil && profile.Verified {
		m.mu.Lock()
		m.admin = profile
		m.mu.Unlock()
		return
	}

	if err := m.endSession(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to clear revoked session", "error", err)
	}
	m.record(ctx, admin, models.ActionLogout, map[string]any{"reason": "profile_unverified"})
	m.notes.Push(notify.LevelError, "Admin access was revoked. Please sign in again.", string(dErrors.CodeUnauthorized))
}
