package session

import (
	"context"
	"errors"

	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	dErrors "clubadmin/pkg/domain-errors"
)

// BeginResult is the outcome of BeginSignIn. RedirectURL is set when the
// popup failed and the client must navigate to the provider instead.
type BeginResult struct {
	RedirectURL string `json:"redirectUrl,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}

// BeginSignIn starts a sign-in with the popup result the client collected.
// A closed popup resolves to SignedOut silently; any other popup failure falls
// back to the redirect flow once.
func (m *Machine) BeginSignIn(ctx context.Context, popup identity.PopupResult) (*BeginResult, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.op.Unlock()

	switch m.currentState() {
	case models.StateAuthenticated:
		return nil, dErrors.New(dErrors.CodeConflict, "already signed in")
	case models.StateLoading:
		return nil, dErrors.New(dErrors.CodeConflict, "session is still loading")
	case models.StatePendingToken:
		// Starting over replaces the pending login.
		_ = m.clearPending(ctx)
	}
	m.setState(models.StatePendingIdentity)

	id, err := m.provider.SignInPopup(ctx, popup)
	if errors.Is(err, identity.ErrPopupClosed) {
		m.setState(models.StateSignedOut)
		return &BeginResult{Cancelled: true}, nil
	}
	if err != nil {
		m.logger.InfoContext(ctx, "popup sign-in failed, falling back to redirect", "error", err)
		return m.beginRedirect(ctx)
	}
	if err := m.identityConfirmed(ctx, *id); err != nil {
		return nil, err
	}
	return &BeginResult{}, nil
}

func (m *Machine) beginRedirect(ctx context.Context) (*BeginResult, error) {
	nonce := m.newNonce()
	if err := m.volatile.Set(ctx, models.KeyAuthRedirectInitiated, nonce); err != nil {
		m.setState(models.StateSignedOut)
		m.metrics.IncSignIn("identity_error")
		return nil, m.fail(ctx, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "could not start redirect sign-in"),
			"Sign-in failed. Please try again.")
	}
	url, err := m.provider.SignInRedirect(ctx, nonce)
	if err != nil {
		_ = m.removeVolatile(ctx, models.KeyAuthRedirectInitiated)
		m.setState(models.StateSignedOut)
		m.metrics.IncSignIn("identity_error")
		return nil, m.fail(ctx, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "sign-in failed"),
			"Sign-in failed. Please try again.")
	}
	return &BeginResult{RedirectURL: url}, nil
}

// Resume continues a sign-in after the client returns from the provider's
// redirect. A pending login whose token was already sent resumes without a
// re-issue; otherwise the redirect result, when present, confirms the identity.
func (m *Machine) Resume(ctx context.Context, cb identity.RedirectCallback) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()

	if m.currentState() == models.StateAuthenticated {
		return nil
	}
	if resumed := m.resumeSentToken(ctx); resumed {
		return nil
	}

	if !cb.Empty() {
		marker, ok, err := m.volatile.Get(ctx, models.KeyAuthRedirectInitiated)
		_ = m.removeVolatile(ctx, models.KeyAuthRedirectInitiated)
		if err != nil || !ok || marker != cb.State {
			m.setState(models.StateSignedOut)
			m.metrics.IncSignIn("identity_error")
			return m.fail(ctx, dErrors.New(dErrors.CodeIdentityProvider, "sign-in state mismatch"),
				"Sign-in could not be completed. Please try again.")
		}
		id, err := m.provider.GetRedirectResult(ctx, cb)
		if err != nil {
			m.setState(models.StateSignedOut)
			m.metrics.IncSignIn("identity_error")
			return m.fail(ctx, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "sign-in failed"),
				"Sign-in failed. Please try again.")
		}
		if id != nil {
			return m.identityConfirmed(ctx, *id)
		}
	}

	return m.resumeUnsent(ctx)
}

// resumeSentToken restores PendingToken from a stored pending login whose
// token was already sent.
func (m *Machine) resumeSentToken(ctx context.Context) bool {
	pending, ok := m.loadPending(ctx)
	if !ok || !m.tokenSent(ctx) {
		return false
	}
	_ = m.removeVolatile(ctx, models.KeyAuthRedirectInitiated)
	m.mu.Lock()
	m.pending = pending
	m.state = models.StatePendingToken
	m.mu.Unlock()
	return true
}

// resumeUnsent issues the token for a stored pending login that never got
// one, or settles on SignedOut.
func (m *Machine) resumeUnsent(ctx context.Context) error {
	pending, ok := m.loadPending(ctx)
	if !ok {
		m.setState(models.StateSignedOut)
		return nil
	}
	m.mu.Lock()
	m.pending = pending
	m.state = models.StatePendingToken
	m.mu.Unlock()
	return m.issue(ctx, *pending)
}

// identityConfirmed applies the allow-list and, on acceptance, stores the
// pending login and issues its token.
func (m *Machine) identityConfirmed(ctx context.Context, id models.AdminIdentity) error {
	if !m.allowed(id.Email) {
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.WarnContext(ctx, "provider sign-out after rejection failed", "error", err)
		}
		_ = m.clearPending(ctx)
		m.setState(models.StateSignedOut)
		m.metrics.IncSignIn("unauthorized")
		m.logAudit(ctx, "admin_signin_rejected", "uid", id.UID)
		return m.fail(ctx, dErrors.New(dErrors.CodeUnauthorized, "email is not authorized for admin access"),
			"This account is not authorized for admin access.")
	}

	pending := models.NewPendingAdmin(id)
	pending.Email = models.NormalizeEmail(pending.Email)
	m.savePending(ctx, pending)
	_ = m.removeVolatile(ctx, models.KeyTokenSentForPending, models.KeyAuthRedirectInitiated)
	m.mu.Lock()
	m.pending = &pending
	m.mu.Unlock()

	err := m.issue(ctx, pending)
	m.setState(models.StatePendingToken)
	return err
}

// issue sends a token for pending and marks it sent. A failed issue leaves the
// machine in PendingToken so the user can resend.
func (m *Machine) issue(ctx context.Context, pending models.PendingAdmin) error {
	res, err := m.tokens.Issue(ctx, pending.Email, pending.Name)
	m.warnIfDegraded(res != nil && res.Degraded)
	if err != nil {
		msg := "Could not send the sign-in code. Please use resend."
		if !dErrors.HasCode(err, dErrors.CodeEmailDelivery) {
			msg = ""
		}
		return m.fail(ctx, err, msg)
	}
	if err := m.volatile.Set(ctx, models.KeyTokenSentForPending, "true"); err != nil {
		m.logger.WarnContext(ctx, "failed to persist token marker", "error", err)
	}
	m.notes.Push(notify.LevelSuccess, "A sign-in code was sent to "+pending.Email+".", "")
	return nil
}

// Resend issues a fresh token for the pending login. The cooldown between
// resends is enforced by the caller.
func (m *Machine) Resend(ctx context.Context) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.op.Unlock()

	pending := m.currentPending()
	if m.currentState() != models.StatePendingToken || pending == nil {
		return dErrors.New(dErrors.CodeBadRequest, "no pending sign-in")
	}
	return m.issue(ctx, *pending)
}
