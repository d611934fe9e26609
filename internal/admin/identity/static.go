package identity

import (
	"context"
	"net/url"

	"clubadmin/internal/admin/models"
	dErrors "clubadmin/pkg/domain-errors"
)

// StaticCode is the authorization code the static provider accepts.
const StaticCode = "dev"

// Static confirms one fixed identity. It serves dev mode when no federated
// provider is configured.
type Static struct {
	identity    models.AdminIdentity
	callbackURL string
	state       listeners
}

func NewStatic(identity models.AdminIdentity, callbackURL string) *Static {
	return &Static{identity: identity, callbackURL: callbackURL}
}

func StaticFactory(identity models.AdminIdentity, callbackURL string) Factory {
	return func() Provider { return NewStatic(identity, callbackURL) }
}

func (s *Static) SignInPopup(_ context.Context, result PopupResult) (*models.AdminIdentity, error) {
	if result.Cancelled {
		return nil, ErrPopupClosed
	}
	if result.Code != StaticCode {
		return nil, dErrors.Wrap(ErrPopupBlocked, dErrors.CodeIdentityProvider, "sign-in popup returned no result")
	}
	return s.confirm(), nil
}

// SignInRedirect points straight back at the callback with the static code.
func (s *Static) SignInRedirect(_ context.Context, state string) (string, error) {
	u, err := url.Parse(s.callbackURL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeIdentityProvider, "invalid callback url")
	}
	q := u.Query()
	q.Set("code", StaticCode)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Static) GetRedirectResult(_ context.Context, cb RedirectCallback) (*models.AdminIdentity, error) {
	if cb.Empty() {
		return nil, nil
	}
	if cb.Error != "" || cb.Code != StaticCode {
		return nil, dErrors.New(dErrors.CodeIdentityProvider, "invalid redirect result")
	}
	return s.confirm(), nil
}

func (s *Static) confirm() *models.AdminIdentity {
	id := s.identity
	s.state.set(&id)
	return &id
}

func (s *Static) SignOut(context.Context) error {
	if s.state.get() != nil {
		s.state.set(nil)
	}
	return nil
}

func (s *Static) OnAuthStateChanged(fn func(*models.AdminIdentity)) func() {
	return s.state.subscribe(fn)
}

var _ Provider = (*Static)(nil)
