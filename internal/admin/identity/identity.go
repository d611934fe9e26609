// Package identity confirms who is signing in through a federated provider.
// A Provider holds the signed-in identity of one browser tab, so the registry
// creates one per session machine through a Factory.
package identity

import (
	"context"
	"errors"
	"sync"

	"clubadmin/internal/admin/models"
)

//go:generate mockgen -source=identity.go -destination=mocks/mocks.go -package=mocks Provider

var (
	// ErrPopupClosed means the user dismissed the sign-in popup.
	ErrPopupClosed = errors.New("identity: popup closed by user")
	// ErrPopupBlocked means the popup never produced a result.
	ErrPopupBlocked = errors.New("identity: popup blocked")
)

// PopupResult is what the popup flow hands back: an authorization code, or
// nothing when the user closed the popup.
type PopupResult struct {
	Code      string `json:"code"`
	Cancelled bool   `json:"cancelled"`
}

// RedirectCallback carries the query of a redirect-flow return.
type RedirectCallback struct {
	Code  string
	State string
	Error string
}

// Empty reports whether the callback carries no redirect result at all.
func (c RedirectCallback) Empty() bool {
	return c.Code == "" && c.Error == ""
}

type Provider interface {
	SignInPopup(ctx context.Context, result PopupResult) (*models.AdminIdentity, error)
	// SignInRedirect returns the URL to navigate to. state comes back on the callback.
	SignInRedirect(ctx context.Context, state string) (string, error)
	// GetRedirectResult returns nil without error when there is no pending result.
	GetRedirectResult(ctx context.Context, cb RedirectCallback) (*models.AdminIdentity, error)
	SignOut(ctx context.Context) error
	OnAuthStateChanged(fn func(*models.AdminIdentity)) (unsubscribe func())
}

// Factory creates the provider for a new session.
type Factory func() Provider

// listeners fans auth state changes out to subscribers.
type listeners struct {
	mu      sync.Mutex
	current *models.AdminIdentity
	next    int
	fns     map[int]func(*models.AdminIdentity)
}

func (l *listeners) subscribe(fn func(*models.AdminIdentity)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(*models.AdminIdentity))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) set(identity *models.AdminIdentity) {
	l.mu.Lock()
	l.current = identity
	fns := make([]func(*models.AdminIdentity), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

func (l *listeners) get() *models.AdminIdentity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
