package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"clubadmin/internal/admin/models"
	dErrors "clubadmin/pkg/domain-errors"
)

const (
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	DefaultRevokeURL   = "https://oauth2.googleapis.com/revoke"
	// PopupRedirectURI is the redirect_uri Google expects for codes obtained
	// by the JavaScript popup client.
	PopupRedirectURI = "postmessage"
)

// GoogleConfig builds the OAuth2 config for Google sign-in.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// Google is a Provider backed by Google's OAuth2 authorization code flow.
type Google struct {
	config      *oauth2.Config
	client      *http.Client
	userInfoURL string
	revokeURL   string
	state       listeners

	mu    sync.Mutex
	token *oauth2.Token
}

type GoogleOption func(*Google)

func WithHTTPClient(client *http.Client) GoogleOption {
	return func(g *Google) {
		if client != nil {
			g.client = client
		}
	}
}

func WithUserInfoURL(u string) GoogleOption {
	return func(g *Google) { g.userInfoURL = u }
}

func WithRevokeURL(u string) GoogleOption {
	return func(g *Google) { g.revokeURL = u }
}

func NewGoogle(config *oauth2.Config, opts ...GoogleOption) *Google {
	g := &Google{
		config:      config,
		client:      &http.Client{Timeout: 10 * time.Second},
		userInfoURL: DefaultUserInfoURL,
		revokeURL:   DefaultRevokeURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GoogleFactory returns a Factory sharing config and options across sessions.
func GoogleFactory(config *oauth2.Config, opts ...GoogleOption) Factory {
	return func() Provider { return NewGoogle(config, opts...) }
}

func (g *Google) SignInPopup(ctx context.Context, result PopupResult) (*models.AdminIdentity, error) {
	if result.Cancelled {
		return nil, ErrPopupClosed
	}
	if result.Code == "" {
		return nil, dErrors.Wrap(ErrPopupBlocked, dErrors.CodeIdentityProvider, "sign-in popup returned no result")
	}
	return g.complete(ctx, result.Code, oauth2.SetAuthURLParam("redirect_uri", PopupRedirectURI))
}

func (g *Google) SignInRedirect(_ context.Context, state string) (string, error) {
	if g.config.RedirectURL == "" {
		return "", dErrors.New(dErrors.CodeIdentityProvider, "redirect sign-in is not configured")
	}
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account")), nil
}

func (g *Google) GetRedirectResult(ctx context.Context, cb RedirectCallback) (*models.AdminIdentity, error) {
	if cb.Empty() {
		return nil, nil
	}
	if cb.Error != "" {
		return nil, dErrors.New(dErrors.CodeIdentityProvider, "identity provider returned "+cb.Error)
	}
	return g.complete(ctx, cb.Code)
}

func (g *Google) complete(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*models.AdminIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "failed to exchange authorization code")
	}
	id, err := g.userInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.token = tok
	g.mu.Unlock()
	g.state.set(id)
	return id, nil
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (g *Google) userInfo(ctx context.Context, tok *oauth2.Token) (*models.AdminIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "failed to build userinfo request")
	}
	tok.SetAuthHeader(req)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "userinfo request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeIdentityProvider, fmt.Sprintf("userinfo returned status %d", resp.StatusCode))
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIdentityProvider, "invalid userinfo response")
	}
	if info.Sub == "" || info.Email == "" {
		return nil, dErrors.New(dErrors.CodeIdentityProvider, "userinfo is missing subject or email")
	}
	if !info.EmailVerified {
		return nil, dErrors.New(dErrors.CodeIdentityProvider, "email address is not verified by the identity provider")
	}
	return &models.AdminIdentity{
		UID:         info.Sub,
		Email:       info.Email,
		DisplayName: info.Name,
		PhotoURL:    info.Picture,
	}, nil
}

// SignOut forgets the identity and revokes the access token. The identity is
// cleared even when revocation fails.
func (g *Google) SignOut(ctx context.Context) error {
	g.mu.Lock()
	tok := g.token
	g.token = nil
	g.mu.Unlock()

	if g.state.get() != nil {
		g.state.set(nil)
	}
	if tok == nil || tok.AccessToken == "" || g.revokeURL == "" {
		return nil
	}

	form := url.Values{"token": {tok.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeIdentityProvider, "failed to build revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeIdentityProvider, "token revocation failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dErrors.New(dErrors.CodeIdentityProvider, fmt.Sprintf("token revocation returned status %d", resp.StatusCode))
	}
	return nil
}

func (g *Google) OnAuthStateChanged(fn func(*models.AdminIdentity)) func() {
	return g.state.subscribe(fn)
}

var _ Provider = (*Google)(nil)
