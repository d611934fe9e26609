package handler

import (
	"net/http"
	"time"

	"clubadmin/internal/admin/session"
	jwttoken "clubadmin/internal/jwt_token"
)

const (
	browserCookie = "admin_browser"
	tabCookie     = "admin_tab"
	// TabHeader carries the tab token. Clients keep it in per-tab storage so
	// that tabs sharing a cookie jar stay distinct.
	TabHeader = "X-Admin-Tab"

	browserCookieAge = 365 * 24 * time.Hour
)

// clientKey resolves the browser and tab of r, issuing new identifiers for
// missing or invalid ones.
func (h *Handler) clientKey(w http.ResponseWriter, r *http.Request) (session.Key, error) {
	browser, err := h.resolve(w, r, jwttoken.KindBrowser, "")
	if err != nil {
		return session.Key{}, err
	}
	tab, err := h.resolve(w, r, jwttoken.KindTab, r.Header.Get(TabHeader))
	if err != nil {
		return session.Key{}, err
	}
	return session.Key{Browser: browser, Tab: tab}, nil
}

// presentedKey parses the ids r carries without issuing new ones.
func (h *Handler) presentedKey(r *http.Request) (session.Key, bool) {
	browser, ok := h.presented(r, jwttoken.KindBrowser, "")
	if !ok {
		return session.Key{}, false
	}
	tab, ok := h.presented(r, jwttoken.KindTab, r.Header.Get(TabHeader))
	if !ok {
		return session.Key{}, false
	}
	return session.Key{Browser: browser, Tab: tab}, true
}

func (h *Handler) presented(r *http.Request, kind, header string) (string, bool) {
	token := header
	if token == "" {
		if c, err := r.Cookie(cookieName(kind)); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return "", false
	}
	id, err := h.clients.Parse(kind, token)
	if err != nil {
		h.logger.DebugContext(r.Context(), "ignoring invalid client id", "kind", kind, "error", err)
		return "", false
	}
	return id, true
}

func cookieName(kind string) string {
	if kind == jwttoken.KindTab {
		return tabCookie
	}
	return browserCookie
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, kind, presented string) (string, error) {
	if id, ok := h.presented(r, kind, presented); ok {
		return id, nil
	}

	var ttl time.Duration
	if kind == jwttoken.KindBrowser {
		ttl = browserCookieAge
	}
	id, token, err := h.clients.NewID(kind, ttl)
	if err != nil {
		return "", err
	}
	cookie := &http.Cookie{
		Name:     cookieName(kind),
		Value:    token,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(w, cookie)
	if kind == jwttoken.KindTab {
		w.Header().Set(TabHeader, token)
	}
	return id, nil
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
