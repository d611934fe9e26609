package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"clubadmin/internal/admin/email"
	"clubadmin/internal/admin/guard"
	"clubadmin/internal/admin/handler"
	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/session"
	"clubadmin/internal/admin/token"
	"clubadmin/internal/docstore"
	jwttoken "clubadmin/internal/jwt_token"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/resilient"
	httptransport "clubadmin/internal/transport/http"
)

const callbackPath = "/admin/auth/callback"

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// TestContext holds the in-process service and the browser of one scenario.
type TestContext struct {
	AllowList     []string
	Identity      models.AdminIdentity
	MaxUIAttempts int

	LastResponse     *http.Response
	LastResponseBody []byte

	server   *httptest.Server
	client   *http.Client
	registry *session.Registry
	health   *nethealth.Health
	remote   *docstore.InMemoryStore
	fallback *kv.InMemoryStore
	outbox   *outbox
	signOuts atomic.Int32
}

func NewTestContext() *TestContext {
	tc := &TestContext{}
	tc.Reset()
	return tc
}

// Reset clears scenario state. The service is built by Start.
func (tc *TestContext) Reset() {
	tc.Close()
	tc.AllowList = nil
	tc.Identity = models.AdminIdentity{}
	tc.MaxUIAttempts = handler.DefaultMaxUIAttempts
	tc.LastResponse = nil
	tc.LastResponseBody = nil
	tc.health = nethealth.New()
	tc.remote = docstore.NewInMemory()
	tc.fallback = kv.NewInMemory()
	tc.outbox = &outbox{}
	tc.signOuts.Store(0)
}

// Start wires the service the way cmd/server does, on in-memory stores.
func (tc *TestContext) Start() error {
	logger := slog.New(slog.DiscardHandler)
	adapter := resilient.New(tc.remote, tc.fallback, tc.health,
		resilient.WithLogger(logger),
		resilient.WithRetry(resilient.DefaultMaxAttempts, time.Millisecond),
	)
	tokens, err := token.New(adapter, tc.outbox, token.WithLogger(logger))
	if err != nil {
		return err
	}

	providers := func() identity.Provider {
		return &recordingProvider{
			Provider: identity.NewStatic(tc.Identity, callbackPath),
			signOuts: &tc.signOuts,
		}
	}
	build := session.NewFactory(session.Shared{
		Providers: providers,
		Tokens:    tokens,
		Profiles:  adapter,
		Durable:   kv.NewInMemory(),
		Volatile:  kv.NewInMemory(),
		Health:    tc.health,
	}, session.Config{AllowList: tc.AllowList}, session.WithLogger(logger))
	tc.registry = session.NewRegistry(build, session.WithRegistryLogger(logger))

	h := handler.New(tc.registry,
		guard.New(guard.WithLogger(logger), guard.WithLoginURL("/login")),
		jwttoken.NewClientTokenService("e2e-signing-key", "clubadmin"),
		adapter,
		tc.health,
		handler.WithLogger(logger),
		handler.WithMaxUIAttempts(tc.MaxUIAttempts),
		handler.WithLoginPageURL("/login"),
	)
	tc.server = httptest.NewServer(httptransport.NewRouter(httptransport.RouterConfig{}, logger, h))

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	tc.client = &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return nil
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.registry != nil {
		tc.registry.Close()
		tc.registry = nil
	}
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.server.URL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.server.URL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.server == nil {
		return fmt.Errorf("the admin service is not running")
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// outbox captures the emails the token service sends.
type outbox struct {
	mu   sync.Mutex
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) (*email.SendResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return &email.SendResult{Accepted: true}, nil
}

func (o *outbox) messages() []email.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]email.Message(nil), o.sent...)
}

// lastCode returns the code in the most recent email.
func (o *outbox) lastCode() (string, error) {
	msgs := o.messages()
	if len(msgs) == 0 {
		return "", fmt.Errorf("no email was sent")
	}
	code := codePattern.FindString(msgs[len(msgs)-1].Body)
	if code == "" {
		return "", fmt.Errorf("no code in email body: %q", msgs[len(msgs)-1].Body)
	}
	return code, nil
}

// recordingProvider counts provider sign-outs.
type recordingProvider struct {
	identity.Provider
	signOuts *atomic.Int32
}

func (p *recordingProvider) SignOut(ctx context.Context) error {
	p.signOuts.Add(1)
	return p.Provider.SignOut(ctx)
}
