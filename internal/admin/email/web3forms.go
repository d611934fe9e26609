package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	dErrors "clubadmin/pkg/domain-errors"
)

// DefaultEndpoint is the public Web3Forms submit endpoint.
const DefaultEndpoint = "https://api.web3forms.com/submit"

const maxResponseBytes = 64 << 10

// Web3FormsSender posts messages to a Web3Forms-compatible endpoint.
type Web3FormsSender struct {
	endpoint  string
	accessKey string
	replyTo   string
	client    *http.Client
	logger    *slog.Logger
}

type Web3FormsOption func(*Web3FormsSender)

func WithHTTPClient(client *http.Client) Web3FormsOption {
	return func(s *Web3FormsSender) {
		if client != nil {
			s.client = client
		}
	}
}

func WithEndpoint(endpoint string) Web3FormsOption {
	return func(s *Web3FormsSender) {
		if endpoint != "" {
			s.endpoint = endpoint
		}
	}
}

func WithReplyTo(address string) Web3FormsOption {
	return func(s *Web3FormsSender) {
		s.replyTo = address
	}
}

func WithSenderLogger(logger *slog.Logger) Web3FormsOption {
	return func(s *Web3FormsSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewWeb3Forms(accessKey string, opts ...Web3FormsOption) *Web3FormsSender {
	s := &Web3FormsSender{
		endpoint:  DefaultEndpoint,
		accessKey: accessKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type web3FormsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Send submits msg. The message is accepted only when the endpoint answers
// 2xx with success=true.
func (s *Web3FormsSender) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if s.accessKey == "" {
		return nil, dErrors.New(dErrors.CodeEmailDelivery, "email service not configured")
	}
	if !IsValidEmail(msg.To) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid recipient email")
	}

	name := msg.Name
	if name == "" {
		name = "User"
	}
	form := url.Values{}
	form.Set("access_key", s.accessKey)
	form.Set("subject", msg.Subject)
	form.Set("name", name)
	form.Set("email", msg.To)
	form.Set("message", msg.Body)
	if s.replyTo != "" {
		form.Set("replyto", s.replyTo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to build email request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEmailDelivery, "email endpoint unreachable")
	}
	defer resp.Body.Close()

	var body web3FormsResponse
	// A non-JSON body leaves Success false.
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body)

	if resp.StatusCode/100 != 2 || !body.Success {
		detail := body.Message
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		s.logger.WarnContext(ctx, "email endpoint rejected message",
			"status", resp.StatusCode,
			"detail", detail,
		)
		return &SendResult{Accepted: false, Detail: detail},
			dErrors.New(dErrors.CodeEmailDelivery, "email endpoint rejected message: "+detail)
	}
	return &SendResult{Accepted: true, Detail: body.Message}, nil
}

var _ Sender = (*Web3FormsSender)(nil)
