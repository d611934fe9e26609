package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pstrings "clubadmin/pkg/platform/strings"
)

// Token modes.
const (
	TokenModeRandom = "random"
	// TokenModeStatic uses one shared login token for every admin. Legacy and insecure.
	TokenModeStatic = "static"
)

// Token hashers.
const (
	HashSHA256 = "sha256"
	HashBcrypt = "bcrypt"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr               string   `yaml:"addr"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	ClientSigningKey   string   `yaml:"client_signing_key"`
	LoginPageURL       string   `yaml:"login_page_url"`
	LogLevel           string   `yaml:"log_level"`
	LogFile            string   `yaml:"log_file"`
}

// Admin captures the sign-in policy.
type Admin struct {
	// AllowList holds lower-cased admin emails. Empty allows every identity.
	AllowList            []string      `yaml:"allow_list"`
	Permissions          []string      `yaml:"permissions"`
	SessionTimeout       time.Duration `yaml:"session_timeout"`
	SessionCheckInterval time.Duration `yaml:"session_check_interval"`
	ResendCooldown       time.Duration `yaml:"resend_cooldown"`
	UIMaxVerifyAttempts  int           `yaml:"ui_max_verify_attempts"`
	DevMode              bool          `yaml:"dev_mode"`
}

// Token captures one-time token issuance.
type Token struct {
	Mode        string        `yaml:"mode"`
	StaticToken string        `yaml:"static_token"`
	Hash        string        `yaml:"hash"`
	Expiry      time.Duration `yaml:"expiry"`
}

// Store captures remote store, local persistence and fallback behaviour.
type Store struct {
	DatabaseURL           string        `yaml:"database_url"`
	RedisURL              string        `yaml:"redis_url"`
	LocalStorePath        string        `yaml:"local_store_path"`
	RetryAttempts         int           `yaml:"retry_attempts"`
	RetryBaseDelay        time.Duration `yaml:"retry_base_delay"`
	ReachabilityEndpoints []string      `yaml:"reachability_endpoints"`
	ReachabilityTimeout   time.Duration `yaml:"reachability_timeout"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	ConnectivityInterval  time.Duration `yaml:"connectivity_interval"`
}

// Email captures the transactional email endpoint.
type Email struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	ReplyTo   string `yaml:"reply_to"`
}

// Identity captures the federated identity provider.
type Identity struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	GoogleRedirectURL  string `yaml:"google_redirect_url"`
	DevEmail           string `yaml:"dev_email"`
	DevName            string `yaml:"dev_name"`
}

// Config is the full service configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Admin    Admin    `yaml:"admin"`
	Token    Token    `yaml:"token"`
	Store    Store    `yaml:"store"`
	Email    Email    `yaml:"email"`
	Identity Identity `yaml:"identity"`
}

// DefaultReachabilityEndpoints are the hosted-store hosts that ad blockers commonly block.
var DefaultReachabilityEndpoints = []string{
	"https://firestore.googleapis.com/test",
	"https://firebaseapp.com/test",
	"https://firebase.googleapis.com/test",
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:             ":8080",
			ClientSigningKey: "dev-client-key-change-in-production",
			LoginPageURL:     "/admin/login",
			LogLevel:         "info",
		},
		Admin: Admin{
			Permissions:          []string{"events", "members", "team", "settings"},
			SessionTimeout:       60 * time.Minute,
			SessionCheckInterval: 30 * time.Second,
			ResendCooldown:       60 * time.Second,
			UIMaxVerifyAttempts:  3,
		},
		Token: Token{
			Mode:   TokenModeRandom,
			Hash:   HashSHA256,
			Expiry: 10 * time.Minute,
		},
		Store: Store{
			LocalStorePath:        "data/local.db",
			RetryAttempts:         3,
			RetryBaseDelay:        time.Second,
			ReachabilityEndpoints: DefaultReachabilityEndpoints,
			ReachabilityTimeout:   3 * time.Second,
			CleanupInterval:       15 * time.Minute,
			ConnectivityInterval:  30 * time.Second,
		},
		Email: Email{
			Endpoint: "https://api.web3forms.com/submit",
		},
	}
}

// Load reads the optional YAML file at path, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		cfg.Admin.AllowList = normalizeEmails(cfg.Admin.AllowList)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment variables only.
func FromEnv() (Config, error) {
	return Load("")
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = ParseList(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Server.Addr)
	list("CORS_ALLOWED_ORIGINS", &cfg.Server.CORSAllowedOrigins)
	str("CLIENT_SIGNING_KEY", &cfg.Server.ClientSigningKey)
	str("LOGIN_PAGE_URL", &cfg.Server.LoginPageURL)
	str("LOG_LEVEL", &cfg.Server.LogLevel)
	str("LOG_FILE", &cfg.Server.LogFile)

	if v, ok := lookup("ADMIN_WHITELIST"); ok {
		cfg.Admin.AllowList = ParseAllowList(v)
	}
	list("ADMIN_PERMISSIONS", &cfg.Admin.Permissions)
	dur("SESSION_TIMEOUT", &cfg.Admin.SessionTimeout)
	dur("SESSION_CHECK_INTERVAL", &cfg.Admin.SessionCheckInterval)
	dur("RESEND_COOLDOWN", &cfg.Admin.ResendCooldown)
	integer("UI_MAX_VERIFY_ATTEMPTS", &cfg.Admin.UIMaxVerifyAttempts)
	boolean("DEV_MODE", &cfg.Admin.DevMode)

	str("TOKEN_MODE", &cfg.Token.Mode)
	str("ADMIN_LOGIN_TOKEN", &cfg.Token.StaticToken)
	str("TOKEN_HASH", &cfg.Token.Hash)
	dur("TOKEN_EXPIRY", &cfg.Token.Expiry)

	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("REDIS_URL", &cfg.Store.RedisURL)
	str("LOCAL_STORE_PATH", &cfg.Store.LocalStorePath)
	integer("STORE_RETRY_ATTEMPTS", &cfg.Store.RetryAttempts)
	dur("STORE_RETRY_BASE_DELAY", &cfg.Store.RetryBaseDelay)
	list("REACHABILITY_ENDPOINTS", &cfg.Store.ReachabilityEndpoints)
	dur("REACHABILITY_TIMEOUT", &cfg.Store.ReachabilityTimeout)
	dur("CLEANUP_INTERVAL", &cfg.Store.CleanupInterval)
	dur("CONNECTIVITY_INTERVAL", &cfg.Store.ConnectivityInterval)

	str("WEB3FORMS_ENDPOINT", &cfg.Email.Endpoint)
	str("WEB3FORMS_ACCESS_KEY", &cfg.Email.AccessKey)
	str("EMAIL_REPLY_TO", &cfg.Email.ReplyTo)

	str("GOOGLE_CLIENT_ID", &cfg.Identity.GoogleClientID)
	str("GOOGLE_CLIENT_SECRET", &cfg.Identity.GoogleClientSecret)
	str("GOOGLE_REDIRECT_URL", &cfg.Identity.GoogleRedirectURL)
	str("DEV_IDENTITY_EMAIL", &cfg.Identity.DevEmail)
	str("DEV_IDENTITY_NAME", &cfg.Identity.DevName)

	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	switch c.Token.Mode {
	case TokenModeRandom:
	case TokenModeStatic:
		if c.Token.StaticToken == "" {
			errs = append(errs, errors.New("token mode static requires ADMIN_LOGIN_TOKEN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown token mode %q", c.Token.Mode))
	}
	if c.Token.Hash != HashSHA256 && c.Token.Hash != HashBcrypt {
		errs = append(errs, fmt.Errorf("unknown token hash %q", c.Token.Hash))
	}
	if c.Token.Expiry <= 0 {
		errs = append(errs, errors.New("token expiry must be positive"))
	}
	if c.Admin.SessionTimeout <= 0 {
		errs = append(errs, errors.New("session timeout must be positive"))
	}
	if c.Admin.SessionCheckInterval <= 0 || c.Admin.SessionCheckInterval > time.Minute {
		errs = append(errs, errors.New("session check interval must be within (0, 1m]"))
	}
	if c.Store.RetryAttempts < 1 {
		errs = append(errs, errors.New("store retry attempts must be at least 1"))
	}
	if !c.Admin.DevMode {
		if c.Email.AccessKey == "" {
			errs = append(errs, errors.New("WEB3FORMS_ACCESS_KEY is required outside dev mode"))
		}
		if c.Identity.GoogleClientID == "" || c.Identity.GoogleClientSecret == "" {
			errs = append(errs, errors.New("google client credentials are required outside dev mode"))
		}
		if c.Server.ClientSigningKey == Default().Server.ClientSigningKey {
			errs = append(errs, errors.New("CLIENT_SIGNING_KEY must be set outside dev mode"))
		}
	}
	return errors.Join(errs...)
}

// EmailConfigured reports whether real email delivery is available.
func (c Config) EmailConfigured() bool {
	return c.Email.AccessKey != "" && c.Email.Endpoint != ""
}

// ParseAllowList splits a comma-separated email list, trimming and lower-casing
// entries and dropping empties and repeats.
func ParseAllowList(raw string) []string {
	return normalizeEmails(strings.Split(raw, ","))
}

// ParseList splits a comma-separated list, trimming entries and dropping empties.
func ParseList(raw string) []string {
	return pstrings.SplitList(raw)
}

func normalizeEmails(in []string) []string {
	return pstrings.DedupeAndTrimLower(in)
}
