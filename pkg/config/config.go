package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultAppName         = "distributors"
	DefaultPort            = 8000
	DefaultLogLevel        = "info"
	DefaultPartnerMDMID    = "MDM-12345"
	DefaultUpstreamTimeout = 10 * time.Second
)

// Config is built once at process start and passed to the components that
// need it. Nothing reads the environment after Load returns.
type Config struct {
	AppName              string `validate:"required"`
	Port                 int    `validate:"gt=0,lt=65536"`
	LogLevel             string `validate:"oneof=debug info warn error"`
	DebugMode            bool
	PartnerMDMID         string `validate:"required"`
	StrictResponseModels bool
	MetricsEnabled       bool

	Salesforce SalesforceConfig
}

// SalesforceConfig is the credential bundle for the upstream org plus the
// knobs that control how sessions are established and used.
type SalesforceConfig struct {
	Domain           string `validate:"required"`
	Username         string `validate:"required"`
	ConsumerKey      Secret `validate:"required"`
	KeystorePath     string `validate:"required"`
	KeystorePassword Secret `validate:"required"`
	CertAlias        string `validate:"required"`
	CertPassword     Secret `validate:"required"`

	// LoginURL overrides https://{Domain}.salesforce.com when set.
	LoginURL string `validate:"omitempty,url"`

	Timeout    time.Duration `validate:"gt=0"`
	SessionTTL time.Duration `validate:"gte=0"`

	// KeystoreDiagnostics dumps the raw keystore bytes (base64) to the log
	// when the keystore fails to parse. It writes key material to logs and
	// must only be switched on while recovering a broken deployment.
	KeystoreDiagnostics bool
}

// OrgURL returns the login endpoint for the configured org.
func (c SalesforceConfig) OrgURL() string {
	if c.LoginURL != "" {
		return strings.TrimRight(c.LoginURL, "/")
	}
	return fmt.Sprintf("https://%s.salesforce.com", c.Domain)
}

func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist.
	// Variables already present in the environment take priority.
	_ = godotenv.Load()

	cfg := &Config{
		AppName:      getEnv("APP_NAME", DefaultAppName),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", DefaultLogLevel)),
		PartnerMDMID: getEnv("PARTNER_MDM_ID", DefaultPartnerMDMID),
		Salesforce: SalesforceConfig{
			Domain:           os.Getenv("SALESFORCE_DOMAIN"),
			Username:         os.Getenv("SALESFORCE_USERNAME"),
			ConsumerKey:      Secret(os.Getenv("SALESFORCE_CONSUMER_KEY")),
			KeystorePath:     os.Getenv("SALESFORCE_KEYSTORE_PATH"),
			KeystorePassword: Secret(os.Getenv("SALESFORCE_KEYSTORE_PASSWORD")),
			CertAlias:        os.Getenv("SALESFORCE_CERT_ALIAS"),
			CertPassword:     Secret(os.Getenv("SALESFORCE_CERT_PASSWORD")),
			LoginURL:         os.Getenv("SALESFORCE_LOGIN_URL"),
		},
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", DefaultPort); err != nil {
		return nil, err
	}
	if cfg.DebugMode, err = getEnvBool("DEBUG_MODE", false); err != nil {
		return nil, err
	}
	if cfg.StrictResponseModels, err = getEnvBool("STRICT_RESPONSE_MODELS", false); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getEnvBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Salesforce.Timeout, err = getEnvDuration("SALESFORCE_TIMEOUT", DefaultUpstreamTimeout); err != nil {
		return nil, err
	}
	if cfg.Salesforce.SessionTTL, err = getEnvDuration("SALESFORCE_SESSION_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.Salesforce.KeystoreDiagnostics, err = getEnvBool("SALESFORCE_KEYSTORE_DIAGNOSTICS", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envNames maps struct namespaces to the variable that feeds them, so
// validation errors point operators at the right knob.
var envNames = map[string]string{
	"Config.AppName":                     "APP_NAME",
	"Config.Port":                        "PORT",
	"Config.LogLevel":                    "LOG_LEVEL",
	"Config.PartnerMDMID":                "PARTNER_MDM_ID",
	"Config.Salesforce.Domain":           "SALESFORCE_DOMAIN",
	"Config.Salesforce.Username":         "SALESFORCE_USERNAME",
	"Config.Salesforce.ConsumerKey":      "SALESFORCE_CONSUMER_KEY",
	"Config.Salesforce.KeystorePath":     "SALESFORCE_KEYSTORE_PATH",
	"Config.Salesforce.KeystorePassword": "SALESFORCE_KEYSTORE_PASSWORD",
	"Config.Salesforce.CertAlias":        "SALESFORCE_CERT_ALIAS",
	"Config.Salesforce.CertPassword":     "SALESFORCE_CERT_PASSWORD",
	"Config.Salesforce.LoginURL":         "SALESFORCE_LOGIN_URL",
	"Config.Salesforce.Timeout":          "SALESFORCE_TIMEOUT",
	"Config.Salesforce.SessionTTL":       "SALESFORCE_SESSION_TTL",
}

var validate = validator.New()

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Report the first failure only; never echo the rejected value, it may be a secret.
	fe := verrs[0]
	name, ok := envNames[fe.Namespace()]
	if !ok {
		name = fe.Namespace()
	}
	if fe.Tag() == "required" {
		return fmt.Errorf("%s is required", name)
	}
	return fmt.Errorf("%s is invalid (%s)", name, fe.Tag())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 10s): %w", key, err)
	}
	return d, nil
}
