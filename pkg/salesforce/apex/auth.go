package sfapex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	httpclient "github.com/natserract/distributors/pkg/http"
	"github.com/natserract/distributors/pkg/metrics"
	"go.uber.org/zap"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionTTL   = 3 * time.Minute
)

// KeySource yields the PEM private key used to sign the JWT assertion.
type KeySource interface {
	PrivateKey() (string, error)
}

// Authenticator opens sessions with the OAuth 2.0 JWT bearer flow.
type Authenticator struct {
	loginURL    string
	username    string
	consumerKey string
	keys        KeySource
	httpClient  *httpclient.Client
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func NewAuthenticator(loginURL, username, consumerKey string, keys KeySource, httpClient *httpclient.Client, m *metrics.Metrics, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		loginURL:    loginURL,
		username:    username,
		consumerKey: consumerKey,
		keys:        keys,
		httpClient:  httpClient,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// OpenSession re-reads the private key and exchanges a freshly signed
// assertion for an access token. Nothing is cached here.
func (a *Authenticator) OpenSession(ctx context.Context) (*Session, error) {
	sess, err := a.openSession(ctx)
	a.metrics.ObserveSession(err)
	return sess, err
}

func (a *Authenticator) openSession(ctx context.Context) (*Session, error) {
	privateKey, err := a.keys.PrivateKey()
	if err != nil {
		a.logger.Error("Failed to load Salesforce private key", zap.Error(err))
		return nil, err
	}

	a.logger.Info("Connecting to Salesforce", zap.String("url", a.loginURL))

	assertion, err := SignAssertion(a.consumerKey, a.username, a.loginURL, privateKey, a.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}

	tokenURL, err := httpclient.BuildURL(a.loginURL, "/services/oauth2/token", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}

	resp, err := a.httpClient.Post(ctx, tokenURL, headers, form)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			var authErr AuthErrorResponse
			if json.Unmarshal(se.Body, &authErr) == nil && authErr.Error != "" {
				a.logger.Error("Authentication failed",
					zap.Int("status_code", se.StatusCode),
					zap.String("error", authErr.Error),
					zap.String("error_description", authErr.ErrorDescription))
				return nil, fmt.Errorf("%w: %s: %s", ErrSession, authErr.Error, authErr.ErrorDescription)
			}
			a.logger.Error("Authentication failed", zap.Int("status_code", se.StatusCode))
			return nil, fmt.Errorf("%w: token endpoint returned %d", ErrSession, se.StatusCode)
		}
		a.logger.Error("Authentication request failed", zap.Error(err), zap.String("url", tokenURL))
		return nil, fmt.Errorf("%w: authentication request failed: %w", ErrSession, err)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(resp.Body, &authResp); err != nil {
		a.logger.Error("Failed to parse authentication response", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to parse authentication response: %v", ErrSession, err)
	}
	if authResp.AccessToken == "" || authResp.InstanceURL == "" {
		return nil, fmt.Errorf("%w: authentication response missing access_token or instance_url", ErrSession)
	}

	a.logger.Info("Successfully authenticated",
		zap.String("instance_url", authResp.InstanceURL),
		zap.String("token_type", authResp.TokenType))

	return &Session{
		AccessToken: authResp.AccessToken,
		InstanceURL: authResp.InstanceURL,
		IssuedAt:    parseIssuedAt(authResp.IssuedAt, a.now()),
	}, nil
}

// SignAssertion builds the RS256 JWT the token endpoint expects:
// iss is the connected app's consumer key, sub the integration user and aud
// the login URL.
func SignAssertion(consumerKey, username, audience, privateKeyPEM string, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	claims := jwt.MapClaims{
		"iss": consumerKey,
		"sub": username,
		"aud": audience,
		"exp": now.Add(assertionTTL).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// issued_at is milliseconds since the epoch, as a string.
func parseIssuedAt(v string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return time.UnixMilli(ms)
}
