// Package sfapex invokes Apex REST actions on a Salesforce org.
//
// Apex REST lets an org expose custom endpoints under
// {instance_url}/services/apexrest/. This package signs in with the
// OAuth 2.0 JWT bearer flow, using a key read from a Java KeyStore, and
// relays calls to those endpoints. Response bodies are returned untouched:
// the service in front of it has no opinion on their shape.
package sfapex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/natserract/distributors/pkg/config"
	httpclient "github.com/natserract/distributors/pkg/http"
	"github.com/natserract/distributors/pkg/metrics"
	"github.com/natserract/distributors/pkg/salesforce/jks"
	"go.uber.org/zap"
)

const apexRestPath = "/services/apexrest/"

// Client is the main client for invoking Apex REST actions
type Client struct {
	sessions   SessionProvider
	httpClient *httpclient.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClientWithLogger creates a new Apex client with a custom logger
func NewClientWithLogger(sessions SessionProvider, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	return &Client{
		sessions:   sessions,
		httpClient: httpclient.NewClientWithLogger(logger, timeout),
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// NewFromConfig wires the keystore, authenticator and session policy
// described by cfg. A zero SessionTTL opens a session per call.
func NewFromConfig(cfg config.SalesforceConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	keys := jks.Source{
		Path:             cfg.KeystorePath,
		KeystorePassword: cfg.KeystorePassword.Reveal(),
		Alias:            cfg.CertAlias,
		CertPassword:     cfg.CertPassword.Reveal(),
	}
	if cfg.KeystoreDiagnostics {
		logger.Warn("Keystore diagnostics enabled: raw keystore bytes will be logged on parse failure")
		keys.Options = append(keys.Options, jks.WithDiagnosticDump(logger))
	}

	auth := NewAuthenticator(
		cfg.OrgURL(),
		cfg.Username,
		cfg.ConsumerKey.Reveal(),
		keys,
		httpclient.NewClientWithLogger(logger, cfg.Timeout),
		m,
		logger,
	)

	var sessions SessionProvider
	if cfg.SessionTTL > 0 {
		sessions = NewCachedWithTTL(auth, cfg.SessionTTL, logger)
	} else {
		sessions = NewFreshPerCall(auth)
	}

	return NewClientWithLogger(sessions, cfg.Timeout, m, logger)
}

// Execute calls the Apex REST action at endpoint and returns the response
// body verbatim. GET and DELETE send payload as query parameters; the other
// methods send it as a JSON body.
//
// Upstream failures are returned as-is and never retried. The one exception
// is a 401 on a cached session: the session is dropped and the call is made
// once more with a freshly established one.
func (c *Client) Execute(ctx context.Context, endpoint, method string, payload map[string]any) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	operation := func() (json.RawMessage, error) {
		sess, err := c.sessions.Session(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		body, err := c.call(ctx, sess, endpoint, method, payload)
		if err == nil {
			return body, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() && sess.Reused {
			c.logger.Warn("Cached Salesforce session rejected, re-authenticating",
				zap.String("endpoint", endpoint))
			c.sessions.Invalidate(sess)
			c.metrics.IncReauth()
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(2))
	if err != nil {
		return nil, unwrapRetryError(err)
	}
	return body, nil
}

// unwrapRetryError undoes what backoff.Retry adds around the last attempt's
// error. Retry returns a PermanentError as-is once MaxTries is reached, and a
// bare context error when the deadline fires between attempts.
func unwrapRetryError(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return fmt.Errorf("%w: %w", ErrUpstreamCall, err)
	}
	return err
}

func (c *Client) call(ctx context.Context, sess *Session, endpoint, method string, payload map[string]any) (body json.RawMessage, err error) {
	started := time.Now()
	defer func() {
		c.metrics.ObserveApexCall(endpoint, method, started, err)
	}()

	var query url.Values
	var reqBody interface{}
	switch method {
	case http.MethodGet, http.MethodDelete:
		query = encodeQuery(payload)
	default:
		if payload == nil {
			payload = map[string]any{}
		}
		reqBody = payload
	}

	target, err := httpclient.BuildURL(sess.InstanceURL, apexRestPath+strings.TrimLeft(endpoint, "/"), query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamCall, err)
	}

	c.logger.Debug("Executing Apex action",
		zap.String("endpoint", endpoint),
		zap.String("method", method))

	resp, err := c.httpClient.Do(httpclient.RequestOptions{
		Method:  method,
		URL:     target,
		Headers: map[string]string{"Authorization": "Bearer " + sess.AccessToken},
		Body:    reqBody,
		Context: ctx,
	})
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return nil, &APIError{Endpoint: endpoint, Method: method, StatusCode: se.StatusCode, Body: se.Body}
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUpstreamCall, method, endpoint, err)
	}

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(trimmed) {
		c.logger.Error("Apex action returned a malformed body",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("%w: %s %s: malformed response body", ErrUpstreamCall, method, endpoint)
	}

	return json.RawMessage(trimmed), nil
}

// encodeQuery flattens a payload into query parameters. Nil values are
// dropped so optional parameters can be passed through unconditionally.
func encodeQuery(payload map[string]any) url.Values {
	q := url.Values{}
	for k, v := range payload {
		switch vv := v.(type) {
		case nil:
			continue
		case string:
			q.Set(k, vv)
		case *string:
			if vv != nil {
				q.Set(k, *vv)
			}
		default:
			q.Set(k, fmt.Sprint(vv))
		}
	}
	return q
}
