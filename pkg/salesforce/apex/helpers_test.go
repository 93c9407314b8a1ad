package sfapex

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	httpclient "github.com/natserract/distributors/pkg/http"
	"github.com/natserract/distributors/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticKey struct {
	pem string
	err error
}

func (k staticKey) PrivateKey() (string, error) { return k.pem, k.err }

func newTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

// apexCall is one request observed by fakeOrg on the apexrest path.
type apexCall struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
	Token  string
}

// fakeOrg stands in for a Salesforce org: it validates JWT assertions
// against pub and serves scripted Apex responses.
type fakeOrg struct {
	t   *testing.T
	pub *rsa.PublicKey
	srv *httptest.Server

	tokenCalls atomic.Int32

	mu        sync.Mutex
	calls     []apexCall
	tokenFail bool
	// apex answers each Apex request; it receives the zero-based call index.
	apex func(i int, w http.ResponseWriter, r *http.Request)
}

func newFakeOrg(t *testing.T, pub *rsa.PublicKey) *fakeOrg {
	o := &fakeOrg{t: t, pub: pub}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrg) URL() string { return o.srv.URL }

func (o *fakeOrg) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/services/oauth2/token":
		o.token(w, r)
	case strings.HasPrefix(r.URL.Path, "/services/apexrest/"):
		body, _ := io.ReadAll(r.Body)
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		o.mu.Lock()
		i := len(o.calls)
		o.calls = append(o.calls, apexCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  q,
			Body:   string(body),
			Token:  strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		})
		handler := o.apex
		o.mu.Unlock()
		if handler == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[]`)
			return
		}
		handler(i, w, r)
	default:
		http.NotFound(w, r)
	}
}

func (o *fakeOrg) token(w http.ResponseWriter, r *http.Request) {
	n := o.tokenCalls.Add(1)

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("grant_type") != jwtBearerGrant {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unsupported_grant_type","error_description":"grant type not supported"}`)
		return
	}

	o.mu.Lock()
	fail := o.tokenFail
	o.mu.Unlock()
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"user hasn't approved this consumer"}`)
		return
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwt.Token) (interface{}, error) {
		return o.pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"invalid assertion"}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"access_token": "token-" + strconv.Itoa(int(n)),
		"instance_url": o.srv.URL,
		"id":           o.srv.URL + "/id/00D/005",
		"token_type":   "Bearer",
		"issued_at":    "1735689600000",
		"scope":        "api",
	})
}

func (o *fakeOrg) Calls() []apexCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]apexCall(nil), o.calls...)
}

func (o *fakeOrg) SetApex(h func(i int, w http.ResponseWriter, r *http.Request)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.apex = h
}

func (o *fakeOrg) SetTokenFailure(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokenFail = fail
}

func newTestAuthenticator(t *testing.T, loginURL string, keys KeySource) *Authenticator {
	t.Helper()
	return NewAuthenticator(loginURL, "test@example.com", "test-consumer-key", keys,
		httpclient.NewClientWithLogger(zap.NewNop(), time.Second), metrics.Nop(), zap.NewNop())
}
