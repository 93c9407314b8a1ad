package pricebook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/natserract/distributors/pkg/config"
	"github.com/natserract/distributors/pkg/metrics"
	sfapex "github.com/natserract/distributors/pkg/salesforce/apex"
	"github.com/natserract/distributors/pkg/salesforce/jks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockApex struct {
	mock.Mock
}

func (m *mockApex) Execute(ctx context.Context, endpoint, method string, payload map[string]any) (json.RawMessage, error) {
	args := m.Called(ctx, endpoint, method, payload)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

type testServer struct {
	handler http.Handler
	apex    *mockApex
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		AppName:        config.DefaultAppName,
		PartnerMDMID:   config.DefaultPartnerMDMID,
		MetricsEnabled: true,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	apex := &mockApex{}
	t.Cleanup(func() { apex.AssertExpectations(t) })

	return &testServer{
		handler: NewRouter(cfg, apex, prometheus.NewRegistry(), zap.New(core)),
		apex:    apex,
		logs:    logs,
	}
}

func (s *testServer) get(path string, authenticated bool, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authenticated {
		req.SetBasicAuth("partner", "partner-secret")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestDataRoutes_RelayBodyVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		endpoint string
		payload  map[string]any
	}{
		{
			name:     "pricebook list",
			path:     "/api/distributors/pricebook_list",
			endpoint: EndpointPricebookList,
			payload:  map[string]any{"mdmId": "MDM-12345"},
		},
		{
			name:     "pricebook",
			path:     "/api/distributors/pricebook?pricebook_id=D000001",
			endpoint: EndpointPricebook,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000001"},
		},
		{
			name:     "naps pricebook",
			path:     "/api/distributors/naps_pricebook?pricebook_id=D000002",
			endpoint: EndpointNapsPricebook,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000002"},
		},
		{
			name:     "pricebook change summary",
			path:     "/api/distributors/pricebook_change_summary?pricebook_id=D000001",
			endpoint: EndpointPricebookChangeSummary,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000001"},
		},
		{
			name:     "discount bands without pricebook",
			path:     "/api/distributors/discount_bands",
			endpoint: EndpointDiscountBands,
			payload:  map[string]any{"mdmId": "MDM-12345"},
		},
		{
			name:     "discount bands for a pricebook",
			path:     "/api/distributors/discount_bands?pricebook_id=D000001",
			endpoint: EndpointDiscountBands,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000001"},
		},
		{
			name:     "legacy pricebook list",
			path:     "/api/distributors/PricebookList",
			endpoint: EndpointPricebookList,
			payload:  map[string]any{"mdmId": "MDM-12345"},
		},
		{
			name:     "legacy pricebook",
			path:     "/api/distributors/Pricebook?pricebookId=D000001",
			endpoint: EndpointPricebook,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000001"},
		},
		{
			name:     "legacy change summary",
			path:     "/api/distributors/PricebookChangeSummary?pricebookId=D000001",
			endpoint: EndpointPricebookChangeSummary,
			payload:  map[string]any{"mdmId": "MDM-12345", "pricebookId": "D000001"},
		},
		{
			name:     "legacy discount bands ignore pricebook",
			path:     "/api/distributors/DiscountBands?pricebookId=D000001",
			endpoint: EndpointDiscountBands,
			payload:  map[string]any{"mdmId": "MDM-12345"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			body := fmt.Sprintf(`[{"endpoint":%q, "odd spacing" : true}]`, tt.endpoint)
			s.apex.On("Execute", mock.Anything, tt.endpoint, http.MethodGet, tt.payload).
				Return(json.RawMessage(body), nil).Once()

			rec := s.get(tt.path, true)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, body, rec.Body.String())
		})
	}
}

func TestDiscountBands_Example(t *testing.T) {
	s := newTestServer(t)
	s.apex.On("Execute", mock.Anything, "partnerpricebook/discountbands", "GET", map[string]any{"mdmId": "MDM-12345"}).
		Return(json.RawMessage(`{"bands":[{"tier":"gold","discount":0.15}]}`), nil).Once()

	rec := s.get("/api/distributors/discount_bands", true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"bands":[{"tier":"gold","discount":0.15}]}`, rec.Body.String())
}

func TestDataRoutes_MissingRequiredParam(t *testing.T) {
	tests := []struct {
		path  string
		param string
	}{
		{"/api/distributors/pricebook", "pricebook_id"},
		{"/api/distributors/naps_pricebook", "pricebook_id"},
		{"/api/distributors/pricebook_change_summary", "pricebook_id"},
		{"/api/distributors/Pricebook", "pricebookId"},
		{"/api/distributors/PricebookChangeSummary", "pricebookId"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.get(tt.path, true)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.JSONEq(t,
				fmt.Sprintf(`{"detail":[{"loc":["query",%q],"msg":"field required","type":"value_error.missing"}]}`, tt.param),
				rec.Body.String())
			s.apex.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDataRoutes_RequireBasicCredentials(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/distributors/pricebook_list", false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Basic", rec.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"detail":"Not authenticated"}`, rec.Body.String())
	s.apex.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDataRoutes_AppNamePrefix(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.AppName = "resellers" })
	s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
		Return(json.RawMessage(`[]`), nil).Once()

	assert.Equal(t, http.StatusNotFound, s.get("/api/distributors/pricebook_list", true).Code)
	assert.Equal(t, http.StatusOK, s.get("/api/resellers/pricebook_list", true).Code)
}

func TestDataRoutes_PartnerIdentifier(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.PartnerMDMID = "MDM-99999" })
	s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, map[string]any{"mdmId": "MDM-99999"}).
		Return(json.RawMessage(`[]`), nil).Once()

	assert.Equal(t, http.StatusOK, s.get("/api/distributors/pricebook_list", true).Code)
}

func TestHealthRoutes(t *testing.T) {
	for _, path := range []string{"/", "/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.get(path, false)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())
			assert.Zero(t, s.logs.FilterMessage("Request completed").Len())
			s.apex.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAccessLog(t *testing.T) {
	s := newTestServer(t)
	s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
		Return(json.RawMessage(`[]`), nil).Once()

	rec := s.get("/api/distributors/pricebook_list", true, RequestIDHeader, "req-123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	entries := s.logs.FilterMessage("Request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/distributors/pricebook_list", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.Equal(t, "req-123", fields["request_id"])
}

func TestRequestID_Generated(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/livez", false)

	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestUpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{
			name:   "unreadable keystore",
			err:    fmt.Errorf("%w: open /etc/keystore.jks: no such file or directory", jks.ErrKeystoreUnreadable),
			status: http.StatusInternalServerError,
			detail: "Salesforce credentials are unavailable",
		},
		{
			name:   "wrong certificate password",
			err:    fmt.Errorf("%w: alias \"sf\"", jks.ErrDecryption),
			status: http.StatusInternalServerError,
			detail: "Salesforce credentials are unavailable",
		},
		{
			name:   "session refused",
			err:    fmt.Errorf("%w: invalid_grant: user hasn't approved this consumer", sfapex.ErrSession),
			status: http.StatusBadGateway,
			detail: "Could not establish a Salesforce session",
		},
		{
			name:   "apex returned an error status",
			err:    &sfapex.APIError{Endpoint: EndpointPricebookList, Method: "GET", StatusCode: 500, Body: []byte(`[{"errorCode":"APEX_ERROR"}]`)},
			status: http.StatusBadGateway,
			detail: "Salesforce call failed",
		},
		{
			name:   "apex timed out",
			err:    fmt.Errorf("%w: GET %s: %w", sfapex.ErrUpstreamCall, EndpointPricebookList, context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			detail: "Salesforce did not respond in time",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			detail: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
				Return(nil, tt.err).Once()

			rec := s.get("/api/distributors/pricebook_list", true)

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"detail":%q}`, tt.detail), rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "APEX_ERROR")
			s.apex.AssertNumberOfCalls(t, "Execute", 1)

			failed := s.logs.FilterMessage("Request failed").All()
			require.Len(t, failed, 1)
			assert.Contains(t, failed[0].ContextMap()["error"], tt.err.Error())
		})
	}
}

func TestIdentityHeader(t *testing.T) {
	identity := base64.StdEncoding.EncodeToString([]byte(
		`{"identity":{"account_number":"540155","org_id":"1979710","type":"User","user":{"username":"jdoe"}}}`))

	t.Run("decoded and logged", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.get("/livez", false, "x-rh-identity", identity)
		require.Equal(t, http.StatusOK, rec.Code)

		entries := s.logs.FilterMessage("x-rh-identity").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "540155", fields["account_number"])
		assert.Equal(t, "1979710", fields["org_id"])
		assert.Equal(t, "jdoe", fields["username"])
	})

	for name, raw := range map[string]string{
		"not base64": "%%%not-base64%%%",
		"not json":   base64.StdEncoding.EncodeToString([]byte("hello")),
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestServer(t)
			s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
				Return(json.RawMessage(`[]`), nil).Once()

			rec := s.get("/api/distributors/pricebook_list", true, "x-rh-identity", raw)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, 1, s.logs.FilterMessage("Failed to decode x-rh-identity header").Len())
			assert.Zero(t, s.logs.FilterMessage("x-rh-identity").Len())
		})
	}
}

func TestStrictResponseModels(t *testing.T) {
	strict := func(c *config.Config) { c.StrictResponseModels = true }

	t.Run("unknown fields are dropped", func(t *testing.T) {
		s := newTestServer(t, strict)
		s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
			Return(json.RawMessage(`[{
				"pricebook_id": "D000001",
				"geo": "NA",
				"pricebook_type": "Commercial",
				"currency_code": "USD",
				"name": "Commercial - Distributor NA USD Q3 2025",
				"version": "1",
				"effective_start_date": "07/01/2025",
				"effective_end_date": "10/01/2025",
				"internal_margin": 0.42
			}]`), nil).Once()

		rec := s.get("/api/distributors/pricebook_list", true)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[{
			"pricebook_id": "D000001",
			"geo": "NA",
			"pricebook_type": "Commercial",
			"currency_code": "USD",
			"name": "Commercial - Distributor NA USD Q3 2025",
			"version": "1",
			"effective_start_date": "07/01/2025",
			"effective_end_date": "10/01/2025"
		}]`, rec.Body.String())
	})

	t.Run("invalid enum is rejected", func(t *testing.T) {
		s := newTestServer(t, strict)
		s.apex.On("Execute", mock.Anything, EndpointPricebookList, http.MethodGet, mock.Anything).
			Return(json.RawMessage(`[{"pricebook_id":"D1","geo":"MARS","pricebook_type":"Commercial","currency_code":"USD","name":"n","version":"1","effective_start_date":"a","effective_end_date":"b"}]`), nil).Once()

		rec := s.get("/api/distributors/pricebook_list", true)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"detail":"Response validation error"}`, rec.Body.String())
	})

	t.Run("legacy routes are relayed as-is", func(t *testing.T) {
		s := newTestServer(t, strict)
		s.apex.On("Execute", mock.Anything, EndpointDiscountBands, http.MethodGet, mock.Anything).
			Return(json.RawMessage(`{"bands":[]}`), nil).Once()

		rec := s.get("/api/distributors/DiscountBands", true)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"bands":[]}`, rec.Body.String())
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncReauth()

	cfg := &config.Config{AppName: "distributors", PartnerMDMID: "MDM-12345", MetricsEnabled: true}
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewRouter(cfg, &mockApex{}, reg, zap.New(core))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "distributors_salesforce_reauthentications_total 1")
	assert.Zero(t, logs.FilterMessage("Request completed").Len())

	cfg.MetricsEnabled = false
	h = NewRouter(cfg, &mockApex{}, reg, zap.New(core))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.get("/api/distributors/product_notes", true)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, rec.Body.String())
}
