package pricebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sfapex "github.com/natserract/distributors/pkg/salesforce/apex"
	"github.com/natserract/distributors/pkg/salesforce/jks"
	"go.uber.org/zap"
)

var (
	// ErrValidation means a request was missing a required query parameter.
	ErrValidation = errors.New("request validation failed")

	// ErrResponseModel means the upstream body did not fit the declared
	// response model. Only raised when strict response models are enabled.
	ErrResponseModel = errors.New("upstream response does not match response model")
)

// MissingParamError names a required query parameter that was not sent.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("query parameter %q is required", e.Param)
}

func (e *MissingParamError) Unwrap() error { return ErrValidation }

// validationDetail mirrors the 422 body FastAPI clients already parse.
type validationDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type errorResponse struct {
	Detail interface{} `json:"detail"`
}

// statusFor maps an error from the Apex layer (or the handler itself) to the
// HTTP status and the message shown to the caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, "Validation error"
	case errors.Is(err, jks.ErrCredential):
		return http.StatusInternalServerError, "Salesforce credentials are unavailable"
	case errors.Is(err, context.DeadlineExceeded) &&
		(errors.Is(err, sfapex.ErrUpstreamCall) || errors.Is(err, sfapex.ErrSession)):
		return http.StatusGatewayTimeout, "Salesforce did not respond in time"
	case errors.Is(err, sfapex.ErrSession):
		return http.StatusBadGateway, "Could not establish a Salesforce session"
	case errors.Is(err, sfapex.ErrUpstreamCall):
		return http.StatusBadGateway, "Salesforce call failed"
	case errors.Is(err, ErrResponseModel):
		return http.StatusInternalServerError, "Response validation error"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Detail: msg})
}

// respondError logs the full error and writes a sanitized body.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var missing *MissingParamError
	if errors.As(err, &missing) {
		logger.Debug("Rejected request with missing parameter",
			zap.String("path", r.URL.Path),
			zap.String("param", missing.Param))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: []validationDetail{{
			Loc:  []string{"query", missing.Param},
			Msg:  "field required",
			Type: "value_error.missing",
		}}})
		return
	}

	status, msg := statusFor(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.Int("status_code", status),
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	}
	var apiErr *sfapex.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.Int("upstream_status", apiErr.StatusCode))
	}
	if status >= 500 {
		logger.Error("Request failed", fields...)
	} else {
		logger.Warn("Request failed", fields...)
	}
	writeDetail(w, status, msg)
}
