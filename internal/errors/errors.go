package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentilens/sentilens/internal/core"
	"github.com/sentilens/sentilens/internal/core/store"
	"github.com/sentilens/sentilens/internal/metrics"
	"github.com/sentilens/sentilens/internal/observability"
	"github.com/sentilens/sentilens/internal/server/middleware"
)

// Error codes returned by the HTTP API.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConfigInvalid      = "CONFIG_INVALID"
	CodeCancelled          = "CANCELLED"
)

// User Errors (400-level)
func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeInvalidInput, message), errors.SeverityLow)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeNotFound, message), errors.SeverityLow)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeMethodNotAllowed, message), errors.SeverityLow)
}

func NewPayloadTooLargeError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodePayloadTooLarge, message), errors.SeverityLow)
}

// Server Errors (500-level)
func NewInternalError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeInternal, message), errors.SeverityHigh)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeServiceUnavailable, message), errors.SeverityMedium)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return withSeverity(errors.NewErrorEnvelope(CodeConfigInvalid, message), errors.SeverityHigh)
}

// Wrap builds an envelope for err carrying the request's correlation ID.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractTraceID(ctx))
	envelope = withWrappedError(envelope, err)
	return envelope
}

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return withSeverity(Wrap(ctx, CodeInvalidInput, err, message), errors.SeverityLow)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return withSeverity(Wrap(ctx, CodeInternal, err, message), errors.SeverityHigh)
}

// FromItemError maps a per-item failure onto an API envelope. The item's
// kind and upstream status travel in the details.
func FromItemError(ctx context.Context, itemErr *core.ItemError) *errors.ErrorEnvelope {
	if itemErr == nil {
		return WrapInternal(ctx, nil, "analysis produced no result")
	}

	code, severity := CodeExternalService, errors.SeverityMedium
	switch itemErr.Kind {
	case core.KindInput:
		code, severity = CodeInvalidInput, errors.SeverityLow
	case core.KindRateLimit:
		code = CodeRateLimited
	case core.KindCancelled:
		code, severity = CodeCancelled, errors.SeverityLow
	}

	envelope := errors.NewErrorEnvelope(code, itemErr.Message)
	if ctx != nil {
		envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	}
	details := map[string]interface{}{"kind": string(itemErr.Kind)}
	if itemErr.StatusCode > 0 {
		details["upstream_status"] = itemErr.StatusCode
	}
	envelope = envelope.WithDetails(details)
	return withSeverity(envelope, severity)
}

// Helper functions for ID generation

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// extractTraceID uses the correlation ID; no distributed tracing is wired.
func extractTraceID(ctx context.Context) string {
	return extractCorrelationID(ctx)
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		return withSeverity(env, errors.SeverityCritical)
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	var cfgErr *core.ConfigError
	if stderrors.As(err, &cfgErr) {
		return NewConfigInvalidError(cfgErr.Error())
	}
	if itemErr, ok := core.AsItemError(err); ok {
		return FromItemError(nil, itemErr)
	}
	if stderrors.Is(err, store.ErrRegistryFull) {
		return NewServiceUnavailableError(err.Error())
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return withSeverity(errors.NewErrorEnvelope(CodeTimeout, "request timed out"), errors.SeverityMedium)
	}

	env := errors.NewErrorEnvelope(CodeInternal, "unexpected error")
	env = withWrappedError(env, err)
	return withSeverity(env, errors.SeverityHigh)
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeInvalidInput, CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

func withSeverity(envelope *errors.ErrorEnvelope, severity errors.Severity) *errors.ErrorEnvelope {
	updated, err := envelope.WithSeverity(severity)
	if err != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})

	for key, value := range envelope.Details {
		details[key] = value
	}

	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}

	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}
	if envelope == nil {
		envelope = EnsureEnvelope(nil)
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		endpoint := r.URL.Path
		if pattern := middleware.RoutePattern(r); pattern != "" {
			endpoint = pattern
		}
		metrics.RecordErrorByEndpoint(endpoint, envelope.Code)
	}
}
