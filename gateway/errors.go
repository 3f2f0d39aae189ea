package gateway

import "fmt"

// GatewayError is the base type for all model-backend failures. The
// Retryable flag drives the retry loop; concrete subtypes let callers
// branch on category with errors.As.
type GatewayError struct {
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// AuthError: authentication or authorization failed (bad API key,
// missing AWS credentials, denied IAM permissions). Fatal to the
// session; never retried.
type AuthError struct{ GatewayError }

// PolicyBlockedError: the proxy's content or DLP policy rejected the
// exchange. Fatal to the current turn, not to the session.
type PolicyBlockedError struct{ GatewayError }

// InvalidRequestError: the backend rejected the request body. Indicates
// a client bug; never retried.
type InvalidRequestError struct{ GatewayError }

// NotFoundError: the endpoint, gateway policy, or model does not exist.
type NotFoundError struct{ GatewayError }

// RateLimitError: too many requests; retryable after backoff.
type RateLimitError struct{ GatewayError }

// UnavailableError: the backend or the proxy's path to it is
// temporarily down; retryable.
type UnavailableError struct{ GatewayError }

// TimeoutError: the request exceeded its time budget; retryable.
type TimeoutError struct{ GatewayError }

// ErrorFromStatusCode maps an HTTP status from the AI Guard proxy to
// the appropriate error type. The detail string is included verbatim so
// block reasons reach the user.
func ErrorFromStatusCode(statusCode int, detail string) error {
	ge := GatewayError{StatusCode: statusCode}

	switch statusCode {
	case 400:
		ge.Message = withDetail("bad request: the request body was invalid", detail)
		return &InvalidRequestError{GatewayError: ge}
	case 401:
		ge.Message = withDetail("unauthorized: authentication failed, check the gateway API key", detail)
		return &AuthError{GatewayError: ge}
	case 403:
		ge.Message = withDetail("request blocked by Zscaler security policy (content or DLP rule)", detail)
		return &PolicyBlockedError{GatewayError: ge}
	case 404:
		ge.Message = withDetail("not found: the AI gateway policy or endpoint does not exist", detail)
		return &NotFoundError{GatewayError: ge}
	case 429:
		ge.Message = withDetail("rate limit exceeded", detail)
		ge.Retryable = true
		return &RateLimitError{GatewayError: ge}
	case 500, 502, 503:
		ge.Message = withDetail(fmt.Sprintf("gateway backend unavailable (status %d)", statusCode), detail)
		ge.Retryable = true
		return &UnavailableError{GatewayError: ge}
	case 504:
		ge.Message = withDetail("gateway timeout: the request to the model backend timed out", detail)
		ge.Retryable = true
		return &TimeoutError{GatewayError: ge}
	default:
		ge.Message = withDetail(fmt.Sprintf("unexpected gateway status %d", statusCode), detail)
		ge.Retryable = true
		return &ge
	}
}

// errorFromAWSCode maps a Bedrock SDK error code to the taxonomy used
// by both gateway variants.
func errorFromAWSCode(code, message string, cause error) error {
	ge := GatewayError{Message: fmt.Sprintf("%s: %s", code, message), Cause: cause}

	switch code {
	case "ThrottlingException", "TooManyRequestsException":
		ge.Retryable = true
		return &RateLimitError{GatewayError: ge}
	case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
		ge.Retryable = true
		return &UnavailableError{GatewayError: ge}
	case "ModelTimeoutException":
		ge.Retryable = true
		return &TimeoutError{GatewayError: ge}
	case "ValidationException", "SerializationException":
		return &InvalidRequestError{GatewayError: ge}
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return &AuthError{GatewayError: ge}
	case "ResourceNotFoundException":
		return &NotFoundError{GatewayError: ge}
	default:
		// Unknown AWS errors default to retryable.
		ge.Retryable = true
		return &ge
	}
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthError, *PolicyBlockedError, *InvalidRequestError, *NotFoundError:
		return false
	case *RateLimitError, *UnavailableError, *TimeoutError:
		return true
	case *GatewayError:
		return e.Retryable
	default:
		return false
	}
}

func withDetail(message, detail string) string {
	if detail == "" {
		return message
	}
	return message + ": " + detail
}
