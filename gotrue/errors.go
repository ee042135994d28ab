package gotrue

import (
	"encoding/json"
	"net/http"
	"strings"

	serrors "github.com/aromachat/authsync/errors"
)

// apiError covers the error body shapes the server emits: the newer
// {code, error_code, msg} form and the legacy {error, error_description}
// and {message} forms.
type apiError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`

	Err            string `json:"error"`
	ErrDescription string `json:"error_description"`
	Message        string `json:"message"`
}

func (e *apiError) description() string {
	for _, s := range []string{e.Msg, e.ErrDescription, e.Message, e.Err} {
		if s != "" {
			return s
		}
	}
	return "identity provider request failed"
}

// mapError turns a non-2xx provider response into an AuthError with a stable
// code. Unrecognized bodies fall back to status-based classification.
func mapError(status int, body []byte) *serrors.AuthError {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	desc := ae.description()

	if code, ok := codeFromErrorCode(ae.ErrorCode); ok {
		return withStatus(code, desc, status)
	}
	if code, ok := codeFromLegacy(ae, status); ok {
		return withStatus(code, desc, status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return withStatus(serrors.InvalidToken, desc, status)
	case status == http.StatusTooManyRequests:
		return withStatus(serrors.RateLimited, desc, status)
	default:
		e := serrors.NewUnknown(desc, nil)
		e.Status = status
		return e
	}
}

func withStatus(code, desc string, status int) *serrors.AuthError {
	return &serrors.AuthError{Code: code, Description: desc, Status: status}
}

// codeFromErrorCode maps the newer error_code field.
func codeFromErrorCode(errorCode string) (string, bool) {
	switch errorCode {
	case "invalid_credentials":
		return serrors.InvalidCredentials, true
	case "email_exists", "user_already_exists", "phone_exists":
		return serrors.EmailInUse, true
	case "weak_password":
		return serrors.WeakPassword, true
	case "email_not_confirmed":
		return serrors.EmailUnconfirmed, true
	case "over_request_rate_limit", "over_email_send_rate_limit":
		return serrors.RateLimited, true
	case "refresh_token_not_found", "refresh_token_already_used", "session_not_found", "session_expired":
		return serrors.SessionExpired, true
	case "bad_jwt", "no_authorization":
		return serrors.InvalidToken, true
	case "":
		return "", false
	default:
		return "", false
	}
}

// codeFromLegacy maps the older error/msg shapes by their known phrasings.
func codeFromLegacy(ae apiError, status int) (string, bool) {
	desc := ae.description()
	lower := strings.ToLower(desc)

	switch ae.Err {
	case "invalid_grant":
		if strings.Contains(lower, "invalid login credentials") {
			return serrors.InvalidCredentials, true
		}
		if strings.Contains(lower, "email not confirmed") {
			return serrors.EmailUnconfirmed, true
		}
		return serrors.SessionExpired, true
	case "invalid_request":
		return "", false
	}

	switch {
	case strings.Contains(lower, "invalid login credentials"):
		return serrors.InvalidCredentials, true
	case strings.Contains(lower, "already registered"),
		strings.Contains(lower, "already been registered"):
		return serrors.EmailInUse, true
	case strings.Contains(lower, "password should be"),
		strings.Contains(lower, "password is too weak"):
		return serrors.WeakPassword, true
	case strings.Contains(lower, "email not confirmed"):
		return serrors.EmailUnconfirmed, true
	case status == http.StatusTooManyRequests:
		return serrors.RateLimited, true
	}
	return "", false
}
