package auth

// OperatorClaims identifies the caller of operator endpoints
type OperatorClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}

// Roles
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Auth errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
