package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound         = NewDomainError("NOT_FOUND", "Resource not found")
	ErrInvalidInput     = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState     = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrAlreadyRunning   = NewDomainError("ALREADY_RUNNING", "Simulation is already running")
	ErrNotRunning       = NewDomainError("NOT_RUNNING", "No simulation running")
	ErrClientInit       = NewDomainError("CLIENT_INIT_FAILED", "Evaluation client could not be initialized")
	ErrUpstreamRequest  = NewDomainError("UPSTREAM_REQUEST_FAILED", "Upstream request failed")
	ErrRateLimitReached = NewDomainError("RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
)
