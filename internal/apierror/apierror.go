// Package apierror provides the error envelope returned by every 4xx/5xx
// response. Internal details (SQL errors, upstream bodies) are logged, not
// sent to clients.
package apierror

// APIError is the canonical error envelope.
type APIError struct {
	Message string `json:"message"`
}

func New(msg string) *APIError {
	return &APIError{Message: msg}
}

// ValidationError wraps per-field errors.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Message: "Error de validación", Fields: fields}
}

// Common messages.
const (
	MsgInternal     = "Error interno del servidor"
	MsgNotFound     = "Recurso no encontrado"
	MsgUnauthorized = "Autenticación requerida"
	MsgForbidden    = "Permisos insuficientes"
)
