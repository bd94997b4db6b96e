package dto

// ErrorResponse is the error body every endpoint returns: a stable machine
// readable kind in Error, a human sentence in Message, and the HTTP status
// echoed in Code.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func NewErrorResponse(kind, message string, code int) *ErrorResponse {
	return &ErrorResponse{Error: kind, Message: message, Code: code}
}
