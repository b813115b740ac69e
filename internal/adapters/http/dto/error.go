package dto

// APIError is the body of every non-2xx response. Error is a stable,
// machine readable code such as "not_found".
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"status"`
}
