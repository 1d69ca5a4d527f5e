package common

// ErrorResponse is the JSON error envelope returned by the relay's HTTP surface
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Service string                 `json:"service,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse is the JSON success envelope for non-resource responses
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
