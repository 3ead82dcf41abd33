package dto

type ErrorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	CurrentState      string `json:"current_state,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type OTPResponse struct {
	Code string `json:"code"`
}
