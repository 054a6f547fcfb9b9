package handlers

// AttemptRequest describes the client making an authentication attempt
type AttemptRequest struct {
	Username    string            `json:"username" validate:"max=255"`
	IPAddress   string            `json:"ip_address" validate:"omitempty,ip"`
	UserAgent   string            `json:"user_agent" validate:"max=1024"`
	Path        string            `json:"path" validate:"max=255"`
	HTTPAccept  string            `json:"http_accept" validate:"max=1025"`
	Credentials map[string]string `json:"credentials" validate:"max=32"`
}

// RecordAttemptRequest reports the outcome of an authentication attempt
type RecordAttemptRequest struct {
	AttemptRequest
	Outcome string `json:"outcome" validate:"required,oneof=success failure"`
}

// ResetQuery selects attempts to clear
type ResetQuery struct {
	IPAddress string `validate:"omitempty,ip"`
	Username  string `validate:"max=255"`
}

// ResetResponse reports how many attempts a reset removed
type ResetResponse struct {
	Removed int64  `json:"removed"`
	Message string `json:"message"`
}

// StatusResponse is the lockout state of one client key
type StatusResponse struct {
	Client            string `json:"client"`
	State             string `json:"state"`
	Failures          int    `json:"failures"`
	FailureLimit      int    `json:"failure_limit"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// HealthResponse reports store health
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}
