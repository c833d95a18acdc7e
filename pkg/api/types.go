package api

// UsageResponse is the GET /v1/usage body: the caller's standing within the
// current calendar month.
type UsageResponse struct {
	UserID    string `json:"user_id"`
	Plan      string `json:"plan"`
	Period    string `json:"period"`
	Count     int    `json:"count"`
	Cap       int    `json:"cap"`
	Remaining int    `json:"remaining"`
}

// ErrorResponse is the JSON error envelope shared by every failure path.
// Field is set on validation errors; Count and Cap on quota rejections.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Count int    `json:"count,omitempty"`
	Cap   int    `json:"cap,omitempty"`
}
