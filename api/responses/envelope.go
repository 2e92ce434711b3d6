package responses

// Envelope wraps every successful JSON body.
type Envelope struct {
	Data any `json:"data"`
}

// Failure is the error body. RequestID lets support find the matching log line.
type Failure struct {
	Error FailureBody `json:"error"`
}

type FailureBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
