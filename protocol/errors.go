package protocol

import "fmt"

// ErrorPayload is the body of an error envelope.
type ErrorPayload struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Error implements the error interface so a decoded payload can be returned directly.
func (e *ErrorPayload) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (code=%s)", e.Message, e.Code)
	}
	return e.Message
}

// AsError decodes an error envelope. Envelopes of other types, or error envelopes
// whose payload cannot be decoded, yield an ErrorPayload describing the problem.
func AsError(env *Envelope) *ErrorPayload {
	if env == nil || env.Type != TypeError {
		return &ErrorPayload{Message: "not an error envelope"}
	}
	var p ErrorPayload
	if err := env.Decode(&p); err != nil {
		return &ErrorPayload{Message: "unreadable error envelope", Details: err.Error()}
	}
	if p.Message == "" {
		p.Message = "unknown error"
	}
	return &p
}
