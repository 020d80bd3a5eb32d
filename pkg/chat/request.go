package chat

// Request is the body of POST /api/chat, both inbound and to the gateway.
// Message is a pointer so an explicit null can be told apart from a string.
type Request struct {
	Message *string `json:"message"`
}

// Text returns the message, or "" when it is absent or null.
func (r Request) Text() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// NewRequest builds a Request carrying message.
func NewRequest(message string) Request {
	return Request{Message: &message}
}
