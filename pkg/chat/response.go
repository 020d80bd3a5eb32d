package chat

// Response is the body returned by POST /api/chat.
type Response struct {
	Reply string `json:"reply"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
