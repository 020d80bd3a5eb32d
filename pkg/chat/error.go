// Package chat provides the wire representations of the relay's chat and
// health endpoints, shared by the relay server and the gateway client.
package chat

// ErrorResponse is returned for requests the relay cannot route (unknown paths).
type ErrorResponse struct {
	Error string `json:"error"`
}
