package interfaces

import "context"

// -----------------------------------------------------------------------------
// ITransport is the write side of one client connection, owned by the registry.
// -----------------------------------------------------------------------------

type ITransport interface {

	// WriteText sends one UTF-8 text message, honoring the ctx deadline.
	WriteText(ctx context.Context, data []byte) error

	// -----------------------------------------------------------------------------

	// Close sends a close frame with code and reason, then closes the connection.
	Close(code int, reason string) error

	// -----------------------------------------------------------------------------

	RemoteAddr() string
}
