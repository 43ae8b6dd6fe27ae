package chathub

import "matchgogo/backend/internal/models"

// Client is the interface for any type of connection (e.g., WebSocket, Telegram).
// It abstracts the underlying communication mechanism, allowing the registry to
// fan identity-addressed events out to different client types uniformly.
type Client interface {
	// GetUserID returns the verified identity that owns the connection.
	GetUserID() string
	// GetConnectionID returns the identifier of this particular connection.
	// One identity may hold several at once (multi-device).
	GetConnectionID() string

	// Enqueue hands env to the client's write loop without blocking. It
	// reports false when the client is closing or its buffer is full.
	Enqueue(env models.Envelope) bool

	// Run starts the client's read and write loops.
	Run()
	// Close stops the write loop. It is safe to call more than once.
	Close()
}
