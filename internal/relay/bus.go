// Package relay carries identity-addressed envelopes between server nodes,
// so a user connected to one node receives events raised on another.
package relay

import (
	"context"

	"matchgogo/backend/internal/models"
)

// Frame is what travels on the bus.
type Frame struct {
	Origin   string          `json:"origin"`
	Identity string          `json:"identity"`
	Envelope models.Envelope `json:"envelope"`
}

// Bus is a broadcast channel shared by every node.
type Bus interface {
	Publish(ctx context.Context, data []byte) error
	// Subscribe starts delivering messages to handler until ctx is done or
	// the bus is closed. Handler calls are sequential.
	Subscribe(ctx context.Context, handler func(data []byte)) error
	Close() error
}
