package relay

import (
	"context"
	"encoding/json"

	"matchgogo/backend/internal/logging"
	"matchgogo/backend/internal/metrics"
	"matchgogo/backend/internal/models"

	"go.uber.org/zap"
)

const outboxSize = 1024

// Local is the node's own delivery path, normally the connection registry.
type Local interface {
	Send(identity string, env models.Envelope) int
}

// Bridge delivers locally and forwards a copy to other nodes. It reports
// only local deliveries: a zero count means offline on this node.
type Bridge struct {
	local  Local
	bus    Bus
	nodeID string
	outbox chan Frame
	log    *zap.Logger
}

func NewBridge(local Local, bus Bus, nodeID string, log *zap.Logger) *Bridge {
	return &Bridge{
		local:  local,
		bus:    bus,
		nodeID: nodeID,
		outbox: make(chan Frame, outboxSize),
		log:    logging.OrNop(log),
	}
}

func (b *Bridge) Send(identity string, env models.Envelope) int {
	n := b.local.Send(identity, env)

	select {
	case b.outbox <- Frame{Origin: b.nodeID, Identity: identity, Envelope: env}:
	default:
		metrics.EnvelopesDropped.WithLabelValues("relay_outbox_full").Inc()
		b.log.Warn("relay outbox full, frame dropped",
			zap.String("identity", identity),
			zap.String("type", env.Type))
	}
	return n
}

// Run subscribes to the bus and publishes the outbox in order until ctx is
// cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.bus.Subscribe(ctx, b.deliver); err != nil {
		return err
	}
	b.log.Info("relay bridge started", zap.String("node", b.nodeID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-b.outbox:
			b.publish(ctx, f)
		}
	}
}

func (b *Bridge) publish(ctx context.Context, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		b.log.Error("relay encode frame", zap.Error(err))
		return
	}
	if err := b.bus.Publish(ctx, data); err != nil {
		metrics.EnvelopesDropped.WithLabelValues("relay_publish").Inc()
		b.log.Warn("relay publish", zap.String("type", f.Envelope.Type), zap.Error(err))
		return
	}
	metrics.RelayFrames.WithLabelValues("out").Inc()
}

func (b *Bridge) deliver(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		b.log.Warn("relay decode frame", zap.Error(err))
		return
	}
	if f.Origin == b.nodeID || f.Identity == "" {
		return
	}
	metrics.RelayFrames.WithLabelValues("in").Inc()
	b.local.Send(f.Identity, f.Envelope)
}
