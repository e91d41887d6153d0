package scenesync

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"
)

// Publisher delivers outbound messages to the remote planning service. Calls
// are fire-and-forget: an implementation must not wait for acknowledgement.
type Publisher interface {
	PublishCollision(ctx context.Context, u CollisionUpdate) error
	PublishAttach(ctx context.Context, u AttachUpdate) error
}

// OutboundMessage is one entry of the outbox; exactly one of Collision and
// Attach is set.
type OutboundMessage struct {
	Seq       uint64
	Collision *CollisionUpdate
	Attach    *AttachUpdate
}

// ToMap renders the message as DoCommand output.
func (m OutboundMessage) ToMap() map[string]interface{} {
	var out map[string]interface{}
	switch {
	case m.Collision != nil:
		out = m.Collision.ToMap()
	case m.Attach != nil:
		out = m.Attach.ToMap()
	default:
		out = map[string]interface{}{}
	}
	out["seq"] = m.Seq
	return out
}

// Outbox is a bounded, thread-safe Publisher that keeps messages until a
// transport drains them. When full, the oldest message is dropped; the
// remote snapshot loop corrects whatever it carried.
type Outbox struct {
	logger logging.Logger

	mu       sync.Mutex
	buf      []OutboundMessage
	capacity int
	seq      uint64
	dropped  uint64
}

// NewOutbox returns an outbox holding at most capacity messages.
func NewOutbox(capacity int, logger logging.Logger) *Outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Outbox{
		logger:   logger,
		buf:      make([]OutboundMessage, 0, capacity),
		capacity: capacity,
	}
}

// PublishCollision enqueues a collision-object update.
func (o *Outbox) PublishCollision(ctx context.Context, u CollisionUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	o.push(OutboundMessage{Collision: &u})
	o.logger.Debugf("queued collision %s for %q", u.Op, u.ID)
	return nil
}

// PublishAttach enqueues an attach/detach update.
func (o *Outbox) PublishAttach(ctx context.Context, u AttachUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	o.push(OutboundMessage{Attach: &u})
	o.logger.Debugf("queued %s of %q on %s", u.Op, u.ID, u.Link)
	return nil
}

func (o *Outbox) push(m OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	m.Seq = o.seq
	if len(o.buf) == o.capacity {
		copy(o.buf, o.buf[1:])
		o.buf = o.buf[:len(o.buf)-1]
		o.dropped++
	}
	o.buf = append(o.buf, m)
}

// Drain returns and clears the queued messages in publish order.
func (o *Outbox) Drain() []OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]OutboundMessage, len(o.buf))
	copy(out, o.buf)
	o.buf = o.buf[:0]
	return out
}

// Stats returns the number of queued and dropped messages.
func (o *Outbox) Stats() (queued int, dropped uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf), o.dropped
}
