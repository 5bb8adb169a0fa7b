package pgconn

import (
	"context"
	"time"

	"github.com/pgwire/pgconn/internal/buffer"
)

// Notification is a decoded NotificationResponse: the notifying backend's
// process ID, the channel name, and the optional payload.
type Notification struct {
	ProcessID int32
	Channel   string
	Payload   string
}

func decodeNotificationResponse(reader *buffer.Reader) (*Notification, error) {
	pid, err := reader.GetInt32()
	if err != nil {
		return nil, err
	}
	channel, err := reader.GetString()
	if err != nil {
		return nil, err
	}
	payload, err := reader.GetString()
	if err != nil {
		return nil, err
	}

	return &Notification{ProcessID: pid, Channel: channel, Payload: payload}, nil
}

// notificationQueue is the bounded, backpressured queue NotificationResponse
// messages land in as they're observed anywhere in the reply stream
// (spec.md C6): async messages never affect the pipeline state machine,
// they only update this queue, the warning chain, or the parameter map.
type notificationQueue struct {
	ch chan *Notification
}

func newNotificationQueue(capacity int) *notificationQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &notificationQueue{ch: make(chan *Notification, capacity)}
}

// push enqueues a notification, dropping the oldest entry if the queue is
// full rather than blocking the read loop — backpressure is on the caller
// per spec.md's Data Model note on Notice/Notification/Warning queues, but
// the read loop itself must never stall waiting for a slow consumer.
func (q *notificationQueue) push(n *Notification) {
	select {
	case q.ch <- n:
	default:
		select {
		case <-q.ch:
		default:
		}
		select {
		case q.ch <- n:
		default:
		}
	}
}

// GetNotifications drains any notifications already queued; if none are
// queued it performs a bounded wait of up to timeout for one to arrive.
// A timeout of zero returns immediately with whatever is already queued.
func (c *Conn) GetNotifications(ctx context.Context, timeout time.Duration) []*Notification {
	var out []*Notification

	for {
		select {
		case n := <-c.notifications.ch:
			out = append(out, n)
			continue
		default:
		}
		break
	}

	if len(out) > 0 || timeout <= 0 {
		return out
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-c.notifications.ch:
		out = append(out, n)
		return out
	case <-timer.C:
		return out
	case <-ctx.Done():
		return out
	}
}
