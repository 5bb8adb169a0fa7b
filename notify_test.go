package pgconn

import (
	"context"
	"testing"
	"time"
)

func TestNotificationQueuePushDropsOldestWhenFull(t *testing.T) {
	q := newNotificationQueue(2)
	q.push(&Notification{Channel: "a"})
	q.push(&Notification{Channel: "b"})
	q.push(&Notification{Channel: "c"})

	var got []string
	for {
		select {
		case n := <-q.ch:
			got = append(got, n.Channel)
			continue
		default:
		}
		break
	}

	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected the oldest entry to be dropped, got %v", got)
	}
}

func TestGetNotificationsDrainsQueuedImmediately(t *testing.T) {
	c := &Conn{notifications: newNotificationQueue(4)}
	c.notifications.push(&Notification{Channel: "x"})
	c.notifications.push(&Notification{Channel: "y"})

	got := c.GetNotifications(context.Background(), 0)
	if len(got) != 2 {
		t.Fatalf("expected both queued notifications, got %v", got)
	}
}

func TestGetNotificationsReturnsEmptyWhenNothingArrivesBeforeTimeout(t *testing.T) {
	c := &Conn{notifications: newNotificationQueue(4)}

	start := time.Now()
	got := c.GetNotifications(context.Background(), 20*time.Millisecond)
	if got != nil {
		t.Fatalf("expected no notifications, got %v", got)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("expected GetNotifications to wait out the timeout")
	}
}

func TestGetNotificationsWakesOnArrivalDuringWait(t *testing.T) {
	c := &Conn{notifications: newNotificationQueue(4)}

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.notifications.push(&Notification{Channel: "z"})
	}()

	got := c.GetNotifications(context.Background(), time.Second)
	if len(got) != 1 || got[0].Channel != "z" {
		t.Fatalf("expected the notification pushed mid-wait, got %v", got)
	}
}

func TestGetNotificationsRespectsContextCancellation(t *testing.T) {
	c := &Conn{notifications: newNotificationQueue(4)}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	got := c.GetNotifications(ctx, time.Hour)
	if got != nil {
		t.Fatalf("expected no notifications, got %v", got)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("expected context cancellation to cut the wait short")
	}
}
