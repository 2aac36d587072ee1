package fswatch

import (
	"testing"
	"time"
)

func TestQueueDrainOrdersByPriorityThenTimestamp(t *testing.T) {
	q := newNotificationQueue()
	base := time.Now()

	q.enqueue(Notification{Type: TypeFileChanged, Priority: PriorityLow, Timestamp: base})
	q.enqueue(Notification{Type: TypeNewMessage, Priority: PriorityHigh, Timestamp: base.Add(2 * time.Millisecond)})
	q.enqueue(Notification{Type: TypeNewMessage, Priority: PriorityHigh, Timestamp: base.Add(1 * time.Millisecond)})
	q.enqueue(Notification{Type: TypeTaskBoardUpdated, Priority: PriorityMedium, Timestamp: base})

	out := q.drain(5)
	if len(out) != 4 {
		t.Fatalf("expected 4 notifications drained, got %d", len(out))
	}

	if out[0].Priority != PriorityHigh || out[1].Priority != PriorityHigh {
		t.Fatalf("expected the two high-priority notifications first, got %+v", out)
	}
	if !out[0].Timestamp.Before(out[1].Timestamp) {
		t.Fatal("expected the earlier high-priority notification to drain first")
	}
	if out[2].Priority != PriorityMedium || out[3].Priority != PriorityLow {
		t.Fatalf("expected medium then low priority last, got %+v", out[2:])
	}
}

func TestQueueDrainRespectsMaxAndLeavesRemainder(t *testing.T) {
	q := newNotificationQueue()
	for i := 0; i < 8; i++ {
		q.enqueue(Notification{Type: TypeFileChanged, Priority: PriorityLow, Timestamp: time.Now()})
	}

	first := q.drain(5)
	if len(first) != 5 {
		t.Fatalf("expected 5 drained, got %d", len(first))
	}
	if q.len() != 3 {
		t.Fatalf("expected 3 remaining in queue, got %d", q.len())
	}

	second := q.drain(5)
	if len(second) != 3 {
		t.Fatalf("expected 3 drained on second call, got %d", len(second))
	}
}

func TestQueueHasHighPriority(t *testing.T) {
	q := newNotificationQueue()
	if q.hasHighPriority() {
		t.Fatal("expected empty queue to report no high priority")
	}
	q.enqueue(Notification{Type: TypeFileChanged, Priority: PriorityLow})
	if q.hasHighPriority() {
		t.Fatal("expected low-priority-only queue to report no high priority")
	}
	q.enqueue(Notification{Type: TypeNewMessage, Priority: PriorityHigh})
	if !q.hasHighPriority() {
		t.Fatal("expected queue with a high priority item to report true")
	}
}
