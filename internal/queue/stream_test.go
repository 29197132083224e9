package queue

import (
	"context"
	"testing"
)

func TestStreamQueueRoundTrip(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	q := NewStreamQueue(rdb, "aiconnect:test", "workers", "w1", -1)
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := q.EnsureGroup(ctx); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	if _, err := q.Enqueue(ctx, Job{Kind: JobChat, ChatID: 5, UserID: 6, Prompt: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	job := msgs[0].Job
	if job.Kind != JobChat || job.ChatID != 5 || job.Prompt != "hi" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.JobID == "" || job.EnqueuedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp, got %+v", job)
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n := rdb.XLen(ctx, "aiconnect:test").Val(); n != 0 {
		t.Fatalf("expected stream empty after ack, got %d", n)
	}
}

func TestStreamQueueRejectsUnknownKind(t *testing.T) {
	_, rdb := newRedis(t)
	q := NewStreamQueue(rdb, "aiconnect:test", "workers", "w1", -1)
	if _, err := q.Enqueue(context.Background(), Job{Kind: "dance"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
