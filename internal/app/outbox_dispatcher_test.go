package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jaypozo/grant-pathway/internal/store"
)

type outboxRepoStub struct {
	store.Repository

	queued    []store.OutboxEmail
	published []int64
	failed    []int64
	retries   []int
}

func (s *outboxRepoStub) ClaimOutboxEmails(ctx context.Context, batchSize, staleAfterSeconds int) ([]store.OutboxEmail, error) {
	claimed := s.queued
	s.queued = nil
	return claimed, nil
}

func (s *outboxRepoStub) MarkOutboxPublished(ctx context.Context, id int64) error {
	s.published = append(s.published, id)
	return nil
}

func (s *outboxRepoStub) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	s.failed = append(s.failed, id)
	s.retries = append(s.retries, retryAfterSeconds)
	return nil
}

type mailerStub struct {
	failFor map[string]error
	sent    []string
}

func (m *mailerStub) SendTemplate(ctx context.Context, recipient, subject, template string, variables map[string]string) error {
	if err, ok := m.failFor[recipient]; ok {
		return err
	}
	m.sent = append(m.sent, recipient)
	return nil
}

func TestFlushOnce_DeliversAndMarksPublished(t *testing.T) {
	repo := &outboxRepoStub{queued: []store.OutboxEmail{
		{ID: 1, Recipient: "a@example.com", Subject: "s", Template: "magic-link"},
		{ID: 2, Recipient: "b@example.com", Subject: "s", Template: "report-ready"},
	}}
	mailer := &mailerStub{}
	dispatcher := NewOutboxDispatcher(repo, mailer)

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(mailer.sent))
	}
	if len(repo.published) != 2 || len(repo.failed) != 0 {
		t.Fatalf("expected both emails marked published, got published=%v failed=%v", repo.published, repo.failed)
	}
}

func TestFlushOnce_FailureRequeuesOnlyTheFailedEmail(t *testing.T) {
	repo := &outboxRepoStub{queued: []store.OutboxEmail{
		{ID: 1, Recipient: "a@example.com", Attempts: 3},
		{ID: 2, Recipient: "b@example.com", Attempts: 1},
	}}
	mailer := &mailerStub{failFor: map[string]error{"a@example.com": errors.New("provider 500")}}
	dispatcher := NewOutboxDispatcher(repo, mailer)

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != 1 {
		t.Fatalf("expected only email 1 to be requeued, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != 2 {
		t.Fatalf("expected email 2 to be published, got %v", repo.published)
	}
	if repo.retries[0] != 8 {
		t.Fatalf("expected backoff of 8s after 3 attempts, got %d", repo.retries[0])
	}
}

func TestFlushOnce_EmptyOutboxIsQuiet(t *testing.T) {
	repo := &outboxRepoStub{}
	dispatcher := NewOutboxDispatcher(repo, &mailerStub{})

	if err := dispatcher.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if len(repo.published) != 0 || len(repo.failed) != 0 {
		t.Fatal("nothing should be marked when the outbox is empty")
	}
}

func TestRetryDelaySeconds_BackoffCurve(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{1, 2},
		{3, 8},
		{8, 256},
		{9, 300},
		{50, 300},
	}
	for _, tc := range cases {
		if got := retryDelaySeconds(tc.attempt); got != tc.want {
			t.Errorf("retryDelaySeconds(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := &outboxRepoStub{}
	dispatcher := NewOutboxDispatcher(repo, &mailerStub{})
	dispatcher.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancellation")
	}
}
