package job

import (
	"Parley/internal/pkg/mongo"
	"Parley/internal/service"
	"context"
	"testing"
	"time"
)

type stubMessageRepo struct {
	mongo.MessageRepo
	stuck []*mongo.Message
}

func (s *stubMessageRepo) FindStuckSending(_ context.Context, _ time.Time, _ int) ([]*mongo.Message, error) {
	return s.stuck, nil
}

type stubStatusService struct {
	service.StatusService
	failed map[string]string
}

func (s *stubStatusService) RecordFailure(_ context.Context, messageID string, reason string) error {
	s.failed[messageID] = reason
	return nil
}

func TestReaperFailsStuckSendingMessages(t *testing.T) {
	repo := &stubMessageRepo{stuck: []*mongo.Message{{ID: "m1"}, {ID: "m2"}}}
	status := &stubStatusService{failed: map[string]string{}}

	NewMessageReaperJob(repo, status).Run()

	if len(status.failed) != 2 {
		t.Fatalf("failed = %v, want m1 和 m2 都被标记", status.failed)
	}
	if status.failed["m1"] != "send timeout" {
		t.Errorf("reason = %q, want send timeout", status.failed["m1"])
	}
}

func TestReaperNoopWhenNothingStuck(t *testing.T) {
	status := &stubStatusService{failed: map[string]string{}}

	NewMessageReaperJob(&stubMessageRepo{}, status).Run()

	if len(status.failed) != 0 {
		t.Errorf("failed = %v, want 空", status.failed)
	}
}
