package service

import (
	"Parley/internal/pkg/mongo"
	"context"
	"testing"
	"time"
)

func newTestSweeper(window time.Duration, batch int) (*fakeMessageRepo, *fakeConvRepo, *Sweeper) {
	repo, convRepo, _, status := newTestStatus()
	return repo, convRepo, NewSweeper(repo, convRepo, status, window, batch)
}

func TestSweepUserDeliversOfflineBacklog(t *testing.T) {
	repo, convRepo, sweeper := newTestSweeper(0, 0)
	convRepo.convIDs[2] = []uint64{10, 11}

	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)
	seedMessage(repo, "m2", 11, 1, mongo.StatusSent)
	// 自己发的不补投
	seedMessage(repo, "m3", 10, 2, mongo.StatusSent)
	// 非成员会话不在扫描范围
	seedMessage(repo, "m4", 99, 1, mongo.StatusSent)

	swept := sweeper.SweepUser(context.Background(), 2)
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	for _, id := range []string{"m1", "m2"} {
		got := repo.get(id)
		if got.Status != mongo.StatusDelivered || !got.WasDeliveredTo(2) {
			t.Errorf("%s: status=%s delivered_to=%v, want delivered to user 2", id, got.Status, got.DeliveredTo)
		}
	}
	if repo.get("m3").Status != mongo.StatusSent {
		t.Errorf("own message must not be swept")
	}
	if repo.get("m4").Status != mongo.StatusSent {
		t.Errorf("out-of-scope conversation must not be swept")
	}
}

func TestSweepConversationScoped(t *testing.T) {
	repo, _, sweeper := newTestSweeper(0, 0)

	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)
	seedMessage(repo, "m2", 11, 1, mongo.StatusSent)

	swept := sweeper.SweepConversation(context.Background(), 10, 2)
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if repo.get("m2").Status != mongo.StatusSent {
		t.Errorf("other conversations must stay untouched")
	}
}

func TestSweepIdempotent(t *testing.T) {
	repo, convRepo, sweeper := newTestSweeper(0, 0)
	convRepo.convIDs[2] = []uint64{10}
	seedMessage(repo, "m1", 10, 1, mongo.StatusSent)

	if swept := sweeper.SweepUser(context.Background(), 2); swept != 1 {
		t.Fatalf("first sweep = %d, want 1", swept)
	}
	if swept := sweeper.SweepUser(context.Background(), 2); swept != 0 {
		t.Errorf("second sweep = %d, want 0", swept)
	}
	if got := repo.get("m1"); len(got.DeliveredTo) != 1 {
		t.Errorf("delivered_to = %v, repeated sweeps must not duplicate", got.DeliveredTo)
	}
}

func TestSweepHonorsWindow(t *testing.T) {
	repo, convRepo, sweeper := newTestSweeper(time.Hour, 0)
	convRepo.convIDs[2] = []uint64{10}

	stale := seedMessage(repo, "m1", 10, 1, mongo.StatusSent)
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	repo.put(stale)
	seedMessage(repo, "m2", 10, 1, mongo.StatusSent)

	swept := sweeper.SweepUser(context.Background(), 2)
	if swept != 1 {
		t.Fatalf("swept = %d, want only the in-window message", swept)
	}
	if repo.get("m1").Status != mongo.StatusSent {
		t.Errorf("messages older than the window must stay untouched")
	}
}

func TestSweepHonorsBatchLimit(t *testing.T) {
	repo, convRepo, sweeper := newTestSweeper(0, 3)
	convRepo.convIDs[2] = []uint64{10}

	for i := 0; i < 5; i++ {
		seedMessage(repo, string(rune('a'+i)), 10, 1, mongo.StatusSent)
	}

	if swept := sweeper.SweepUser(context.Background(), 2); swept != 3 {
		t.Errorf("swept = %d, want batch limit 3", swept)
	}
}
