package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradehook/internal/models"
)

func TestCleanupPrunesOnlyRowsPastRetention(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	old := models.NewLocalOrder(uuid.New(), uuid.New())
	old.CreatedAt = now.Add(-31 * 24 * time.Hour)
	recent := models.NewLocalOrder(uuid.New(), uuid.New())
	recent.CreatedAt = now.Add(-time.Hour)

	ctx := context.Background()
	if err := repo.CreateOrder(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateOrder(ctx, recent); err != nil {
		t.Fatal(err)
	}

	job := NewCleanup(repo, 24*time.Hour, 30*24*time.Hour, zerolog.Nop())
	job.now = func() time.Time { return now }

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.order(old.ID) != nil {
		t.Error("row past retention survived")
	}
	if repo.order(recent.ID) == nil {
		t.Error("recent row was pruned")
	}
}
