package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tranvh/contextgate/internal/sharecache"
	"github.com/tranvh/contextgate/pkg/models"
)

func sampleShare(owner string) ShareRequest {
	return ShareRequest{
		Title:   "Trip planning",
		OwnerID: owner,
		Messages: []models.SharedMessage{
			{Role: models.RoleUser, Content: "Where should we go in October?", Timestamp: time.Now()},
			{Role: models.RoleAssistant, Content: "Hoi An is lovely that time of year.", Timestamp: time.Now()},
		},
	}
}

func TestSharePublishFetch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &scriptedProvider{}, Config{ShareBaseURL: "https://example.com/shared"})

	result, err := svc.Share(ctx, sampleShare("owner-1"))
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if result.ShareID == "" {
		t.Fatal("share ID should be assigned")
	}
	if !strings.HasSuffix(result.ShareURL, "/"+result.ShareID) {
		t.Errorf("ShareURL = %q", result.ShareURL)
	}

	first, err := svc.FetchShared(result.ShareID)
	if err != nil {
		t.Fatalf("FetchShared: %v", err)
	}
	if first.Title != "Trip planning" || len(first.Messages) != 2 {
		t.Errorf("fetched = %+v", first)
	}
	if first.ViewCount != 1 {
		t.Errorf("ViewCount = %d, want 1", first.ViewCount)
	}

	// Each fetch increments the view count by exactly one.
	second, err := svc.FetchShared(result.ShareID)
	if err != nil {
		t.Fatal(err)
	}
	if second.ViewCount != 2 {
		t.Errorf("ViewCount = %d, want 2", second.ViewCount)
	}

	// The returned snapshot is detached from the cache.
	second.Title = "mutated"
	third, _ := svc.FetchShared(result.ShareID)
	if third.Title != "Trip planning" {
		t.Error("mutating a fetched share must not affect the cached copy")
	}
}

func TestSharePayloadLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &scriptedProvider{}, Config{MaxSharePayloadBytes: 200})

	req := sampleShare("owner-1")
	req.Messages[0].Content = strings.Repeat("x", 400)
	_, err := svc.Share(ctx, req)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestUnshareOwnerOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &scriptedProvider{}, Config{})

	result, err := svc.Share(ctx, sampleShare("owner-1"))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Unshare(ctx, result.ShareID, "intruder"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("err = %v, want ErrNotOwner", err)
	}
	if _, err := svc.FetchShared(result.ShareID); err != nil {
		t.Error("share must survive a rejected unshare")
	}

	if err := svc.Unshare(ctx, result.ShareID, "owner-1"); err != nil {
		t.Fatalf("Unshare: %v", err)
	}
	if _, err := svc.FetchShared(result.ShareID); !errors.Is(err, sharecache.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after unshare", err)
	}
}

func TestShareExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &scriptedProvider{}, Config{ShareTTL: 10 * time.Millisecond})

	result, err := svc.Share(ctx, sampleShare(""))
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := svc.FetchShared(result.ShareID); !errors.Is(err, sharecache.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after TTL", err)
	}
}

func TestShareStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, &scriptedProvider{}, Config{})

	result, _ := svc.Share(ctx, sampleShare(""))
	if _, err := svc.FetchShared(result.ShareID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.FetchShared("missing"); err == nil {
		t.Fatal("expected miss")
	}

	stats := svc.ShareStats()
	if stats.TotalKeys != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v", stats)
	}

	health := svc.ShareHealth()
	if health.Status != "healthy" {
		t.Errorf("health = %+v", health)
	}
}
