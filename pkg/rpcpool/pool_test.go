package rpcpool

import (
	"context"
	"errors"
	"testing"
)

func TestRoundRobinAndHealth(t *testing.T) {
	pool := NewPool(nil, 0)
	pool.AddEndpoint("https://a.example.com")
	pool.AddEndpoint("https://b.example.com")
	pool.AddEndpoint("https://b.example.com") // duplicate ignored

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		url, err := pool.GetEndpoint(context.Background())
		if err != nil {
			t.Fatalf("get endpoint: %v", err)
		}
		seen[url]++
	}
	if seen["https://a.example.com"] != 2 || seen["https://b.example.com"] != 2 {
		t.Fatalf("round robin distribution: %v", seen)
	}

	pool.MarkUnhealthy("https://a.example.com", errors.New("timeout"))
	if pool.HealthyCount() != 1 {
		t.Fatalf("healthy count = %d, want 1", pool.HealthyCount())
	}
	for i := 0; i < 3; i++ {
		url, err := pool.GetEndpoint(context.Background())
		if err != nil {
			t.Fatalf("get endpoint: %v", err)
		}
		if url != "https://b.example.com" {
			t.Fatalf("unhealthy endpoint handed out: %s", url)
		}
	}

	pool.MarkUnhealthy("https://b.example.com", errors.New("behind"))
	if _, err := pool.GetEndpoint(context.Background()); err != ErrNoHealthyEndpoints {
		t.Fatalf("expected ErrNoHealthyEndpoints, got %v", err)
	}

	pool.Stop()
	if _, err := pool.GetEndpoint(context.Background()); err != ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}
