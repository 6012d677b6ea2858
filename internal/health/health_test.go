package health

import (
	"context"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAggregatesResults(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("gateway", func(_ context.Context) Status {
		return Status{Name: "gateway", Healthy: true, Detail: "circuit closed"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthySinksAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("payout_rail", func(_ context.Context) Status {
		return Status{Name: "payout_rail", Healthy: false, Detail: "circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "circuit open" {
		t.Fatalf("expected detail 'circuit open', got %q", statuses[1].Detail)
	}
}
