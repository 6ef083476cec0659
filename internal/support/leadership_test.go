package support

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRunWithLeaderRejectsMissingArguments(t *testing.T) {
	run := func(context.Context) {}

	if err := RunWithLeader(context.Background(), nil, "geogate:leader:test", time.Second, run); err == nil {
		t.Fatal("expected error for nil client")
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if err := RunWithLeader(context.Background(), client, "geogate:leader:test", time.Second, nil); err == nil {
		t.Fatal("expected error for nil run function")
	}
}

func TestRunWithLeaderStopsWithContext(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	ran := false
	err := RunWithLeader(ctx, client, "geogate:leader:test", time.Second, func(context.Context) { ran = true })
	if err == nil || ctx.Err() == nil {
		t.Fatalf("RunWithLeader returned %v before the context ended", err)
	}
	if ran {
		t.Fatal("run called without holding the lock")
	}
}
