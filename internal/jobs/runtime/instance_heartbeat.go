package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	NodeHeartbeatKeyPrefix = "geogate:node:"
	nodeHeartbeatInterval  = 15 * time.Second
	nodeHeartbeatTTL       = 30 * time.Second
)

var nodeID = generateNodeID()

func generateNodeID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

// NodeID identifies this process among the nodes sharing one database.
func NodeID() string {
	return nodeID
}

func runNodeHeartbeat(ctx context.Context, client *redis.Client, key string, interval, ttl time.Duration) {
	beat := func() {
		if err := client.SetEx(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil && ctx.Err() == nil {
			log.Error("Failed to update node heartbeat", "key", key, "error", err)
		}
	}

	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// LaunchNodeHeartbeat announces this node in redis until the returned
// cancel func is called.
func LaunchNodeHeartbeat(parent context.Context, client *redis.Client) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	go runNodeHeartbeat(ctx, client, NodeHeartbeatKeyPrefix+nodeID, nodeHeartbeatInterval, nodeHeartbeatTTL)
	return cancel
}

// CountActiveNodes returns how many nodes sent a heartbeat within the TTL.
func CountActiveNodes(ctx context.Context, client *redis.Client) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	iter := client.Scan(ctx, 0, NodeHeartbeatKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
