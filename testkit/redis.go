package testkit

import (
	"context"
	"os"
	"testing"

	"github.com/ceyewan/harvest/connector"
)

// NewRedisConnector 获取 Redis 连接器
//
// 需要设置 HARVEST_TEST_REDIS_ADDR，否则跳过测试
func NewRedisConnector(t *testing.T) connector.RedisConnector {
	addr := os.Getenv("HARVEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HARVEST_TEST_REDIS_ADDR not set, skipping redis test")
	}

	conn, err := connector.NewRedis(&connector.RedisConfig{
		Name: "test-redis",
		Addr: addr,
		DB:   1,
	}, connector.WithLogger(NewLogger()))
	if err != nil {
		t.Fatalf("failed to create redis connector: %v", err)
	}
	if err := conn.Connect(context.Background()); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
