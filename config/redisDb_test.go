package config

import "testing"

// Cache helpers must degrade to no-ops before ConnectRedisWithRetry has run
// (or when Redis is down): reads miss, writes and invalidations succeed
// silently, and callers fall through to MySQL.

func TestRedisHelpers_NilClientDegradesToMiss(t *testing.T) {
	prev := rdb
	rdb = nil
	defer func() { rdb = prev }()

	var dest struct{ Name string }
	hit, err := GetRedisObject("Invoice:1", &dest)
	if err != nil {
		t.Fatalf("GetRedisObject with no client: %v", err)
	}
	if hit {
		t.Fatal("GetRedisObject with no client reported a hit")
	}

	if err := SetRedisObject("Invoice:1", dest, 0); err != nil {
		t.Fatalf("SetRedisObject with no client: %v", err)
	}
	if err := RemoveRedisKey("Invoice:1"); err != nil {
		t.Fatalf("RemoveRedisKey with no client: %v", err)
	}
}
