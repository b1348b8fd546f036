package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis keeps values in a map and answers with pre-built command results.
type fakeRedis struct {
	values map[string]string
	err    error
	cmds   []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.cmds = append(f.cmds, "exists")
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.cmds = append(f.cmds, "set")
	f.values[key] = toString(value)
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.cmds = append(f.cmds, "setnx")
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.cmds = append(f.cmds, "get")
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) GetSet(_ context.Context, key string, value interface{}) *redis.StringCmd {
	f.cmds = append(f.cmds, "getset")
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	prev, ok := f.values[key]
	f.values[key] = toString(value)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(prev, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.cmds = append(f.cmds, "del")
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, f.err)
}

func (f *fakeRedis) GetDel(_ context.Context, key string) *redis.StringCmd {
	f.cmds = append(f.cmds, "getdel")
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.values, key)
	return redis.NewStringResult(v, nil)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		if t == 1 {
			return "1"
		}
	}
	return "?"
}

func TestRedisStoreNewsIDs(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	s := NewRedisStore(fake, RedisOptions{Prefix: "test:"})

	inserted, err := s.MarkIfUnseen(ctx, "A")
	if err != nil || !inserted {
		t.Fatalf("first insert should succeed: %v %v", inserted, err)
	}
	if _, ok := fake.values["test:seen:A"]; !ok {
		t.Fatalf("key not namespaced: %#v", fake.values)
	}
	inserted, _ = s.MarkIfUnseen(ctx, "A")
	if inserted {
		t.Fatal("second insert should be rejected")
	}
	seen, _ := s.HasSeen(ctx, "A")
	if !seen {
		t.Fatal("A should be seen")
	}
}

func TestRedisStoreSwapTier(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	s := NewRedisStore(fake, RedisOptions{})

	prev, err := s.SwapTier(ctx, "ETH", "down:5-10%")
	if err != nil || prev != "" {
		t.Fatalf("unexpected swap result %q %v", prev, err)
	}
	prev, _ = s.SwapTier(ctx, "ETH", "down:10-20%")
	if prev != "down:5-10%" {
		t.Fatalf("unexpected previous tier %q", prev)
	}
	fake.cmds = nil
	prev, _ = s.SwapTier(ctx, "ETH", "")
	if prev != "down:10-20%" {
		t.Fatalf("clear should return previous tier, got %q", prev)
	}
	if len(fake.cmds) != 1 || fake.cmds[0] != "getdel" {
		t.Fatalf("清除档位必须是单条命令, 实际 %v", fake.cmds)
	}
	fake.cmds = nil
	if prev, _ = s.SwapTier(ctx, "ETH", ""); prev != "" || len(fake.cmds) != 1 {
		t.Fatalf("clearing an empty tier: prev=%q cmds=%v", prev, fake.cmds)
	}
	if _, ok, _ := s.CurrentTier(ctx, "ETH"); ok {
		t.Fatal("tier should be cleared")
	}
}

func TestRedisStorePropagatesErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	s := NewRedisStore(fake, RedisOptions{})

	if _, err := s.MarkIfUnseen(context.Background(), "A"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.SwapTier(context.Background(), "BTC", "up:5-10%"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.SwapTier(context.Background(), "BTC", ""); err == nil {
		t.Fatal("expected error")
	}
}
