package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/kasboard/kasboard/src/model"
)

type ZSet struct {
	client *redis.Client
	key    string
}

func NewZSet(cache *redis.Client, key string) ZSet {
	return ZSet{
		key:    key,
		client: cache,
	}
}

type ZSetKVP = redis.Z

func (zz *ZSet) Replace(ctx context.Context, entries ...ZSetKVP) error {
	pipe := zz.client.TxPipeline()
	pipe.Del(ctx, zz.key)
	if len(entries) > 0 {
		pipe.ZAdd(ctx, zz.key, zsetPtrs(entries)...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func zsetPtrs(entries []ZSetKVP) []*redis.Z {
	out := make([]*redis.Z, 0, len(entries))
	for i := range entries {
		out = append(out, &entries[i])
	}
	return out
}

func (zz *ZSet) TopN(ctx context.Context, n int64) ([]redis.Z, error) {
	cmd := zz.client.ZRevRangeWithScores(ctx, zz.key, 0, n-1)
	return cmd.Result()
}

func (zz *ZSet) Count(ctx context.Context) (int64, error) {
	cmd := zz.client.ZCount(ctx, zz.key, "-inf", "+inf")
	return cmd.Val(), cmd.Err()
}

func (zz *ZSet) Delete(ctx context.Context) error {
	return zz.client.Del(ctx, zz.key).Err()
}

// LeaderboardCache mirrors computed leaderboards into redis ZSets, one per
// (period, mode), where the web layer reads them without touching the store.
type LeaderboardCache struct {
	client *redis.Client

	mu   sync.Mutex
	keys map[string]struct{}
}

func NewLeaderboardCache(client *redis.Client) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		keys:   make(map[string]struct{}),
	}
}

func leaderboardKey(period model.PeriodId, mode RankMode) string {
	return fmt.Sprintf("kasboard:rank:%s:%s", period, mode)
}

func (lc *LeaderboardCache) Publish(ctx context.Context, period model.PeriodId, mode RankMode, ranked []*ScoredCandidate) error {
	entries := make([]ZSetKVP, 0, len(ranked))
	for _, sc := range ranked {
		entries = append(entries, ZSetKVP{
			Member: string(sc.Content),
			Score:  sc.Score,
		})
	}
	key := leaderboardKey(period, mode)
	zs := NewZSet(lc.client, key)
	if err := zs.Replace(ctx, entries...); err != nil {
		return err
	}
	lc.mu.Lock()
	lc.keys[key] = struct{}{}
	lc.mu.Unlock()
	return nil
}

// Invalidate drops every published board. Stale boards are only advisory,
// so failures are ignored; the next Publish overwrites them anyway.
func (lc *LeaderboardCache) Invalidate() {
	lc.mu.Lock()
	keys := make([]string, 0, len(lc.keys))
	for k := range lc.keys {
		keys = append(keys, k)
	}
	lc.keys = make(map[string]struct{})
	lc.mu.Unlock()
	if len(keys) > 0 {
		lc.client.Del(context.Background(), keys...)
	}
}
