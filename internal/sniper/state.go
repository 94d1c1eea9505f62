package sniper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cyderes/social-autopilot/internal/config"
)

// State is the scheduler's shared mutable state: the running lock, pause
// flags, the daily counter and the active selection.
type State interface {
	// TryLock acquires the running lock; false means a hunt is running.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	// ForceUnlock clears a stuck running lock.
	ForceUnlock(ctx context.Context) error
	Running(ctx context.Context) (bool, error)

	Paused(ctx context.Context, campaign string) (bool, error)
	SetPaused(ctx context.Context, campaign string, paused bool) error

	DailyCount(ctx context.Context, day string) (int, error)
	IncrDaily(ctx context.Context, day string) (int, error)

	Active(ctx context.Context) (campaign, strategy string, err error)
	SetActive(ctx context.Context, campaign, strategy string) error

	LastRun(ctx context.Context) (*HuntResult, error)
	SetLastRun(ctx context.Context, r HuntResult) error
}

// NewState builds the configured State.
func NewState(ctx context.Context, cfg config.StateConfig) (State, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryState(), nil
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:       cfg.RedisAddrs,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: 5 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisState(client, "autopilot:sniper", cfg.LockTTL), nil
	default:
		return nil, fmt.Errorf("unsupported state type: %s", cfg.Type)
	}
}

// MemoryState keeps scheduler state in process.
type MemoryState struct {
	mu       sync.Mutex
	running  bool
	paused   map[string]bool
	daily    map[string]int
	campaign string
	strategy string
	last     *HuntResult
}

// NewMemoryState creates an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{paused: map[string]bool{}, daily: map[string]int{}}
}

func (m *MemoryState) TryLock(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false, nil
	}
	m.running = true
	return true, nil
}

func (m *MemoryState) Unlock(context.Context) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *MemoryState) ForceUnlock(ctx context.Context) error { return m.Unlock(ctx) }

func (m *MemoryState) Running(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, nil
}

func (m *MemoryState) Paused(_ context.Context, campaign string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[campaign], nil
}

func (m *MemoryState) SetPaused(_ context.Context, campaign string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paused {
		m.paused[campaign] = true
	} else {
		delete(m.paused, campaign)
	}
	return nil
}

func (m *MemoryState) DailyCount(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[day], nil
}

// IncrDaily also drops counters of other days.
func (m *MemoryState) IncrDaily(_ context.Context, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := range m.daily {
		if d != day {
			delete(m.daily, d)
		}
	}
	m.daily[day]++
	return m.daily[day], nil
}

func (m *MemoryState) Active(context.Context) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.campaign, m.strategy, nil
}

func (m *MemoryState) SetActive(_ context.Context, campaign, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaign, m.strategy = campaign, strategy
	return nil
}

func (m *MemoryState) LastRun(context.Context) (*HuntResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, nil
	}
	r := *m.last
	return &r, nil
}

func (m *MemoryState) SetLastRun(_ context.Context, r HuntResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &r
	return nil
}

// unlockScript deletes the lock only if this instance still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisState shares scheduler state between instances. The running lock has
// a TTL so a crashed instance cannot hold it forever.
type RedisState struct {
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration
	token   string
}

// NewRedisState creates a RedisState with keys under prefix.
func NewRedisState(client redis.UniversalClient, prefix string, lockTTL time.Duration) *RedisState {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &RedisState{client: client, prefix: prefix, lockTTL: lockTTL, token: uuid.NewString()}
}

func (r *RedisState) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *RedisState) TryLock(ctx context.Context) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key("running"), r.token, r.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring hunt lock: %w", err)
	}
	return ok, nil
}

func (r *RedisState) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, r.client, []string{r.key("running")}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing hunt lock: %w", err)
	}
	return nil
}

func (r *RedisState) ForceUnlock(ctx context.Context) error {
	return r.client.Del(ctx, r.key("running")).Err()
}

func (r *RedisState) Running(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.key("running")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisState) Paused(ctx context.Context, campaign string) (bool, error) {
	return r.client.SIsMember(ctx, r.key("paused"), campaign).Result()
}

func (r *RedisState) SetPaused(ctx context.Context, campaign string, paused bool) error {
	if paused {
		return r.client.SAdd(ctx, r.key("paused"), campaign).Err()
	}
	return r.client.SRem(ctx, r.key("paused"), campaign).Err()
}

func (r *RedisState) DailyCount(ctx context.Context, day string) (int, error) {
	n, err := r.client.Get(ctx, r.key("daily", day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// IncrDaily increments the day's counter; counters expire after two days.
func (r *RedisState) IncrDaily(ctx context.Context, day string) (int, error) {
	key := r.key("daily", day)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing daily counter: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *RedisState) Active(ctx context.Context) (string, string, error) {
	vals, err := r.client.HGetAll(ctx, r.key("active")).Result()
	if err != nil {
		return "", "", err
	}
	return vals["campaign"], vals["strategy"], nil
}

func (r *RedisState) SetActive(ctx context.Context, campaign, strategy string) error {
	return r.client.HSet(ctx, r.key("active"), "campaign", campaign, "strategy", strategy).Err()
}

func (r *RedisState) LastRun(ctx context.Context) (*HuntResult, error) {
	data, err := r.client.Get(ctx, r.key("last_run")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res HuntResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding last run: %w", err)
	}
	return &res, nil
}

func (r *RedisState) SetLastRun(ctx context.Context, res HuntResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key("last_run"), data, 0).Err()
}
