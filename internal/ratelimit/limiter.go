package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeGlobalIP Scope = "ip"
	ScopeUser     Scope = "user"
	ScopeLogin    Scope = "login"
	ScopeEndpoint Scope = "endpoint"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

type Limiter struct {
	client *redis.Client
	salt   string // For IP hashing stability
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP creates a privacy-safe hash of the IP
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// incrAndExpire atomically increments the window counter and, on the
// first hit of a fresh window, sets its expiry. Fixed-window rooted at
// the first request in the bucket rather than a true sliding log.
var incrAndExpire = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// CheckRateLimit reports whether a request against key is allowed under
// config, using a fixed-window counter with per-key TTL in Redis.
func (l *Limiter) CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	count, err := incrAndExpire.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = config.Window
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(ttl),
		RetryAfter: int(ttl.Seconds()),
		Allowed:    count <= config.Rate,
	}, nil
}
