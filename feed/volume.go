package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/paymux/paymux/gateway"
)

// Volume is averaged over the current and the two prior calendar months.
const volumeWindowMonths = 3

// Keys survive long enough to cover the averaging window plus a buffer.
const volumeKeyTTL = 120 * 24 * time.Hour

// VolumeTracker accumulates successful charge volume per tenant and month
// and answers the rolling monthly average the routing engine feeds into
// volume-fit scoring.
type VolumeTracker interface {
	Record(ctx context.Context, tenantID string, amount gateway.Money) error
	MonthlyAverage(ctx context.Context, tenantID, currency string) (decimal.Decimal, error)
}

// RedisVolumeTracker keeps volume counters in Redis hashes keyed by tenant
// and calendar month, one field per currency.
type RedisVolumeTracker struct {
	client *redis.Client
	prefix string
}

// NewRedisVolumeTracker connects to Redis using a URL of the form
// redis://[user:pass@]host:port/db.
func NewRedisVolumeTracker(redisURL string) (*RedisVolumeTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.MaxRetries = 2
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisVolumeTracker{
		client: client,
		prefix: "volume",
	}, nil
}

// Record adds a successful charge amount to the current month's counter.
func (t *RedisVolumeTracker) Record(ctx context.Context, tenantID string, amount gateway.Money) error {
	if amount.Currency == "" {
		return fmt.Errorf("cannot record volume without a currency")
	}

	key := t.monthKey(tenantID, time.Now().UTC())
	value, _ := amount.Amount.Float64()

	if err := t.client.HIncrByFloat(ctx, key, amount.Currency, value).Err(); err != nil {
		return fmt.Errorf("failed to record volume for tenant %s: %w", tenantID, err)
	}

	// Refresh expiry so active tenants never lose in-window months.
	t.client.Expire(ctx, key, volumeKeyTTL)

	return nil
}

// MonthlyAverage returns the tenant's average monthly volume in the given
// currency over the averaging window. Months with no data count as zero.
func (t *RedisVolumeTracker) MonthlyAverage(ctx context.Context, tenantID, currency string) (decimal.Decimal, error) {
	total := decimal.Zero
	now := time.Now().UTC()

	for i := 0; i < volumeWindowMonths; i++ {
		key := t.monthKey(tenantID, monthStart(now).AddDate(0, -i, 0))

		val, err := t.client.HGet(ctx, key, currency).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to read volume for tenant %s: %w", tenantID, err)
		}

		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		total = total.Add(decimal.NewFromFloat(parsed))
	}

	return total.Div(decimal.NewFromInt(volumeWindowMonths)), nil
}

// Close releases the underlying Redis connection pool.
func (t *RedisVolumeTracker) Close() error {
	return t.client.Close()
}

func (t *RedisVolumeTracker) monthKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, tenantID, at.Format("2006-01"))
}

// monthStart normalizes to the first day so AddDate month arithmetic never
// spills into a neighbouring month.
func monthStart(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MemoryVolumeTracker is an in-process VolumeTracker for deployments
// without Redis and for tests.
type MemoryVolumeTracker struct {
	mu sync.RWMutex
	// tenant:month -> currency -> volume
	volumes map[string]map[string]decimal.Decimal
}

// NewMemoryVolumeTracker creates an empty in-memory tracker.
func NewMemoryVolumeTracker() *MemoryVolumeTracker {
	return &MemoryVolumeTracker{
		volumes: make(map[string]map[string]decimal.Decimal),
	}
}

// Record adds a successful charge amount to the current month's counter.
func (t *MemoryVolumeTracker) Record(ctx context.Context, tenantID string, amount gateway.Money) error {
	if amount.Currency == "" {
		return fmt.Errorf("cannot record volume without a currency")
	}

	key := t.monthKey(tenantID, time.Now().UTC())

	t.mu.Lock()
	defer t.mu.Unlock()

	byCurrency, ok := t.volumes[key]
	if !ok {
		byCurrency = make(map[string]decimal.Decimal)
		t.volumes[key] = byCurrency
	}
	byCurrency[amount.Currency] = byCurrency[amount.Currency].Add(amount.Amount)

	return nil
}

// MonthlyAverage returns the average monthly volume over the averaging
// window. Months with no data count as zero.
func (t *MemoryVolumeTracker) MonthlyAverage(ctx context.Context, tenantID, currency string) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := decimal.Zero
	now := time.Now().UTC()

	for i := 0; i < volumeWindowMonths; i++ {
		key := t.monthKey(tenantID, monthStart(now).AddDate(0, -i, 0))
		if byCurrency, ok := t.volumes[key]; ok {
			total = total.Add(byCurrency[currency])
		}
	}

	return total.Div(decimal.NewFromInt(volumeWindowMonths)), nil
}

func (t *MemoryVolumeTracker) monthKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("%s:%s", tenantID, at.Format("2006-01"))
}
