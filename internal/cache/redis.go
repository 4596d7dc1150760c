// Package cache реализует кэш на Redis: планы пользователей и
// идентификаторы уже обработанных событий биллинга.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regexgpt/regexgpt/internal/config"
	"github.com/regexgpt/regexgpt/internal/models"
)

const (
	planKeyPrefix    = "plan:"
	planGenKeyPrefix = "plan:gen:"
	eventKeyPrefix   = "billing:event:"

	// planGenTTL должен быть больше времени любого чтения плана из базы.
	planGenTTL = 24 * time.Hour
)

// setPlanIfCurrent пишет план, только если поколение не менялось с момента чтения.
var setPlanIfCurrent = redis.NewScript(`
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Cache клиент Redis с настройками времени жизни ключей.
type Cache struct {
	Db       *redis.Client
	planTTL  time.Duration
	eventTTL time.Duration
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db, planTTL: cfg.PlanCacheTTL, eventTTL: cfg.EventTTL}, nil
}

// Close закрывает соединение.
func (c *Cache) Close() error {
	return c.Db.Close()
}

// Get читает JSON-значение по ключу. Возвращает false, если ключа нет.
func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	err = json.Unmarshal([]byte(val), result)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Set сохраняет значение в JSON.
func (c *Cache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	const op = "cache.Set"
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.Db.Set(ctx, key, jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Invalidate удаляет ключ.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Invalidate"
	if err := c.Db.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPlan возвращает закэшированный план пользователя.
func (c *Cache) GetPlan(ctx context.Context, userID string) (models.Plan, bool, error) {
	var plan models.Plan
	found, err := c.Get(ctx, planKeyPrefix+userID, &plan)
	if err != nil || !found {
		return "", false, err
	}
	if !plan.Valid() {
		return "", false, nil
	}
	return plan, true, nil
}

// PlanGeneration возвращает поколение плана пользователя. Его нужно прочитать
// до чтения плана из базы и передать в SetPlanIfCurrent.
func (c *Cache) PlanGeneration(ctx context.Context, userID string) (int64, error) {
	const op = "cache.PlanGeneration"
	gen, err := c.Db.Get(ctx, planGenKeyPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return gen, nil
}

// SetPlanIfCurrent кэширует план на planTTL, если с момента чтения gen план не
// инвалидировали. Возвращает false, если значение устарело и не записано.
func (c *Cache) SetPlanIfCurrent(ctx context.Context, userID string, plan models.Plan, gen int64) (bool, error) {
	const op = "cache.SetPlanIfCurrent"
	data, err := json.Marshal(plan)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	keys := []string{planGenKeyPrefix + userID, planKeyPrefix + userID}
	stored, err := setPlanIfCurrent.Run(ctx, c.Db, keys, gen, string(data), c.planTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored == 1, nil
}

// InvalidatePlan сбрасывает закэшированный план и увеличивает поколение, чтобы
// чтения, начатые до записи в базу, не вернули старый план в кэш.
func (c *Cache) InvalidatePlan(ctx context.Context, userID string) error {
	const op = "cache.InvalidatePlan"
	genKey := planGenKeyPrefix + userID
	_, err := c.Db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, planGenTTL)
		pipe.Del(ctx, planKeyPrefix+userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SeenEvent сообщает, было ли событие биллинга уже успешно обработано.
func (c *Cache) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	const op = "cache.SeenEvent"
	n, err := c.Db.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// RememberEvent отмечает событие как обработанное на eventTTL.
func (c *Cache) RememberEvent(ctx context.Context, eventID string) error {
	const op = "cache.RememberEvent"
	if err := c.Db.Set(ctx, eventKeyPrefix+eventID, 1, c.eventTTL).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
