package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	redis "github.com/redis/go-redis/v9"

	"kasirledger/backend/internal/domain"
)

const keyPrefix = "kasirledger"

type RedisShiftCache struct {
	client *redis.Client
}

func NewRedisShiftCache(addr string, password string, db int) *RedisShiftCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisShiftCache{client: client}
}

func (c *RedisShiftCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisShiftCache) Close() error {
	return c.client.Close()
}

func shiftKey(tenantID string, employeeID string) string {
	return fmt.Sprintf("%s:shift:%s:%s", keyPrefix, tenantID, employeeID)
}

func pendingKey(tenantID string) string {
	return fmt.Sprintf("%s:shift-emergency-pending:%s", keyPrefix, tenantID)
}

func (c *RedisShiftCache) GetShift(ctx context.Context, tenantID string, employeeID string) (*domain.Shift, error) {
	val, err := c.client.Get(ctx, shiftKey(tenantID, employeeID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var shift domain.Shift
	if err := json.Unmarshal([]byte(val), &shift); err != nil {
		return nil, err
	}
	return &shift, nil
}

// PutShift stores the shift and keeps the set of unsynced emergency shifts in step.
func (c *RedisShiftCache) PutShift(ctx context.Context, shift domain.Shift) error {
	payload, err := json.Marshal(shift)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, shiftKey(shift.TenantID, shift.EmployeeID), payload, 0)
	if shift.Emergency && !shift.EmergencySynced {
		pipe.SAdd(ctx, pendingKey(shift.TenantID), shift.EmployeeID)
	} else {
		pipe.SRem(ctx, pendingKey(shift.TenantID), shift.EmployeeID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisShiftCache) ListUnsyncedEmergency(ctx context.Context, tenantID string) ([]domain.Shift, error) {
	employees, err := c.client.SMembers(ctx, pendingKey(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(employees)

	out := make([]domain.Shift, 0, len(employees))
	for _, employeeID := range employees {
		shift, err := c.GetShift(ctx, tenantID, employeeID)
		if err != nil {
			return nil, err
		}
		if shift == nil || !shift.Emergency || shift.EmergencySynced {
			continue
		}
		out = append(out, *shift)
	}
	return out, nil
}
