package alertstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
	"github.com/isectech/security-logging/shared/common"
)

const (
	alertKeyPrefix = "siem:alert:"
	alertIndexKey  = "siem:alerts:by-created"
	maxTxRetries   = 5
	listPageSize   = 100
)

// RedisConfig configures the shared alert registry
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RedisStore keeps alerts in Redis so every replica sees acknowledgements
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to Redis
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

var _ repository.AlertRepository = (*RedisStore)(nil)

// Save stores alert unless one with the same ID exists
func (s *RedisStore) Save(ctx context.Context, alert *entity.SIEMAlert) error {
	data, err := msgpack.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	created, err := s.client.SetNX(ctx, alertKeyPrefix+alert.AlertID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	if !created {
		return nil
	}

	score := float64(alert.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, alertIndexKey, &redis.Z{Score: score, Member: alert.AlertID}).Err(); err != nil {
		return fmt.Errorf("failed to index alert: %w", err)
	}
	return nil
}

// Get loads one alert
func (s *RedisStore) Get(ctx context.Context, alertID string) (*entity.SIEMAlert, error) {
	data, err := s.client.Get(ctx, alertKeyPrefix+alertID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrNotFound("alert")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return decode(data)
}

// List returns alerts newest first. The index is read in pages and each
// page is loaded with one MGET, stopping once Limit matches are found.
func (s *RedisStore) List(ctx context.Context, filter repository.AlertFilter) ([]*entity.SIEMAlert, error) {
	return collectPages(filter, func(start, stop int64) ([]*entity.SIEMAlert, int, error) {
		ids, err := s.client.ZRevRange(ctx, alertIndexKey, start, stop).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
		}
		if len(ids) == 0 {
			return nil, 0, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = alertKeyPrefix + id
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load alerts: %w", err)
		}

		alerts := make([]*entity.SIEMAlert, 0, len(values))
		for _, v := range values {
			data, ok := v.(string)
			if !ok {
				// index entry without a document
				continue
			}
			alert, err := decode([]byte(data))
			if err != nil {
				return nil, 0, err
			}
			alerts = append(alerts, alert)
		}
		return alerts, len(ids), nil
	})
}

// collectPages walks the index in pages of at most listPageSize entries.
// fetch returns the decoded alerts of the page and the number of index
// entries it covered.
func collectPages(filter repository.AlertFilter, fetch func(start, stop int64) ([]*entity.SIEMAlert, int, error)) ([]*entity.SIEMAlert, error) {
	pageSize := int64(listPageSize)
	if filter.Limit > 0 && int64(filter.Limit) < pageSize {
		pageSize = int64(filter.Limit)
	}

	var out []*entity.SIEMAlert
	for start := int64(0); ; start += pageSize {
		alerts, scanned, err := fetch(start, start+pageSize-1)
		if err != nil {
			return nil, err
		}
		for _, alert := range alerts {
			if !matchesFilter(alert, filter) {
				continue
			}
			out = append(out, alert)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
		if int64(scanned) < pageSize {
			return out, nil
		}
	}
}

// Acknowledge marks an alert acknowledged
func (s *RedisStore) Acknowledge(ctx context.Context, alertID, by string, at time.Time) (*entity.SIEMAlert, error) {
	return s.update(ctx, alertID, func(a *entity.SIEMAlert) { acknowledge(a, by, at) })
}

// Assign sets the assignee of an alert
func (s *RedisStore) Assign(ctx context.Context, alertID, assignee string) (*entity.SIEMAlert, error) {
	return s.update(ctx, alertID, func(a *entity.SIEMAlert) { a.AssignedTo = assignee })
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update applies fn inside an optimistic transaction
func (s *RedisStore) update(ctx context.Context, alertID string, fn func(*entity.SIEMAlert)) (*entity.SIEMAlert, error) {
	key := alertKeyPrefix + alertID
	var result *entity.SIEMAlert

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return common.ErrNotFound("alert")
		}
		if err != nil {
			return err
		}

		alert, err := decode(data)
		if err != nil {
			return err
		}
		fn(alert)

		encoded, err := msgpack.Marshal(alert)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err == nil {
			result = alert
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("alert %s: too many concurrent updates", alertID)
}

func decode(data []byte) (*entity.SIEMAlert, error) {
	var alert entity.SIEMAlert
	if err := msgpack.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("failed to decode alert: %w", err)
	}
	return &alert, nil
}
