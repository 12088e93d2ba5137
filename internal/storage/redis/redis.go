// Package redis keeps short-lived order state in Redis.
package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/shop-orders/internal/domain/order"
)

const (
	keyPrefix  = "idem:order:create:"
	defaultTTL = 24 * time.Hour
	pendingTTL = time.Minute
)

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}
	return client, nil
}

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore maps Idempotency-Key values to the order they created.
// A key is stored as "<fingerprint>:<order id>"; the id part stays empty
// while the first request is still placing its order.
type IdempotencyStore struct {
	client     *goredis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore returns a store keeping completed keys for ttl, 24h
// when ttl is not positive.
func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: min(pendingTTL, ttl)}
}

// Reserve claims key with SETNX. A reservation left behind by a crashed
// request expires after pendingTTL.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, fingerprint string) (order.Reservation, error) {
	for range 2 {
		ok, err := s.client.SetNX(ctx, keyPrefix+key, fingerprint+":", s.pendingTTL).Result()
		if err != nil {
			return order.Reservation{}, errors.Wrap(err, "reserve idempotency key")
		}
		if ok {
			return order.Reservation{Claimed: true, Fingerprint: fingerprint}, nil
		}

		v, err := s.client.Get(ctx, keyPrefix+key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			// Expired between SETNX and GET.
			continue
		case err != nil:
			return order.Reservation{}, errors.Wrap(err, "get idempotency key")
		}
		return parseReservation(v)
	}
	return order.Reservation{}, errors.Errorf("idempotency key %q keeps expiring", key)
}

// Complete stores the placed order ID for the full ttl.
func (s *IdempotencyStore) Complete(ctx context.Context, key, fingerprint string, orderID int64) error {
	v := fingerprint + ":" + strconv.FormatInt(orderID, 10)
	if err := s.client.Set(ctx, keyPrefix+key, v, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete idempotency key")
	}
	return nil
}

// Release deletes a reservation so the client may retry with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}

func parseReservation(v string) (order.Reservation, error) {
	fp, id, ok := strings.Cut(v, ":")
	if !ok {
		return order.Reservation{}, errors.Errorf("malformed idempotency value %q", v)
	}
	r := order.Reservation{Fingerprint: fp}
	if id == "" {
		return r, nil
	}
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return order.Reservation{}, errors.Wrapf(err, "parse order id %q", id)
	}
	r.OrderID = orderID
	return r, nil
}
