package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenService hands out the sequential call-order tokens for a doctor/day.
type TokenService struct {
	Redis *redis.Client
	ttl   time.Duration
}

func NewTokenService(redisClient *redis.Client, ttl time.Duration) *TokenService {
	return &TokenService{Redis: redisClient, ttl: ttl}
}

func tokenCounterKey(doctorID, date string) string {
	return fmt.Sprintf("token:counter:%s:%s", doctorID, date)
}

// NextToken returns the next token for (doctor, date), starting at 1.
// A single INCR is the whole allocation: concurrent callers each get a
// distinct, strictly increasing value with no read-then-insert window.
func (s *TokenService) NextToken(ctx context.Context, doctorID, date string) (int64, error) {
	key := tokenCounterKey(doctorID, date)

	n, err := s.Redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate token for %s/%s: %w", doctorID, date, err)
	}

	// First issue of the day creates the counter; cap its lifetime so
	// finished days do not accumulate keys.
	if n == 1 {
		s.Redis.Expire(ctx, key, s.ttl)
	}

	return n, nil
}
