package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ridepool/internal/offer-service/domain"
)

const availableDriversKey = "presence:available_drivers"

// RedisPresence keeps the set of drivers currently online and free to
// receive offers. The set is advisory: drivers go stale if a client
// dies without going offline, which the registry's claim check and the
// acceptance transaction both tolerate.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func (p *RedisPresence) SetAvailable(ctx context.Context, driverID string) error {
	if err := p.client.SAdd(ctx, availableDriversKey, driverID).Err(); err != nil {
		return fmt.Errorf("failed to mark driver available: %w", err)
	}
	return nil
}

func (p *RedisPresence) SetUnavailable(ctx context.Context, driverID string) error {
	if err := p.client.SRem(ctx, availableDriversKey, driverID).Err(); err != nil {
		return fmt.Errorf("failed to mark driver unavailable: %w", err)
	}
	return nil
}

func (p *RedisPresence) IsAvailable(ctx context.Context, driverID string) (bool, error) {
	ok, err := p.client.SIsMember(ctx, availableDriversKey, driverID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check driver presence: %w", err)
	}
	return ok, nil
}

// PickCandidate returns a random available driver not in exclude.
// Sampling a handful at a time keeps the call cheap when only a few
// drivers are excluded.
func (p *RedisPresence) PickCandidate(ctx context.Context, exclude []string) (string, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	candidates, err := p.client.SRandMemberN(ctx, availableDriversKey, int64(len(exclude)+5)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to sample available drivers: %w", err)
	}
	for _, id := range candidates {
		if _, skip := excluded[id]; !skip {
			return id, nil
		}
	}
	return "", domain.ErrNoCandidates
}
