package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	titleAttemptPrefix = "title_attempt:"
	titleAttemptTTL    = 10 * time.Minute
)

// TitleAttempts remembers which conversations already had a title generation
// attempt, so a failed or in-flight attempt is not repeated on every exchange.
type TitleAttempts struct {
	client *Client
}

// NewTitleAttempts creates a new title attempt tracker
func NewTitleAttempts(client *Client) *TitleAttempts {
	return &TitleAttempts{client: client}
}

// TryClaim atomically claims the title attempt for a conversation. It returns
// true exactly once per TTL window; callers that get false skip generation.
func (t *TitleAttempts) TryClaim(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("%s%s", titleAttemptPrefix, conversationID.String())

	claimed, err := t.client.rdb.SetNX(ctx, key, 1, titleAttemptTTL).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to claim title attempt: %w", err)
	}

	return claimed, nil
}

// Release frees the claim so a retry may run before the TTL expires
func (t *TitleAttempts) Release(ctx context.Context, conversationID uuid.UUID) error {
	key := fmt.Sprintf("%s%s", titleAttemptPrefix, conversationID.String())
	return t.client.rdb.Del(ctx, key).Err()
}
