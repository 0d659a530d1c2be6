package redis

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/notification"
)

// PubSubTransport delivers notifications by publishing them on the user's
// channel ({namespace}:notify:{user}). A websocket gateway subscribes with a
// pattern and forwards the JSON payload as is.
type PubSubTransport struct {
	cache *Cache
}

var _ notification.Transport = (*PubSubTransport)(nil)

// NewPubSubTransport creates a transport on top of an existing cache client.
func NewPubSubTransport(cache *Cache) *PubSubTransport {
	return &PubSubTransport{cache: cache}
}

// Push publishes payload to the user's channel. Publishing to a channel with
// no subscribers is not an error.
func (t *PubSubTransport) Push(ctx context.Context, userID string, payload notification.Payload) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := t.cache.publishJSON(ctx, t.cache.keys.notifications(userID), payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
