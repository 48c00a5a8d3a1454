package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "repchat:conversation:"

func channelFor(conversationID string) string { return channelPrefix + conversationID }

// RedisFeed fans events out across instances with Redis PUBLISH/SUBSCRIBE.
type RedisFeed struct {
	client *redis.Client
}

func NewRedisFeed(client *redis.Client) *RedisFeed { return &RedisFeed{client: client} }

func (f *RedisFeed) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(e.ConversationID), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, conversationID string) (<-chan Event, func(), error) {
	ps := f.client.Subscribe(ctx, channelFor(conversationID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					log.Warn().Err(err).Str("channel", m.Channel).Msg("dropping undecodable changefeed message")
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}
