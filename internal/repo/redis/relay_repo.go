package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrMappingNotFound = errors.New("relay mapping not found")

const relayPrefix = "relay:"

// RelayRepo keeps the per-chat message-id translation table. Each relayed
// message is stored in both directions so either participant can reply to
// either side's copy. The whole key is dropped when the chat ends.
type RelayRepo struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRelayRepo(client *goredis.Client, ttl time.Duration) *RelayRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RelayRepo{client: client, ttl: ttl}
}

// Map records one relayed message: the sender's local id and the copy the
// recipient received. Both lookup directions are written.
func (r *RelayRepo) Map(ctx context.Context, chatID, senderID, senderMsgID, recipientID, recipientMsgID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if chatID <= 0 {
		return fmt.Errorf("invalid chat id")
	}

	key := relayKey(chatID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, mappingField(recipientID, recipientMsgID), senderMsgID)
	pipe.HSet(ctx, key, mappingField(senderID, senderMsgID), recipientMsgID)
	pipe.Expire(ctx, key, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("map relayed message: %w", err)
	}

	return nil
}

// Resolve translates the message id a replier is pointing at into the
// counterpart id on the other side of the relay.
func (r *RelayRepo) Resolve(ctx context.Context, chatID, replierID, repliedToMsgID int64) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	value, err := r.client.HGet(ctx, relayKey(chatID), mappingField(replierID, repliedToMsgID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, ErrMappingNotFound
		}
		return 0, fmt.Errorf("resolve relay mapping: %w", err)
	}

	msgID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse relay mapping value: %w", err)
	}

	return msgID, nil
}

// Purge drops every mapping for a chat. Called at teardown.
func (r *RelayRepo) Purge(ctx context.Context, chatID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.client.Del(ctx, relayKey(chatID)).Err(); err != nil {
		return fmt.Errorf("purge relay mappings: %w", err)
	}

	return nil
}

func relayKey(chatID int64) string {
	return relayPrefix + strconv.FormatInt(chatID, 10)
}

func mappingField(readerID, msgID int64) string {
	return strconv.FormatInt(readerID, 10) + ":" + strconv.FormatInt(msgID, 10)
}
