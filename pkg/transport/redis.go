package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

const (
	redisKeyPrefix = "netwatch:"

	// How long a consumer blocks on the queue before rechecking for
	// shutdown.
	redisPollInterval = 2 * time.Second
)

// redisRequest is the message pushed onto a channel queue.
type redisRequest struct {
	Reply   string          `json:"reply"`
	Payload json.RawMessage `json:"payload"`
}

// redisReply is the message pushed onto the per-request reply key.
type redisReply struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// RedisBus carries requests over Redis lists. Each channel is a list
// consumers BLPOP from, which load-balances requests across every
// subscribed process; replies come back on a per-request key.
type RedisBus struct {
	client  *redis.Client
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects to Redis at addr. timeout bounds how long
// Request waits for a reply.
func NewRedisBus(addr string, timeout time.Duration) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to redis %s: %v", util.ErrTransportFailure, addr, err)
	}

	ctx, stop := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RedisBus{client: client, timeout: timeout, ctx: ctx, cancel: stop}, nil
}

func queueKey(channel string) string { return redisKeyPrefix + "ch:" + channel }

// Request pushes the payload onto the channel queue and blocks on the
// reply key until a consumer answers or the timeout expires.
func (b *RedisBus) Request(ctx context.Context, channel string, payload []byte) ([]byte, error) {
	replyKey := redisKeyPrefix + "reply:" + uuid.NewString()

	msg, err := json.Marshal(redisRequest{Reply: replyKey, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := b.client.RPush(ctx, queueKey(channel), msg).Err(); err != nil {
		return nil, fmt.Errorf("%w: publishing to %s: %v", util.ErrTransportFailure, channel, err)
	}

	res, err := b.client.BLPop(ctx, b.timeout, replyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: no reply on %s within %s", util.ErrTransportFailure, channel, b.timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: awaiting reply on %s: %v", util.ErrTransportFailure, channel, err)
	}

	// BLPop returns [key, value].
	var reply redisReply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return nil, fmt.Errorf("%w: malformed reply on %s: %v", util.ErrTransportFailure, channel, err)
	}
	if !reply.OK {
		return nil, errFromKind(reply.Kind, reply.Error)
	}
	return reply.Payload, nil
}

// Subscribe starts a consumer loop for channel. Call it once per
// desired consumer; each loop competes for requests via BLPOP.
func (b *RedisBus) Subscribe(channel string, h Handler) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			res, err := b.client.BLPop(b.ctx, redisPollInterval, queueKey(channel)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if b.ctx.Err() != nil {
					return
				}
				util.WithField("channel", channel).Warnf("redis consumer error: %v", err)
				continue
			}

			var req redisRequest
			if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
				util.WithField("channel", channel).Warnf("dropping malformed request: %v", err)
				continue
			}
			b.answer(channel, req, h)
		}
	}()
	return nil
}

func (b *RedisBus) answer(channel string, req redisRequest, h Handler) {
	handlerCtx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	var reply redisReply
	out, err := h(handlerCtx, req.Payload)
	if err != nil {
		reply = redisReply{OK: false, Kind: kindOf(err), Error: err.Error()}
	} else {
		reply = redisReply{OK: true, Payload: out}
	}

	msg, err := json.Marshal(reply)
	if err != nil {
		util.WithField("channel", channel).Errorf("encoding reply: %v", err)
		return
	}
	pushCtx, cancelPush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPush()
	if err := b.client.RPush(pushCtx, req.Reply, msg).Err(); err != nil {
		util.WithField("channel", channel).Errorf("delivering reply: %v", err)
		return
	}
	// Orphaned replies (requester timed out) expire instead of leaking.
	b.client.Expire(pushCtx, req.Reply, b.timeout)
}

// Close stops all consumer loops and closes the connection.
func (b *RedisBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}
