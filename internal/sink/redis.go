// internal/sink/redis.go
package sink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Config is the Redis side of the entropy feed.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Key       string // list of raw blocks, newest first
	MaxBlocks int64  // list is trimmed to this length; 0 keeps everything
	Channel   string // optional block notifications
}

// Block is one capture handed to the sink.
type Block struct {
	DeviceID uint16
	Seq      uint64
	At       time.Time
	Words    []uint32
}

// Bytes is the wire form stored in the list: words in big-endian order.
func (b Block) Bytes() []byte {
	out := make([]byte, 4*len(b.Words))
	for i, w := range b.Words {
		binary.BigEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// Notice is the JSON message published on Config.Channel per block.
type Notice struct {
	DeviceID uint16    `json:"device_id"`
	Seq      uint64    `json:"seq"`
	Words    int       `json:"words"`
	At       time.Time `json:"at"`
	Key      string    `json:"key"`
}

// Publisher pushes entropy blocks into Redis.
type Publisher struct {
	client *redis.Client
	cfg    Config
	log    logrus.FieldLogger
}

// NewPublisher connects and pings the server once.
func NewPublisher(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("sink: redis addr required")
	}
	if cfg.Key == "" {
		return nil, errors.New("sink: redis key required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sink: redis ping %s: %w", cfg.Addr, err)
	}

	log.WithFields(logrus.Fields{"addr": cfg.Addr, "key": cfg.Key}).Info("entropy sink connected")
	return &Publisher{client: client, cfg: cfg, log: log}, nil
}

// Publish stores one block and trims the list in a single transaction,
// then announces it on the channel if one is configured.
func (p *Publisher) Publish(ctx context.Context, b Block) error {
	if len(b.Words) == 0 {
		return nil
	}

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.cfg.Key, b.Bytes())
		if p.cfg.MaxBlocks > 0 {
			pipe.LTrim(ctx, p.cfg.Key, 0, p.cfg.MaxBlocks-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sink: push block: %w", err)
	}

	if p.cfg.Channel == "" {
		return nil
	}

	msg, err := json.Marshal(Notice{
		DeviceID: b.DeviceID,
		Seq:      b.Seq,
		Words:    len(b.Words),
		At:       b.At,
		Key:      p.cfg.Key,
	})
	if err != nil {
		return fmt.Errorf("sink: encode notice: %w", err)
	}
	if err := p.client.Publish(ctx, p.cfg.Channel, msg).Err(); err != nil {
		// the block is stored; only the notification is lost
		p.log.WithError(err).Warn("entropy notice publish failed")
	}
	return nil
}

func (p *Publisher) Close() error { return p.client.Close() }
