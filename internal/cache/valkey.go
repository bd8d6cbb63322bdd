package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey is a Redis-compatible byte cache used for routed paths.
type Valkey struct {
	client valkey.Client
}

func NewValkey(addr string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Valkey{client: client}, nil
}

// Get returns the stored value; a missing key is reported as an error.
func (v *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	return v.client.Do(ctx, v.client.B().Get().Key(key).Build()).AsBytes()
}

// Set stores value with a TTL in seconds; ttlSeconds <= 0 stores without expiry.
func (v *Valkey) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		return v.client.Do(ctx, v.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()).Error()
	}
	return v.client.Do(ctx,
		v.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Ex(time.Duration(ttlSeconds)*time.Second).Build(),
	).Error()
}

// IsMiss reports whether err is valkey's "key not found".
func IsMiss(err error) bool {
	return valkey.IsValkeyNil(err)
}

// Ping reads a sentinel key; a miss still proves the server answers.
func (v *Valkey) Ping(ctx context.Context) error {
	_, err := v.Get(ctx, "coleta:health")
	if err != nil && !IsMiss(err) {
		return err
	}
	return nil
}

// IsMiss lets routing.Cached skip logging plain misses.
func (v *Valkey) IsMiss(err error) bool { return IsMiss(err) }

func (v *Valkey) Close() {
	v.client.Close()
}
