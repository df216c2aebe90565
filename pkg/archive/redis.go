// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisHistory is how many records are kept per instrument list
const RedisHistory = 1000

// Redis publishes records as JSON on a channel and keeps the most recent ones
// in a capped list per instrument.
type Redis struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

// RedisOptions configures the Redis sink
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// OpenRedis connects and verifies the connection
func OpenRedis(ctx context.Context, opts RedisOptions, log logrus.FieldLogger) (*Redis, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Channel == "" {
		opts.Channel = "benchtop:readings"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	log.WithField("addr", opts.Addr).Info("Redis archive connected")
	return &Redis{client: client, channel: opts.Channel, log: log}, nil
}

// ListKey returns the list holding recent records of one instrument
func ListKey(name string) string {
	return fmt.Sprintf("benchtop:%s:readings", name)
}

// Write implements Sink
func (r *Redis) Write(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}

	key := ListKey(rec.Instrument)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, RedisHistory-1)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithField("key", key).WithError(err).Warn("cannot store record history")
	}
	return nil
}

// Close implements Sink
func (r *Redis) Close() error {
	return r.client.Close()
}
