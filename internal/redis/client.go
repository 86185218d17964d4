package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// JobChannel is the pub/sub channel carrying job announcements for one
// account's executors.
func JobChannel(accountID string) string {
	return fmt.Sprintf("jobs:%s", accountID)
}

// QuotaKey is the counter key for one (account, action, day) triple.
func QuotaKey(accountID, action, day string) string {
	return fmt.Sprintf("quota:%s:%s:%s", accountID, action, day)
}
