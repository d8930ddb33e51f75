package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jiangjiechen/auction-arena/internal/auction"
)

// RedisArchive keeps sessions in Redis when no Postgres is configured.
// Sessions live under aucarena:session:{hash}:{repeat} and bidder dumps
// under aucarena:bidders:{hash}:{repeat}.
type RedisArchive struct {
	client *redis.Client
}

func NewRedisArchive(ctx context.Context, addr, password string, db int) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisArchive{client: client}, nil
}

func (r *RedisArchive) Close() error { return r.client.Close() }

func sessionKey(hash string, repeat int) string {
	return fmt.Sprintf("aucarena:session:%s:%d", hash, repeat)
}

func biddersKey(hash string, repeat int) string {
	return fmt.Sprintf("aucarena:bidders:%s:%d", hash, repeat)
}

func (r *RedisArchive) SaveSession(ctx context.Context, repeatNum int, result *auction.SessionResult) error {
	memo, err := json.Marshal(result.Memo)
	if err != nil {
		return fmt.Errorf("marshal memo: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(result.AuctionHash, repeatNum), map[string]interface{}{
		"auction_log": result.Log,
		"total_cost":  result.TotalCost,
		"memo":        memo,
	})
	for _, monitor := range result.Monitors {
		raw, err := json.Marshal(monitor)
		if err != nil {
			return fmt.Errorf("marshal monitor for %s: %w", monitor.BidderName, err)
		}
		pipe.HSet(ctx, biddersKey(result.AuctionHash, repeatNum), monitor.BidderName, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", result.AuctionHash, err)
	}
	return nil
}

func (r *RedisArchive) LoadMemo(ctx context.Context, auctionHash string, repeatNum int) (*auction.Memo, bool, error) {
	raw, err := r.client.HGet(ctx, sessionKey(auctionHash, repeatNum), "memo").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load memo %s/%d: %w", auctionHash, repeatNum, err)
	}
	var memo auction.Memo
	if err := json.Unmarshal(raw, &memo); err != nil {
		return nil, false, fmt.Errorf("decode memo %s/%d: %w", auctionHash, repeatNum, err)
	}
	return &memo, true, nil
}
