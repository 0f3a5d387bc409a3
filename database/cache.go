package database

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"team-up/backend/models"

	"github.com/redis/go-redis/v9"
)

// 房間列表快取統一放在同一個 hash key 底下，
// 任何房間變更只要 DEL 一個 key 就能讓所有省份的快取一起失效。
const (
	roomListKey = "rooms:list"
	allProvince = "_all"
)

// RoomCache 是房間列表的 Redis 讀取快取。
// 快取永遠只是加速，Redis 失敗時一律當作 cache miss，不影響正確性。
type RoomCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRoomCache 建立房間列表快取
func NewRoomCache(addr string, ttl time.Duration) *RoomCache {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RoomCache{rdb: rdb, ttl: ttl}
}

// GetList 讀取快取的房間列表，第二個回傳值表示是否命中
func (c *RoomCache) GetList(ctx context.Context, province string) ([]models.Room, bool) {
	data, err := c.rdb.HGet(ctx, roomListKey, fieldFor(province)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("Room list cache read failed: %v", err)
		return nil, false
	}

	var result []models.Room
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("Room list cache decode failed: %v", err)
		return nil, false
	}
	return result, true
}

// SetList 寫入快取的房間列表
func (c *RoomCache) SetList(ctx context.Context, province string, roomList []models.Room) {
	data, err := json.Marshal(roomList)
	if err != nil {
		log.Printf("Room list cache encode failed: %v", err)
		return
	}
	if err := c.rdb.HSet(ctx, roomListKey, fieldFor(province), data).Err(); err != nil {
		log.Printf("Room list cache write failed: %v", err)
		return
	}
	c.rdb.Expire(ctx, roomListKey, c.ttl)
}

// InvalidateList 清掉所有省份的房間列表快取。
// 由變更事件觸發，外部直接改資料庫的寫入也會被涵蓋到。
func (c *RoomCache) InvalidateList(ctx context.Context) {
	if err := c.rdb.Del(ctx, roomListKey).Err(); err != nil {
		log.Printf("Room list cache invalidation failed: %v", err)
	}
}

// Close 關閉 Redis 連線
func (c *RoomCache) Close() error {
	return c.rdb.Close()
}

func fieldFor(province string) string {
	if province == "" {
		return allProvince
	}
	return province
}
