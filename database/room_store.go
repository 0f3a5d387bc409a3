package database

import (
	"context"
	"errors"
	"log"
	"time"

	"team-up/backend/models"
	"team-up/backend/rooms"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomStore 是房間文件的儲存層，MongoDB 是唯一的真實狀態來源。
// 實作 rooms.Store 介面。
type RoomStore struct {
	collection *mongo.Collection
}

// NewRoomStore 以指定的集合建立 RoomStore
func NewRoomStore(collection *mongo.Collection) *RoomStore {
	return &RoomStore{collection: collection}
}

// Get 讀取單一房間，不存在時回傳 rooms.ErrRoomNotFound
func (s *RoomStore) Get(ctx context.Context, roomID primitive.ObjectID) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var room models.Room
	err := s.collection.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if err == mongo.ErrNoDocuments {
		return nil, rooms.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Create 插入新房間並回填資料庫產生的 ID
func (s *RoomStore) Create(ctx context.Context, room *models.Room) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.collection.InsertOne(ctx, room)
	if err != nil {
		log.Printf("Error inserting room: %v", err)
		return nil, err
	}
	room.ID = result.InsertedID.(primitive.ObjectID)
	return room, nil
}

// ConditionalCommit 只有在目前版本等於 expectedVersion 時才覆寫整份文件。
// 成功時版本號遞增、updatedAt 更新；版本不符回傳 rooms.ErrVersionConflict。
// 這是 Join/Leave/Update 在並發下仍能維持容量不變式的關鍵。
func (s *RoomStore) ConditionalCommit(ctx context.Context, roomID primitive.ObjectID, expectedVersion int64, next *models.Room) (*models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	replacement := next.Clone()
	replacement.ID = roomID
	replacement.Version = expectedVersion + 1
	replacement.UpdatedAt = time.Now()

	filter := bson.M{"_id": roomID, "version": expectedVersion}
	opts := options.FindOneAndReplace().SetReturnDocument(options.After)

	var committed models.Room
	err := s.collection.FindOneAndReplace(ctx, filter, replacement, opts).Decode(&committed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// 分不出是房間不存在還是版本衝突，再查一次確認
		if _, getErr := s.Get(ctx, roomID); errors.Is(getErr, rooms.ErrRoomNotFound) {
			return nil, rooms.ErrRoomNotFound
		}
		return nil, rooms.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

// Delete 移除房間，不存在時回傳 rooms.ErrRoomNotFound
func (s *RoomStore) Delete(ctx context.Context, roomID primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return rooms.ErrRoomNotFound
	}
	return nil
}

// List 列出所有房間，province 非空時依省份篩選
func (s *RoomStore) List(ctx context.Context, province string) ([]models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{}
	if province != "" {
		filter["province"] = province
	}

	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []models.Room
	if err = cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListJoined 列出 userID 參與的所有房間
func (s *RoomStore) ListJoined(ctx context.Context, userID primitive.ObjectID) ([]models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{"participants": userID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []models.Room
	if err = cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}
