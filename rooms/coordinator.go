//go:generate go run go.uber.org/mock/mockgen -source=coordinator.go -destination=../mocks/mock_store.go -package=mocks
package rooms

import (
	"context"
	"errors"
	"time"

	"team-up/backend/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxCommitAttempts 是單一操作允許的條件式提交次數上限。
// 超過就放棄並回傳 ErrContention，避免在熱門房間上無限重試。
const maxCommitAttempts = 5

// Store 是協調器對房間儲存層的最小依賴。
// ConditionalCommit 只有在資料庫中的版本等於 expectedVersion 時才會成功，
// 否則回傳 ErrVersionConflict；這是所有並發控制的基礎。
type Store interface {
	Get(ctx context.Context, roomID primitive.ObjectID) (*models.Room, error)
	Create(ctx context.Context, room *models.Room) (*models.Room, error)
	ConditionalCommit(ctx context.Context, roomID primitive.ObjectID, expectedVersion int64, next *models.Room) (*models.Room, error)
	Delete(ctx context.Context, roomID primitive.ObjectID) error
}

// UpdatableFields 是 UpdateFields 允許修改的非成員欄位。
// nil 代表不修改該欄位。成員列表只能透過 Join/Leave 變更。
type UpdatableFields struct {
	SportName       *string          `json:"sportName,omitempty"`
	FieldName       *string          `json:"fieldName,omitempty"`
	Time            *string          `json:"time,omitempty"`
	TotalPrice      *float64         `json:"totalPrice,omitempty"`
	PricePerPerson  *float64         `json:"pricePerPerson,omitempty"`
	MaxParticipants *int             `json:"maxParticipants,omitempty"`
	Province        *string          `json:"province,omitempty"`
	ImagePath       *string          `json:"imagePath,omitempty"`
	Location        *models.Location `json:"location,omitempty"`
}

// Coordinator 負責房間成員變更的狀態機與容量不變式。
// 每個變更操作都是「讀取 → 以目前已提交狀態驗證 → 條件式提交」，
// 版本衝突就重讀重試；同一個房間的操作因此串行化，不同房間互不影響。
type Coordinator struct {
	store Store
}

// NewCoordinator 建立一個新的協調器
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// Create 建立新房間，開團者自動成為第一位參與者
func (c *Coordinator) Create(ctx context.Context, room *models.Room, ownerID primitive.ObjectID) (*models.Room, error) {
	room.OwnerID = ownerID
	room.Participants = []primitive.ObjectID{ownerID}
	room.Version = 1
	now := time.Now()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.RecomputeDerived()
	return c.store.Create(ctx, room)
}

// Join 將 userID 加入房間。
// 保證：房間已滿時加入必定失敗，任何並發情況下參與者數量都不會超過上限。
func (c *Coordinator) Join(ctx context.Context, roomID, userID primitive.ObjectID) (*models.Room, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		room, err := c.store.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.HasParticipant(userID) {
			return nil, ErrAlreadyJoined
		}
		if len(room.Participants) >= room.MaxParticipants {
			return nil, ErrRoomFull
		}

		next := room.Clone()
		next.Participants = append(next.Participants, userID)
		next.RecomputeDerived()

		committed, err := c.store.ConditionalCommit(ctx, roomID, room.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			continue // 有人搶先提交，重讀最新狀態再驗證一次
		}
		if err != nil {
			return nil, err
		}
		return committed, nil
	}
	return nil, ErrContention
}

// Leave 將 userID 從房間移除。
// 開團者離開時不會轉移房主，房間會留著一個不在成員列表中的房主。
func (c *Coordinator) Leave(ctx context.Context, roomID, userID primitive.ObjectID) (*models.Room, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		room, err := c.store.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !room.HasParticipant(userID) {
			return nil, ErrNotAParticipant
		}

		next := room.Clone()
		remaining := make([]primitive.ObjectID, 0, len(next.Participants)-1)
		for _, p := range next.Participants {
			if p != userID {
				remaining = append(remaining, p)
			}
		}
		next.Participants = remaining
		next.RecomputeDerived()

		committed, err := c.store.ConditionalCommit(ctx, roomID, room.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return committed, nil
	}
	return nil, ErrContention
}

// UpdateFields 由房主修改非成員欄位。
// 縮小人數上限時必須重新驗證目前人數，低於現有人數直接拒絕，絕不截斷參與者。
func (c *Coordinator) UpdateFields(ctx context.Context, roomID, callerID primitive.ObjectID, fields UpdatableFields) (*models.Room, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		room, err := c.store.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.OwnerID != callerID {
			return nil, ErrNotOwner
		}
		if fields.MaxParticipants != nil && *fields.MaxParticipants < len(room.Participants) {
			return nil, ErrCapacityBelowOccupancy
		}

		next := room.Clone()
		applyFields(next, fields)
		next.RecomputeDerived()

		committed, err := c.store.ConditionalCommit(ctx, roomID, room.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return committed, nil
	}
	return nil, ErrContention
}

// Delete 由房主刪除房間
func (c *Coordinator) Delete(ctx context.Context, roomID, callerID primitive.ObjectID) error {
	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != callerID {
		return ErrNotOwner
	}
	return c.store.Delete(ctx, roomID)
}

func applyFields(room *models.Room, fields UpdatableFields) {
	if fields.SportName != nil {
		room.SportName = *fields.SportName
	}
	if fields.FieldName != nil {
		room.FieldName = *fields.FieldName
	}
	if fields.Time != nil {
		room.Time = *fields.Time
	}
	if fields.TotalPrice != nil {
		room.TotalPrice = *fields.TotalPrice
	}
	if fields.PricePerPerson != nil {
		room.PricePerPerson = *fields.PricePerPerson
	}
	if fields.MaxParticipants != nil {
		room.MaxParticipants = *fields.MaxParticipants
	}
	if fields.Province != nil {
		room.Province = *fields.Province
	}
	if fields.ImagePath != nil {
		room.ImagePath = *fields.ImagePath
	}
	if fields.Location != nil {
		room.Location = *fields.Location
	}
}
