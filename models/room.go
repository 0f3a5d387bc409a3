package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Location 代表球場的地理座標
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Room 代表一個有人數上限的揪團房間
type Room struct {
	ID                  primitive.ObjectID   `bson:"_id,omitempty" json:"id,omitempty"`
	SportName           string               `bson:"sportName" json:"sportName"` // 運動種類
	FieldName           string               `bson:"fieldName" json:"fieldName"` // 場地名稱
	Time                string               `bson:"time" json:"time"`           // 活動時間
	TotalPrice          float64              `bson:"totalPrice" json:"totalPrice"`
	PricePerPerson      float64              `bson:"pricePerPerson" json:"pricePerPerson"`
	MaxParticipants     int                  `bson:"maxParticipants" json:"maxParticipants"` // 人數上限
	CurrentParticipants int                  `bson:"currentParticipants" json:"currentParticipants"`
	Province            string               `bson:"province" json:"province"` // 省份/縣市 (用於篩選)
	ImagePath           string               `bson:"imagePath" json:"imagePath"`
	Location            Location             `bson:"location" json:"location"`
	OwnerID             primitive.ObjectID   `bson:"ownerId" json:"ownerId"` // 開團者 ID，建立後不可變
	Participants        []primitive.ObjectID `bson:"participants" json:"participants"`
	IsFull              bool                 `bson:"isFull" json:"isFull"`   // 衍生欄位，每次變更都重新計算
	Version             int64                `bson:"version" json:"version"` // 樂觀鎖版本號，每次提交遞增
	CreatedAt           time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// HasParticipant 回傳 userID 是否已在參與者列表中
func (r *Room) HasParticipant(userID primitive.ObjectID) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RecomputeDerived 依照參與者列表重新計算衍生欄位。
// CurrentParticipants 與 IsFull 永遠由 Participants 和 MaxParticipants 推導，不單獨修改。
func (r *Room) RecomputeDerived() {
	r.CurrentParticipants = len(r.Participants)
	r.IsFull = r.CurrentParticipants == r.MaxParticipants
}

// Clone 回傳房間的深拷貝，讓呼叫端在提交前可以安全修改
func (r *Room) Clone() *Room {
	next := *r
	next.Participants = make([]primitive.ObjectID, len(r.Participants))
	copy(next.Participants, r.Participants)
	return &next
}
