package models

// ChangeKind 定義房間變更事件的類型
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created" // 新房間建立
	ChangeUpdated ChangeKind = "updated" // 房間內容或成員變更
	ChangeDeleted ChangeKind = "deleted" // 房間被刪除
)

// ChangeEvent 代表一次已提交的房間變更。
// 每次提交只會產生一個事件，同一個房間的 Version 嚴格遞增。
type ChangeEvent struct {
	RoomID  string     `json:"roomId"`
	Kind    ChangeKind `json:"kind"`
	Room    *Room      `json:"room,omitempty"` // 變更後的快照，刪除事件為 nil
	Version int64      `json:"version"`
}
