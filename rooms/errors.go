package rooms

import "errors"

// 房間操作的錯誤分類。
// 驗證與衝突類錯誤對請求而言是終止性的，直接回傳給呼叫端；
// ErrContention 屬於暫時性錯誤，呼叫端可安全重試。
var (
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomFull               = errors.New("room is full")
	ErrAlreadyJoined          = errors.New("user already joined the room")
	ErrNotAParticipant        = errors.New("user is not in the room")
	ErrNotOwner               = errors.New("only the room owner may perform this action")
	ErrCapacityBelowOccupancy = errors.New("capacity cannot be lower than current participants")
	ErrContention             = errors.New("room is under heavy contention, please retry")

	// ErrVersionConflict 是儲存層的條件式提交失敗，由協調器的重試迴圈消化，
	// 不會直接傳到 HTTP 層。
	ErrVersionConflict = errors.New("room version conflict")
)
