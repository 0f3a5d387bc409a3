package feed

import (
	"context"
	"testing"

	"team-up/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// countingInvalidator 記錄快取被要求失效的次數
type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateList(ctx context.Context) {
	c.calls++
}

func newTestAdapter(out chan models.ChangeEvent, cache Invalidator) *Adapter {
	return New(nil, out, cache)
}

func makeRoom(id primitive.ObjectID, version int64) *models.Room {
	room := &models.Room{
		ID:              id,
		SportName:       "futsal",
		MaxParticipants: 10,
		Version:         version,
	}
	room.Participants = []primitive.ObjectID{primitive.NewObjectID()}
	room.RecomputeDerived()
	return room
}

func insertChange(room *models.Room) rawChange {
	change := rawChange{OperationType: "insert", FullDocument: room}
	change.DocumentKey.ID = room.ID
	return change
}

func updateChange(room *models.Room) rawChange {
	change := rawChange{OperationType: "update", FullDocument: room}
	change.DocumentKey.ID = room.ID
	return change
}

func deleteChange(id primitive.ObjectID) rawChange {
	change := rawChange{OperationType: "delete"}
	change.DocumentKey.ID = id
	return change
}

func TestNormalize_InsertUpdateDelete(t *testing.T) {
	out := make(chan models.ChangeEvent, 16)
	a := newTestAdapter(out, nil)
	roomID := primitive.NewObjectID()

	event, ok := a.normalize(insertChange(makeRoom(roomID, 1)))
	require.True(t, ok, "insert 應該產生事件")
	assert.Equal(t, models.ChangeCreated, event.Kind)
	assert.Equal(t, int64(1), event.Version)
	require.True(t, a.emit(context.Background(), event))

	event, ok = a.normalize(updateChange(makeRoom(roomID, 2)))
	require.True(t, ok, "update 應該產生事件")
	assert.Equal(t, models.ChangeUpdated, event.Kind)
	assert.Equal(t, int64(2), event.Version)
	require.True(t, a.emit(context.Background(), event))

	event, ok = a.normalize(deleteChange(roomID))
	require.True(t, ok, "delete 應該產生事件")
	assert.Equal(t, models.ChangeDeleted, event.Kind)
	assert.Equal(t, int64(3), event.Version, "刪除事件的版本應該是最後看到的版本 +1")
	assert.Nil(t, event.Room, "刪除事件不帶快照")
}

func TestNormalize_DeduplicatesStaleVersions(t *testing.T) {
	// resume 之後的重疊區段會重送舊事件，版本比對要把它們濾掉
	out := make(chan models.ChangeEvent, 16)
	a := newTestAdapter(out, nil)
	roomID := primitive.NewObjectID()

	event, ok := a.normalize(updateChange(makeRoom(roomID, 5)))
	require.True(t, ok)
	require.True(t, a.emit(context.Background(), event))

	_, ok = a.normalize(updateChange(makeRoom(roomID, 5)))
	assert.False(t, ok, "同版本的事件不應該重複送出")

	_, ok = a.normalize(updateChange(makeRoom(roomID, 4)))
	assert.False(t, ok, "舊版本的事件不應該送出")

	event, ok = a.normalize(updateChange(makeRoom(roomID, 6)))
	assert.True(t, ok, "新版本的事件應該照常送出")
	assert.Equal(t, int64(6), event.Version)
}

func TestNormalize_UpdateWithoutDocumentSkipped(t *testing.T) {
	// fullDocument lookup 撲空代表文件已被刪除，等 delete 事件就好
	out := make(chan models.ChangeEvent, 16)
	a := newTestAdapter(out, nil)

	change := rawChange{OperationType: "update"}
	change.DocumentKey.ID = primitive.NewObjectID()
	_, ok := a.normalize(change)
	assert.False(t, ok)
}

func TestNormalize_DeleteOfUnknownRoomSkipped(t *testing.T) {
	out := make(chan models.ChangeEvent, 16)
	a := newTestAdapter(out, nil)

	_, ok := a.normalize(deleteChange(primitive.NewObjectID()))
	assert.False(t, ok, "從沒看過的房間被刪除時沒有版本基準，不送事件")
}

func TestApplySnapshot_EmitsSyntheticEvents(t *testing.T) {
	// 斷線期間：roomA 版本前進、roomB 沒動、roomC 消失
	out := make(chan models.ChangeEvent, 16)
	a := newTestAdapter(out, nil)

	roomA := makeRoom(primitive.NewObjectID(), 7)
	roomB := makeRoom(primitive.NewObjectID(), 2)
	roomCID := primitive.NewObjectID()
	a.lastSeen[roomA.ID.Hex()] = 5
	a.lastSeen[roomB.ID.Hex()] = 2
	a.lastSeen[roomCID.Hex()] = 9

	a.applySnapshot(context.Background(), []models.Room{*roomA, *roomB})

	events := drain(out)
	require.Len(t, events, 2, "只補發版本前進與消失的房間")

	byRoom := make(map[string]models.ChangeEvent)
	for _, event := range events {
		byRoom[event.RoomID] = event
	}

	advanced, ok := byRoom[roomA.ID.Hex()]
	require.True(t, ok, "版本前進的房間應該補發事件")
	assert.Equal(t, models.ChangeUpdated, advanced.Kind, "補償事件一律是 Updated")
	assert.Equal(t, int64(7), advanced.Version)
	require.NotNil(t, advanced.Room)
	assert.Equal(t, advanced.Room.CurrentParticipants == advanced.Room.MaxParticipants,
		advanced.Room.IsFull, "事件快照也必須滿足 isFull 的推導關係")

	deleted, ok := byRoom[roomCID.Hex()]
	require.True(t, ok, "消失的房間應該補發 Deleted")
	assert.Equal(t, models.ChangeDeleted, deleted.Kind)
	assert.Equal(t, int64(10), deleted.Version)

	_, ok = byRoom[roomB.ID.Hex()]
	assert.False(t, ok, "版本沒動的房間不應該補發事件")
}

func TestEmit_InvalidatesCacheAndTracksVersion(t *testing.T) {
	out := make(chan models.ChangeEvent, 16)
	cache := &countingInvalidator{}
	a := newTestAdapter(out, cache)
	roomID := primitive.NewObjectID()

	event, ok := a.normalize(insertChange(makeRoom(roomID, 1)))
	require.True(t, ok)
	require.True(t, a.emit(context.Background(), event))
	assert.Equal(t, 1, cache.calls, "每個事件都應該讓房間列表快取失效")
	assert.Equal(t, int64(1), a.lastSeen[roomID.Hex()])

	event, ok = a.normalize(deleteChange(roomID))
	require.True(t, ok)
	require.True(t, a.emit(context.Background(), event))
	assert.Equal(t, 2, cache.calls)
	_, tracked := a.lastSeen[roomID.Hex()]
	assert.False(t, tracked, "刪除後不再追蹤該房間的版本")
}

func TestVersionsStrictlyIncreasePerRoom(t *testing.T) {
	// 任何一個訂閱者看到的單一房間版本序列必須嚴格遞增
	out := make(chan models.ChangeEvent, 32)
	a := newTestAdapter(out, nil)
	roomID := primitive.NewObjectID()

	inputs := []rawChange{
		insertChange(makeRoom(roomID, 1)),
		updateChange(makeRoom(roomID, 2)),
		updateChange(makeRoom(roomID, 2)), // resume 重疊
		updateChange(makeRoom(roomID, 3)),
		updateChange(makeRoom(roomID, 1)), // 亂序的舊事件
		updateChange(makeRoom(roomID, 4)),
	}
	for _, change := range inputs {
		if event, ok := a.normalize(change); ok {
			require.True(t, a.emit(context.Background(), event))
		}
	}

	var last int64
	for _, event := range drain(out) {
		assert.Greater(t, event.Version, last, "版本序列必須嚴格遞增")
		last = event.Version
	}
	assert.Equal(t, int64(4), last)
}

func drain(out chan models.ChangeEvent) []models.ChangeEvent {
	var events []models.ChangeEvent
	for {
		select {
		case event := <-out:
			events = append(events, event)
		default:
			return events
		}
	}
}
