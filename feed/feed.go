package feed

import (
	"context"
	"log"
	"time"

	"team-up/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 變更串流斷線後的重連間隔
const reconnectDelay = time.Second

// Invalidator 讓配接器在每次房間變更後順便讓讀取快取失效
type Invalidator interface {
	InvalidateList(ctx context.Context)
}

// rawChange 是 MongoDB change stream 事件中我們關心的欄位
type rawChange struct {
	OperationType string       `bson:"operationType"`
	FullDocument  *models.Room `bson:"fullDocument"`
	DocumentKey   struct {
		ID primitive.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
}

// Adapter 把 rooms 集合的已提交變更轉成正規化的 ChangeEvent 串流。
// 每筆已提交的變更恰好產生一個事件，同一個房間依版本遞增送出。
// 串流斷線時不會悄悄漏掉更新：重連後以整個集合的快照補償差異。
type Adapter struct {
	collection  *mongo.Collection
	out         chan<- models.ChangeEvent
	cache       Invalidator
	lastSeen    map[string]int64 // roomID (hex) -> 最後送出的版本
	resumeToken bson.Raw
}

// New 建立變更串流配接器，事件會送往 out。cache 可為 nil。
func New(collection *mongo.Collection, out chan<- models.ChangeEvent, cache Invalidator) *Adapter {
	return &Adapter{
		collection: collection,
		out:        out,
		cache:      cache,
		lastSeen:   make(map[string]int64),
	}
}

// Run 持續消費變更串流直到 ctx 結束。
// 啟動時先記下現有房間的版本基準，之後每次斷線都重新比對快照，
// 訂閱端因此永遠看不到縫隙，只會多收到補償用的 Updated/Deleted 事件。
func (a *Adapter) Run(ctx context.Context) {
	if err := a.prime(ctx); err != nil {
		log.Printf("Error priming change feed baseline: %v", err)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		err := a.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("Room change stream interrupted: %v", err)

		// 斷線期間可能有已提交卻沒觀察到的變更，重讀集合補償
		if err := a.resync(ctx); err != nil {
			log.Printf("Error resynchronizing room change feed: %v", err)
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// watch 開啟 change stream 並逐筆轉發，串流中斷時回傳原因
func (a *Adapter) watch(ctx context.Context) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if a.resumeToken != nil {
		opts.SetResumeAfter(a.resumeToken)
	}

	stream, err := a.collection.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		// resume token 可能已經超出 oplog 範圍，丟掉並改走全量補償
		a.resumeToken = nil
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var change rawChange
		if err := stream.Decode(&change); err != nil {
			log.Printf("Error decoding room change event: %v", err)
			continue
		}
		if event, ok := a.normalize(change); ok {
			if !a.emit(ctx, event) {
				return ctx.Err()
			}
		}
		a.resumeToken = stream.ResumeToken()
	}
	return stream.Err()
}

// normalize 把原始變更轉成 ChangeEvent。
// 重複或過期的事件（例如 resume 之後的重疊區段）會被版本比對濾掉。
func (a *Adapter) normalize(change rawChange) (models.ChangeEvent, bool) {
	roomID := change.DocumentKey.ID.Hex()

	switch change.OperationType {
	case "insert":
		if change.FullDocument == nil {
			return models.ChangeEvent{}, false
		}
		if change.FullDocument.Version <= a.lastSeen[roomID] {
			return models.ChangeEvent{}, false
		}
		return models.ChangeEvent{
			RoomID:  roomID,
			Kind:    models.ChangeCreated,
			Room:    change.FullDocument,
			Version: change.FullDocument.Version,
		}, true

	case "update", "replace":
		// fullDocument lookup 可能因為文件已被刪除而為空，刪除事件稍後會到
		if change.FullDocument == nil {
			return models.ChangeEvent{}, false
		}
		if change.FullDocument.Version <= a.lastSeen[roomID] {
			return models.ChangeEvent{}, false
		}
		return models.ChangeEvent{
			RoomID:  roomID,
			Kind:    models.ChangeUpdated,
			Room:    change.FullDocument,
			Version: change.FullDocument.Version,
		}, true

	case "delete":
		if _, seen := a.lastSeen[roomID]; !seen {
			return models.ChangeEvent{}, false
		}
		// 刪除後拿不到文件版本，用最後看到的版本 +1 維持遞增
		return models.ChangeEvent{
			RoomID:  roomID,
			Kind:    models.ChangeDeleted,
			Version: a.lastSeen[roomID] + 1,
		}, true
	}
	return models.ChangeEvent{}, false
}

// emit 更新版本記錄、讓快取失效並送出事件，ctx 結束時回傳 false
func (a *Adapter) emit(ctx context.Context, event models.ChangeEvent) bool {
	if event.Kind == models.ChangeDeleted {
		delete(a.lastSeen, event.RoomID)
	} else {
		a.lastSeen[event.RoomID] = event.Version
	}
	if a.cache != nil {
		a.cache.InvalidateList(ctx)
	}

	select {
	case a.out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// prime 在第一次 watch 之前記下現有房間的版本，啟動時不補發歷史事件
func (a *Adapter) prime(ctx context.Context) error {
	current, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	for _, room := range current {
		a.lastSeen[room.ID.Hex()] = room.Version
	}
	return nil
}

// resync 以目前集合內容補償斷線期間漏掉的變更：
// 版本前進的房間補發 Updated，消失的房間補發 Deleted。
func (a *Adapter) resync(ctx context.Context) error {
	current, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	a.applySnapshot(ctx, current)
	return nil
}

func (a *Adapter) applySnapshot(ctx context.Context, current []models.Room) {
	present := make(map[string]bool, len(current))
	for i := range current {
		room := current[i]
		roomID := room.ID.Hex()
		present[roomID] = true
		if room.Version > a.lastSeen[roomID] {
			a.emit(ctx, models.ChangeEvent{
				RoomID:  roomID,
				Kind:    models.ChangeUpdated,
				Room:    &room,
				Version: room.Version,
			})
		}
	}

	for roomID, version := range a.lastSeen {
		if !present[roomID] {
			a.emit(ctx, models.ChangeEvent{
				RoomID:  roomID,
				Kind:    models.ChangeDeleted,
				Version: version + 1,
			})
		}
	}
}

func (a *Adapter) snapshot(ctx context.Context) ([]models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := a.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var current []models.Room
	if err := cursor.All(ctx, &current); err != nil {
		return nil, err
	}
	return current, nil
}
