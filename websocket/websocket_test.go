package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"team-up/backend/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient 建立一個沒有實際連線的訂閱者，直接從通道驗證投遞行為
func newTestClient(h *Hub, id string, bufferSize int) *Client {
	return &Client{
		hub:    h,
		id:     id,
		send:   make(chan models.ChangeEvent, bufferSize),
		resync: make(chan struct{}, 1),
	}
}

func event(version int64) models.ChangeEvent {
	return models.ChangeEvent{
		RoomID:  "room-1",
		Kind:    models.ChangeUpdated,
		Version: version,
	}
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	clientA := newTestClient(h, "a", 8)
	clientB := newTestClient(h, "b", 8)
	h.register <- clientA
	h.register <- clientB

	for v := int64(1); v <= 3; v++ {
		h.Broadcast <- event(v)
	}

	for _, c := range []*Client{clientA, clientB} {
		for v := int64(1); v <= 3; v++ {
			select {
			case got := <-c.send:
				assert.Equal(t, v, got.Version, "每個訂閱者都應該依序收到全部事件")
			case <-time.After(time.Second):
				t.Fatalf("subscriber %s 沒有在時限內收到事件 %d", c.id, v)
			}
		}
	}
}

func TestHub_SlowSubscriberGetsCoalescedResync(t *testing.T) {
	// 規格情境：訂閱者的緩衝深度 1，房間連續更新 5→6→7，
	// 溢出的 6、7 合併成一個 resync 信號，不會一個一個補送。
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	slow := newTestClient(h, "slow", 1)
	fast := newTestClient(h, "fast", 8)
	h.register <- slow
	h.register <- fast

	for v := int64(5); v <= 7; v++ {
		h.Broadcast <- event(v)
	}

	// 快的訂閱者完全不受慢訂閱者影響
	for v := int64(5); v <= 7; v++ {
		select {
		case got := <-fast.send:
			assert.Equal(t, v, got.Version)
		case <-time.After(time.Second):
			t.Fatal("快的訂閱者不應該被慢的訂閱者拖住")
		}
	}

	// 慢的訂閱者：緩衝裡只有第一個事件，其餘合併成一個 resync 信號
	select {
	case got := <-slow.send:
		assert.Equal(t, int64(5), got.Version)
	case <-time.After(time.Second):
		t.Fatal("慢的訂閱者應該至少收到塞進緩衝的那個事件")
	}

	select {
	case <-slow.resync:
	case <-time.After(time.Second):
		t.Fatal("緩衝溢出後應該收到 resync 信號")
	}

	select {
	case extra := <-slow.send:
		t.Fatalf("溢出的事件不應該被逐一補送，卻收到了版本 %d", extra.Version)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, slow.resync, "resync 信號應該被合併成一個")
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	client := newTestClient(h, "c", 8)
	h.register <- client

	h.unregister <- client
	h.unregister <- client // 第二次必須是安全的 no-op

	// 取消註冊之後不會再有任何投遞，send 通道已被關閉
	h.Broadcast <- event(1)
	require.Eventually(t, func() bool {
		_, open := <-client.send
		return !open
	}, time.Second, 10*time.Millisecond, "取消註冊後 send 通道應該被關閉且不再收到事件")
}

func TestWritePump_BufferedEventsPrecedeResync(t *testing.T) {
	// 緩衝裡還排著舊事件時，resync 不能插隊：
	// 訂閱者重抓完最新狀態後不應該再收到更舊的版本。
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{
			hub:    h,
			conn:   conn,
			id:     "writer",
			send:   make(chan models.ChangeEvent, 1),
			resync: make(chan struct{}, 1),
		}
		// 事件與 resync 信號同時在等著被寫出
		client.send <- event(5)
		client.resync <- struct{}{}
		go client.writePump()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	for round := 0; round < 20; round++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var first Envelope
		require.NoError(t, conn.ReadJSON(&first))
		require.Equal(t, EnvelopeRoomChange, first.Type,
			"緩衝中的事件必須先於 resync 送出")
		require.NotNil(t, first.Event)
		assert.Equal(t, int64(5), first.Event.Version)

		var second Envelope
		require.NoError(t, conn.ReadJSON(&second))
		assert.Equal(t, EnvelopeResync, second.Type, "resync 應該排在事件之後")

		conn.Close()
	}
}

func TestHub_ShutdownDoesNotBlockConnectionTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleSubscribe))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// 先停掉 Hub，既有連線的清理與新連線的註冊都不能卡死
	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("ctx 結束後 Run 應該返回")
	}

	// Hub 停止後的新訂閱應該被直接關閉，而不是卡在註冊
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	assert.Error(t, err, "Hub 停止後的新連線應該立刻被關閉")
	late.Close()

	conn.Close()

	// srv.Close 會等所有 handler 結束：
	// 若 readPump 的取消註冊卡死，這裡就永遠等不到
	closed := make(chan struct{})
	go func() {
		srv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Hub 停止後連線清理不應該被卡住")
	}
}

func TestHub_ShutdownClosesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := newTestClient(h, "c", 8)
	h.register <- client

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ctx 結束後 Run 應該返回")
	}

	_, open := <-client.send
	assert.False(t, open, "Hub 關閉時應該關閉所有訂閱者的通道")
}
