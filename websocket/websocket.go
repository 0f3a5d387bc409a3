package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"team-up/backend/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// 將訊息寫入到遠端對等點的最長時間
	writeWait = 10 * time.Second

	// 允許從遠端對等點讀取下一個 pong 訊息的最長時間。
	pongWait = 60 * time.Second

	// 發送 ping 訊息給遠端對等點的週期。
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// 每個訂閱者的事件緩衝上限。
	// 緩衝滿了不會阻塞廣播，改送一個合併過的 resync 信號。
	sendBufferSize = 64
)

// 推播給訂閱者的訊息類型
const (
	EnvelopeRoomChange = "room_change"
	EnvelopeResync     = "resync"
)

// Envelope 是透過 WebSocket 推播給訂閱者的外層結構。
// resync 表示訂閱者漏掉了事件，應該重新抓取完整房間列表。
type Envelope struct {
	Type  string              `json:"type"`
	Event *models.ChangeEvent `json:"event,omitempty"`
}

// upgrader 用於將 HTTP 連線升級為 WebSocket 連線
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 設定true:允許所有來源的連線
		return true
	},
}

// Client 代表一個訂閱房間變更的 WebSocket 客戶端
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string                  // 訂閱者識別碼
	send   chan models.ChangeEvent // 有界的事件緩衝通道
	resync chan struct{}           // 容量 1，緩衝溢出時的合併信號
}

// readPump 只負責偵測客戶端斷線並維持 pong 機制，訂閱者不會送資料進來
func (c *Client) readPump() {
	defer func() {
		// Hub 已經停止時沒有人在收 unregister，不能在這裡卡死
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Subscriber %s disconnected gracefully.", c.id)
			} else {
				log.Printf("Subscriber %s read error: %v", c.id, err)
			}
			break
		}
	}
}

// writeEvent 寫出一個事件，回傳 false 表示 writePump 應該結束
func (c *Client) writeEvent(event models.ChangeEvent, ok bool) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if !ok {
		// channel 被 Hub 關閉，送出 CloseMessage 結束連線
		c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}
	if err := c.writeEnvelope(Envelope{Type: EnvelopeRoomChange, Event: &event}); err != nil {
		log.Printf("Error writing event to subscriber %s: %v", c.id, err)
		return false
	}
	return true
}

// writePump 把事件與 resync 信號寫給訂閱者
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		// 先清空緩衝中的事件再處理 resync 信號：
		// 溢出前就排進緩衝的舊事件必須在 resync 之前送出，
		// 否則訂閱者重抓完最新狀態後又會收到更舊的版本。
		select {
		case event, ok := <-c.send:
			if !c.writeEvent(event, ok) {
				return
			}
			continue
		default:
		}

		select {
		case event, ok := <-c.send:
			if !c.writeEvent(event, ok) {
				return
			}

		case <-c.resync:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.writeEnvelope(Envelope{Type: EnvelopeResync}); err != nil {
				log.Printf("Error writing resync to subscriber %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeEnvelope(envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub 維護所有活躍的訂閱者，並把每個變更事件廣播給每一個訂閱者。
// 廣播對單一訂閱者永遠不阻塞：緩衝滿了就改放一個 resync 信號，
// 慢的訂閱者不會拖累其他訂閱者，也不會堵住變更串流。
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan models.ChangeEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // Run 結束時關閉，讓註冊與取消註冊不會卡死
}

// NewHub 創建並返回一個新的 Hub 實例
func NewHub() *Hub {
	return &Hub{
		Broadcast:  make(chan models.ChangeEvent, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run 啟動 Hub 的運行迴圈，ctx 結束時關閉所有訂閱者
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Subscriber %s registered. Total subscribers: %d", client.id, len(h.clients))

		case client := <-h.unregister:
			// 重複 unregister 是安全的，之後也不會再有任何投遞
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("Subscriber %s unregistered. Total subscribers: %d", client.id, len(h.clients))
			}

		case event := <-h.Broadcast:
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// 緩衝滿了：合併成一個 resync 信號，已經有信號在排隊就不用再放
					select {
					case client.resync <- struct{}{}:
						log.Printf("Subscriber %s is slow, coalesced into resync signal", client.id)
					default:
					}
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// HandleSubscribe 處理訂閱房間變更的 WebSocket 連線請求
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		send:   make(chan models.ChangeEvent, sendBufferSize),
		resync: make(chan struct{}, 1),
	}
	// Hub 已經停止就直接拒絕這條連線，不能卡在註冊
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump() // readPump 會在連線關閉時自動取消註冊
}
