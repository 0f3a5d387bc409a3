package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"team-up/backend/database"
	"team-up/backend/models"
	"team-up/backend/rooms"
	"team-up/backend/utils"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// userIDFromContext 取出 JWT 中介層放進 context 的使用者 ID
func userIDFromContext(r *http.Request) (primitive.ObjectID, error) {
	return utils.GetUserIDFromContext(r.Context())
}

// CreateRoomRequest 定義開團的請求體
type CreateRoomRequest struct {
	SportName       string          `json:"sportName"`
	FieldName       string          `json:"fieldName"`
	Time            string          `json:"time"`
	TotalPrice      float64         `json:"totalPrice"`
	PricePerPerson  float64         `json:"pricePerPerson"`
	MaxParticipants int             `json:"maxParticipants"`
	Province        string          `json:"province"`
	ImagePath       string          `json:"imagePath"`
	Location        models.Location `json:"location"`
}

// RoomHandler 把成員協調器與房間讀取路徑接上 HTTP
type RoomHandler struct {
	Coordinator *rooms.Coordinator
	Store       *database.RoomStore
	Cache       *database.RoomCache
}

// NewRoomHandler 建立房間相關路由的處理器
func NewRoomHandler(coordinator *rooms.Coordinator, store *database.RoomStore, cache *database.RoomCache) *RoomHandler {
	return &RoomHandler{Coordinator: coordinator, Store: store, Cache: cache}
}

// statusForRoomError 把協調器的錯誤分類對應到 HTTP 狀態碼
func statusForRoomError(err error) int {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, rooms.ErrRoomFull),
		errors.Is(err, rooms.ErrAlreadyJoined),
		errors.Is(err, rooms.ErrNotAParticipant),
		errors.Is(err, rooms.ErrCapacityBelowOccupancy):
		return http.StatusConflict
	case errors.Is(err, rooms.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, rooms.ErrContention):
		// 暫時性錯誤，呼叫端可安全重試
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendRoomError(w http.ResponseWriter, err error) {
	status := statusForRoomError(err)
	if status == http.StatusInternalServerError {
		log.Printf("Room operation failed: %v", err)
		sendJSONError(w, "Internal server error", status)
		return
	}
	sendJSONError(w, err.Error(), status)
}

// roomIDFromRequest 從 URL 路徑解析房間 ID
func roomIDFromRequest(r *http.Request) (primitive.ObjectID, error) {
	vars := mux.Vars(r)
	return primitive.ObjectIDFromHex(vars["id"])
}

// CreateRoom 處理開團請求，開團者自動成為第一位參與者
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.SportName == "" || req.FieldName == "" || req.Province == "" {
		sendJSONError(w, "sportName, fieldName, and province are required", http.StatusBadRequest)
		return
	}
	if req.MaxParticipants < 1 {
		sendJSONError(w, "maxParticipants must be a positive integer", http.StatusBadRequest)
		return
	}

	ownerID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room := &models.Room{
		SportName:       req.SportName,
		FieldName:       req.FieldName,
		Time:            req.Time,
		TotalPrice:      req.TotalPrice,
		PricePerPerson:  req.PricePerPerson,
		MaxParticipants: req.MaxParticipants,
		Province:        req.Province,
		ImagePath:       req.ImagePath,
		Location:        req.Location,
	}

	created, err := h.Coordinator.Create(r.Context(), room, ownerID)
	if err != nil {
		sendRoomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// GetRooms 處理房間列表請求，可用 province 查詢參數篩選，結果有 Redis 快取
func (h *RoomHandler) GetRooms(w http.ResponseWriter, r *http.Request) {
	province := r.URL.Query().Get("province")

	if h.Cache != nil {
		if cached, ok := h.Cache.GetList(r.Context(), province); ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(cached)
			return
		}
	}

	roomList, err := h.Store.List(r.Context(), province)
	if err != nil {
		log.Printf("Error listing rooms: %v", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if roomList == nil {
		roomList = []models.Room{}
	}

	if h.Cache != nil {
		h.Cache.SetList(r.Context(), province, roomList)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roomList)
}

// GetJoinedRooms 處理查詢自己參與的房間的請求
func (h *RoomHandler) GetJoinedRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	roomList, err := h.Store.ListJoined(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing joined rooms for user %s: %v", userID.Hex(), err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if roomList == nil {
		roomList = []models.Room{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(roomList)
}

// JoinRoom 處理加入房間的請求
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromRequest(r)
	if err != nil {
		sendJSONError(w, "Invalid room ID format", http.StatusBadRequest)
		return
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room, err := h.Coordinator.Join(r.Context(), roomID, userID)
	if err != nil {
		sendRoomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(room)
}

// LeaveRoom 處理離開房間的請求
func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromRequest(r)
	if err != nil {
		sendJSONError(w, "Invalid room ID format", http.StatusBadRequest)
		return
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room, err := h.Coordinator.Leave(r.Context(), roomID, userID)
	if err != nil {
		sendRoomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(room)
}

// UpdateRoom 處理房主更新房間欄位的請求
func (h *RoomHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromRequest(r)
	if err != nil {
		sendJSONError(w, "Invalid room ID format", http.StatusBadRequest)
		return
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var fields rooms.UpdatableFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if fields.MaxParticipants != nil && *fields.MaxParticipants < 1 {
		sendJSONError(w, "maxParticipants must be a positive integer", http.StatusBadRequest)
		return
	}

	room, err := h.Coordinator.UpdateFields(r.Context(), roomID, userID, fields)
	if err != nil {
		sendRoomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(room)
}

// DeleteRoom 處理房主刪除房間的請求
func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDFromRequest(r)
	if err != nil {
		sendJSONError(w, "Invalid room ID format", http.StatusBadRequest)
		return
	}
	userID, err := userIDFromContext(r)
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Coordinator.Delete(r.Context(), roomID, userID); err != nil {
		sendRoomError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Room deleted successfully"})
}
