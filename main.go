package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"team-up/backend/config"
	"team-up/backend/database"
	"team-up/backend/feed"
	"team-up/backend/handlers"
	"team-up/backend/middleware"
	"team-up/backend/rooms"
	"team-up/backend/websocket"

	"github.com/gorilla/mux"
	"github.com/rs/cors" // 引入 CORS 庫
)

func main() {
	cfg := config.LoadConfig()

	database.ConnectMongoDB(cfg.MongoDBURI, cfg.DBName)
	defer database.DisconnectMongoDB()

	roomsCollection := database.GetCollection("rooms")
	store := database.NewRoomStore(roomsCollection)
	cache := database.NewRoomCache(cfg.RedisAddr, 5*time.Minute)
	defer cache.Close()
	coordinator := rooms.NewCoordinator(store)

	// 背景元件共用一個 context，收到結束信號時一起收掉
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// 訂閱者 Hub 與變更串流：資料庫的已提交變更 → 正規化事件 → 廣播給所有訂閱者
	hub := websocket.NewHub()
	go hub.Run(runCtx)
	adapter := feed.New(roomsCollection, hub.Broadcast, cache)
	go adapter.Run(runCtx)

	roomHandler := handlers.NewRoomHandler(coordinator, store, cache)

	router := mux.NewRouter()

	// 健康檢查路由
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Backend is running!")
	}).Methods("GET")

	// 公開 API 路由
	router.HandleFunc("/register", handlers.RegisterUser).Methods("POST")
	router.HandleFunc("/login", handlers.LoginUser).Methods("POST")
	router.HandleFunc("/users", handlers.GetAllUsers).Methods("GET")

	// 房間變更事件的訂閱端點，連線關閉時自動取消訂閱
	router.HandleFunc("/ws", hub.HandleSubscribe)

	// 上傳的圖片以靜態檔案提供
	router.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// 需要登入的 API 路由
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.JWTMiddleware)
	api.HandleFunc("/upload", handlers.UploadImage).Methods("POST")
	api.HandleFunc("/rooms", roomHandler.CreateRoom).Methods("POST")
	api.HandleFunc("/rooms", roomHandler.GetRooms).Methods("GET")
	api.HandleFunc("/rooms/joined", roomHandler.GetJoinedRooms).Methods("GET")
	api.HandleFunc("/rooms/{id}/join", roomHandler.JoinRoom).Methods("POST")
	api.HandleFunc("/rooms/{id}/leave", roomHandler.LeaveRoom).Methods("POST")
	api.HandleFunc("/rooms/{id}", roomHandler.UpdateRoom).Methods("PUT")
	api.HandleFunc("/rooms/{id}", roomHandler.DeleteRoom).Methods("DELETE")

	// 設置 CORS 中介軟體
	// 實際生產環境中，你應該將 AllowedOrigins 限制為你的前端網域
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// 將 CORS 中介軟體應用到你的路由上
	handler := c.Handler(router)

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler, // 將處理器替換為帶有 CORS 的 handler
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// 如果錯誤不是因為主動關閉伺服器，就記錄錯誤並結束程式
			log.Fatalf("Could not listen on %s: %v", serverAddr, err)
		}
	}()

	//當按下 Ctrl+C，程式會收到 SIGINT
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %s, shutting down server...", sig)

	// 先停掉變更串流與 Hub，再關閉 HTTP 伺服器
	runCancel()

	//最多等30秒關閉，避免資料損壞，請求中斷
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully.")
}
