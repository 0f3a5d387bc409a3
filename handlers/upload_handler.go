package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"team-up/backend/config"
)

// 上傳圖片的大小上限 (8 MB)
const maxUploadSize = 8 << 20

// UploadImage 處理房間圖片上傳，檔名加上時間戳避免衝突，回傳可公開存取的 URL
func UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		sendJSONError(w, "File too large or invalid form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		sendJSONError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	cfg := config.LoadConfig()
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Printf("Error creating upload directory: %v", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// 檔名格式: <timestamp>-<原始檔名>，只保留 base name 避免路徑跳脫
	filename := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(header.Filename))
	destPath := filepath.Join(cfg.UploadDir, filename)

	dest, err := os.Create(destPath)
	if err != nil {
		log.Printf("Error creating upload file: %v", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		log.Printf("Error writing upload file: %v", err)
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	fileURL := fmt.Sprintf("%s://%s/uploads/%s", scheme, r.Host, filename)
	log.Printf("Uploaded image saved to %s", destPath)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": fileURL})
}
