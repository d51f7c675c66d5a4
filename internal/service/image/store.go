package image

import (
	"AssistantRelay/internal/attachment"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store сохраняет полученные от реле картинки в папку.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store { return &Store{dir: dir, now: time.Now} }

// SaveBase64 сохраняет картинку и возвращает путь к файлу. Расширение выбирается по MIME-типу.
func (s *Store) SaveBase64(b64, mimeType string) (string, error) {
	data, err := attachment.Decode(b64)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("image is empty")
	}
	if mimeType == "" {
		mimeType = attachment.DetectMime("", data)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("image_%s%s", s.now().Format("2006-01-02_15-04-05.000"), extension(mimeType))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
