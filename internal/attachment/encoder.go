package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxFetchBytes ограничивает размер скачиваемой предыдущей картинки.
const maxFetchBytes = 32 * 1024 * 1024

// File вложение реплики: байты, имя и MIME-тип.
type File struct {
	Data     []byte
	Name     string
	MimeType string
}

// IsImage сообщает, что вложение: картинка.
func (f File) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.MimeType), "image/")
}

// ReadError: не удалось прочитать или декодировать вложение. Реплика прерывается.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("read attachment: %v", e.Err)
	}
	return fmt.Sprintf("read attachment %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// FetchError: не удалось скачать удалённую картинку по URL.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Encode читает r до конца и возвращает base64.
func Encode(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", &ReadError{Err: err}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeFile читает локальный файл и возвращает его как вложение вместе с base64.
func EncodeFile(path string) (File, string, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, "", &ReadError{Name: name, Err: err}
	}
	if len(data) == 0 {
		return File{}, "", &ReadError{Name: name, Err: errors.New("file is empty")}
	}
	f := File{Data: data, Name: name, MimeType: DetectMime(name, data)}
	return f, base64.StdEncoding.EncodeToString(data), nil
}

// Decode декодирует base64 (допускается data URI) обратно в байты.
func Decode(encoded string) ([]byte, error) {
	if _, b64, ok := ParseDataURI(encoded); ok {
		encoded = b64
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &ReadError{Err: err}
	}
	return data, nil
}

// DecodeFile собирает вложение из полей запроса. Пустой тип определяется по имени и содержимому.
func DecodeFile(encoded, name, mimeType string) (File, error) {
	data, err := Decode(encoded)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			re.Name = name
		}
		return File{}, err
	}
	if len(data) == 0 {
		return File{}, &ReadError{Name: name, Err: errors.New("attachment is empty")}
	}
	if name == "" {
		name = "upload"
	}
	if mimeType == "" {
		if declared, _, ok := ParseDataURI(encoded); ok && declared != "" {
			mimeType = declared
		} else {
			mimeType = DetectMime(name, data)
		}
	}
	return File{Data: data, Name: name, MimeType: mimeType}, nil
}

// DetectMime определяет MIME-тип по расширению, иначе по сигнатуре содержимого.
func DetectMime(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return stripParams(t)
		}
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return stripParams(http.DetectContentType(data))
}

// DataURI собирает data URI из типа и base64.
func DataURI(mimeType, b64 string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, b64)
}

// ParseDataURI разбирает data:<type>;base64,<data>.
func ParseDataURI(uri string) (mimeType string, b64 string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mimeType, payload, true
}

// FetchBase64 скачивает картинку по URL и возвращает base64 и Content-Type.
// data URI разбирается без сети.
func FetchBase64(ctx context.Context, client *http.Client, url string) (string, string, error) {
	if mimeType, b64, ok := ParseDataURI(url); ok {
		return b64, mimeType, nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", &FetchError{URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(b) == 0 {
			b = []byte(resp.Status)
		}
		return "", "", &FetchError{URL: url, Status: resp.StatusCode, Err: errors.New(string(bytes.TrimSpace(b)))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", &FetchError{URL: url, Err: err}
	}
	contentType := stripParams(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectMime("", data)
	}
	return base64.StdEncoding.EncodeToString(data), contentType, nil
}

func stripParams(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(t)
}
