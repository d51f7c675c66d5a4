package image

import (
	"AssistantRelay/internal/attachment"
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	defaultMaxWidth     = 1536
	defaultMaxSizeBytes = 4 * 1024 * 1024
	defaultQuality      = 85
	minWidth            = 320
)

// Processor уменьшает картинки-вложения перед отправкой в реле. Всё в памяти, на диск ничего не пишется.
type Processor struct {
	maxWidth    int
	maxSizeByte int
	quality     int
}

// NewProcessor создаёт обработчик. Нулевые лимиты заменяются значениями по умолчанию.
func NewProcessor(maxWidth, maxSizeBytes int) *Processor {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultMaxSizeBytes
	}
	return &Processor{maxWidth: maxWidth, maxSizeByte: maxSizeBytes, quality: defaultQuality}
}

// Prepare возвращает вложение, пригодное для отправки. Не картинки и картинки в пределах лимитов
// возвращаются как есть; остальные масштабируются и перекодируются в JPEG.
func (p *Processor) Prepare(f attachment.File) (attachment.File, error) {
	if !f.IsImage() {
		return f, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		// Формат, который мы не умеем декодировать (svg, heic), уходит без изменений
		return f, nil
	}
	if cfg.Width <= p.maxWidth && len(f.Data) <= p.maxSizeByte {
		return f, nil
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return attachment.File{}, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	origWidth, origHeight := img.Bounds().Dx(), img.Bounds().Dy()
	if origWidth == 0 || origHeight == 0 {
		return attachment.File{}, fmt.Errorf("invalid image size: %dx%d", origWidth, origHeight)
	}

	resizedWidth := min(origWidth, p.maxWidth)
	resizedHeight := max(1, origHeight*resizedWidth/origWidth)

	var encoded []byte
	for {
		encoded, err = encodeJPEG(resize(img, resizedWidth, resizedHeight), p.quality)
		if err != nil {
			return attachment.File{}, err
		}
		if len(encoded) <= p.maxSizeByte {
			break
		}
		if resizedWidth <= minWidth {
			return attachment.File{}, fmt.Errorf("image exceeds max size %d bytes even after downscale", p.maxSizeByte)
		}
		resizedWidth = max(1, int(float64(resizedWidth)*0.9))
		resizedHeight = max(1, origHeight*resizedWidth/origWidth)
	}

	base := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	if base == "" {
		base = "upload"
	}
	return attachment.File{Data: encoded, Name: base + ".jpg", MimeType: "image/jpeg"}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resize(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
