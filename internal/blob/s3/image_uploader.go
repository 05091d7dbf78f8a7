package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// MaxImageSize bounds a single market image upload.
const MaxImageSize = 5 << 20

// imageExts maps the sniffed content types accepted for market images to
// the object key extension.
var imageExts = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// ImageUploader implements domain.ImageUploader. Objects are written to
// markets/<uuid>.<ext> and the public URL is returned.
type ImageUploader struct {
	writer domain.BlobWriter
	urlFor func(key string) string
	newID  func() string
}

// NewImageUploader uploads through w and resolves URLs with urlFor,
// usually (*Client).ObjectURL.
func NewImageUploader(w domain.BlobWriter, urlFor func(key string) string) *ImageUploader {
	return &ImageUploader{writer: w, urlFor: urlFor, newID: uuid.NewString}
}

// UploadImage reads at most MaxImageSize bytes, sniffs the content type
// and stores the image. name is only used in error messages; the stored
// key never derives from client input.
func (u *ImageUploader) UploadImage(ctx context.Context, name string, data io.Reader) (string, error) {
	body, err := io.ReadAll(io.LimitReader(data, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("s3blob: read image %s: %w", name, err)
	}
	if len(body) == 0 {
		return "", fmt.Errorf("s3blob: image %s is empty: %w", name, domain.ErrInvalidImage)
	}
	if len(body) > MaxImageSize {
		return "", fmt.Errorf("s3blob: image %s exceeds %d bytes: %w", name, MaxImageSize, domain.ErrInvalidImage)
	}

	contentType := http.DetectContentType(body)
	ext, ok := imageExts[contentType]
	if !ok {
		return "", fmt.Errorf("s3blob: image %s has type %s: %w", name, contentType, domain.ErrInvalidImage)
	}

	key := fmt.Sprintf("markets/%s.%s", u.newID(), ext)
	if err := u.writer.Put(ctx, key, bytes.NewReader(body), contentType); err != nil {
		return "", err
	}
	return u.urlFor(key), nil
}

var _ domain.ImageUploader = (*ImageUploader)(nil)
