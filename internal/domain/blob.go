package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ImageUploader stores a market image and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, name string, data io.Reader) (string, error)
}
