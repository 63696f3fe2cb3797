package port

import (
	"context"
	"io"
)

type MediaStorage interface {
	DownloadObject(ctx context.Context, objectKey string, destPath string) error
	UploadReport(ctx context.Context, objectKey string, reader io.Reader, size int64) error
	UploadFrameArchive(ctx context.Context, objectKey string, reader io.Reader, size int64) error
}
