package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// partSize is the multipart chunk size; bodies below it go up in a single
// PutObject.
const partSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter on top of the S3 upload manager.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter returns a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return newWriter(c.s3, c.bucket, c.prefix)
}

func newWriter(api manager.UploadAPIClient, bucket, prefix string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: bucket,
		prefix: prefix,
	}
}

// Put uploads data under key, relative to the configured prefix.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	full := path.Join(w.prefix, key)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(full),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", full, err)
	}
	return nil
}
