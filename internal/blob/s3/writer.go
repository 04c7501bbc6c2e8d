package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// minPartSize is the S3 minimum multipart part size (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter.
type Writer struct {
	api    manager.UploadAPIClient
	bucket string
	prefix string
}

// NewWriter creates a Writer for the client's bucket and key prefix.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.s3, bucket: c.bucket, prefix: c.prefix}
}

func (w *Writer) key(p string) string {
	if w.prefix == "" {
		return p
	}
	return path.Join(w.prefix, p)
}

// Put uploads data with a single PutObject call.
func (w *Writer) Put(ctx context.Context, p string, data io.Reader, contentType string) error {
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.key(p)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", p, err)
	}
	return nil
}

// PutMultipart uploads data in concurrent parts of at least 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, p string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(w.key(p)),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", p, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
