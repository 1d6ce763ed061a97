package signing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive copies executed documents to an S3-compatible bucket so the
// signed record outlives the workstation. Optional: without it the
// bridge just streams the bytes to the caller.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive connects to the object store and ensures the bucket exists.
func NewArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create archive bucket: %w", err)
		}
	}
	return &Archive{client: client, bucket: bucket}, nil
}

// StoreExecuted archives the executed document and returns the object
// name it was written under.
func (a *Archive) StoreExecuted(ctx context.Context, documentID string, data []byte) (string, error) {
	object := "executed/" + documentID + ".pdf"
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("archive executed document: %w", err)
	}
	return object, nil
}
