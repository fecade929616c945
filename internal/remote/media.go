package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/fieldsync/pkg/models"
)

// MediaStore uploads inline-encoded binary media to S3-compatible object
// storage so submission payloads stay small on the primary API.
type MediaStore struct {
	client *minio.Client
	bucket string
}

// NewMediaStore creates a media store against an S3-compatible endpoint.
func NewMediaStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MediaStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage client: %v", err)
	}
	return &MediaStore{client: client, bucket: bucket}, nil
}

// Offload replaces every inline media value in the payload with an
// object reference after uploading its content. Object keys derive from
// the submission id and field name, so a retried upload overwrites the
// same object and the operation stays idempotent. The input payload is
// not mutated.
func (ms *MediaStore) Offload(ctx context.Context, submissionID string, payload models.Payload) (models.Payload, error) {
	out := payload.Clone()
	if out == nil {
		return nil, fmt.Errorf("failed to copy payload")
	}

	for field, value := range out {
		filename, mimeType, data, ok := models.MediaValue(value)
		if !ok {
			continue
		}

		content, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode media for field %s: %v", field, err)
		}

		key := path.Join("submissions", submissionID, field, filename)
		_, err = ms.client.PutObject(ctx, ms.bucket, key,
			bytes.NewReader(content), int64(len(content)),
			minio.PutObjectOptions{ContentType: mimeType})
		if err != nil {
			return nil, fmt.Errorf("failed to upload media for field %s: %v", field, err)
		}

		out[field] = map[string]any{
			"type":     "media",
			"object":   path.Join(ms.bucket, key),
			"filename": filename,
			"mimeType": mimeType,
		}
	}
	return out, nil
}
