// Package s3io archives resolved claim chains to S3 as JSON snapshots.
package s3io

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kylejryan/timesheet-claim-chains/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
)

// Putter is the subset of the S3 client used by [Archiver].
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes chain snapshots to a bucket.
type Archiver struct {
	client Putter
	bucket string
	newID  func() ulid.ULID
}

// NewArchiver creates an Archiver writing to bucket.
func NewArchiver(client Putter, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, newID: ulid.Make}
}

// ArchiveChain stores chain under [ArchiveKey] and returns the key written.
func (a *Archiver) ArchiveChain(ctx context.Context, companyID, originalClaimID string, chain *models.ForwardChain) (string, error) {
	if chain == nil {
		return "", errors.New("chain cannot be nil")
	}

	body, err := json.Marshal(chain)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chain: %w", err)
	}

	key := ArchiveKey(companyID, originalClaimID, a.newID())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(ContentTypeJSON),
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	})
	if err != nil {
		return "", fmt.Errorf("failed to write chain snapshot to s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
