// Package archive writes access reports to S3 for compliance retention.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/mailgun-dsr-connector/internal/pkg/logger"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

// ObjectPutter is the subset of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive implements dsr.Archiver.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Archive loads the default AWS config for region and returns an
// archive writing under prefix in bucket.
func NewS3Archive(ctx context.Context, bucket, region, prefix string) (*S3Archive, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for access archive: %w", err)
	}
	return NewS3ArchiveWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3ArchiveWithClient builds an archive on an existing client.
func NewS3ArchiveWithClient(client ObjectPutter, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// objectKey is {prefix}/access/{yyyy-mm-dd}/{request_id}.json
func (a *S3Archive) objectKey(rec dsr.AccessRecord) string {
	return path.Join(a.prefix, "access", rec.GeneratedAt.UTC().Format("2006-01-02"), rec.RequestID+".json")
}

func (a *S3Archive) ArchiveAccess(ctx context.Context, rec dsr.AccessRecord) error {
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = time.Now().UTC()
	}
	if rec.MailingLists == nil {
		rec.MailingLists = []string{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal access record: %w", err)
	}

	key := a.objectKey(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", a.bucket, key, err)
	}

	logger.Debug("archive: access report stored", "request_id", rec.RequestID, "bucket", a.bucket, "key", key, "bytes", len(data))
	return nil
}
