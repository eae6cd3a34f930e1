package backupstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quoradb/quoradb/internal/config"
)

// s3Uploader is the narrow surface Manager needs from the AWS SDK's S3
// client, so tests can substitute a fake without talking to AWS.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Uploader builds a region-scoped S3 client from the ambient AWS
// credential chain (environment, shared config, instance profile).
func newS3Uploader(ctx context.Context, region string) (s3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("backupstore: loading aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// uploadToS3 mirrors the final local artifact into storage's configured
// bucket under the same base filename.
func uploadToS3(ctx context.Context, uploader s3Uploader, storage config.StorageInfo, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("backupstore: opening artifact for upload: %w", err)
	}
	defer f.Close()

	key := filepath.Base(localPath)
	_, err = uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(storage.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("backupstore: uploading %s to s3://%s/%s: %w", localPath, storage.Bucket, key, err)
	}
	return nil
}
