package internal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// UploadArtifact uploads the extraction output at localPath to
// s3://bucket/key using the default AWS credential chain, the same
// chain cdc.RunOnce relies on for its own S3 client. Used by cmd/refslice
// when Config.Output.S3Bucket is set, so a completed extraction can be
// handed off to a shared bucket without a separate upload step.
func UploadArtifact(ctx context.Context, localPath, bucket, key string) error {
	if key == "" {
		key = filepathBase(localPath)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(uploadCtx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer f.Close()

	out, err := uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", localPath, bucket, key, err)
	}

	zap.S().Infow("uploaded extraction artifact", "bucket", bucket, "key", key, "location", out.Location)
	return nil
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
