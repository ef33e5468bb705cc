package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReportKey is where a session's exported report is stored.
func ReportKey(sessionID string) string {
	return fmt.Sprintf("%s/report.json", sessionID)
}

// UploadReport stores a session's JSON export under ReportKey and tags it for
// cost allocation.
func UploadReport(ctx context.Context, client PutObjectAPI, bucket, sessionID string, body []byte) (string, error) {
	key := ReportKey(sessionID)
	contentType := "application/json"
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	log.Info().Str("key", key).Int("bytes", len(body)).Msg("Report uploaded to S3")
	return key, nil
}

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object.
func GeneratePresignedURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// GeneratePresignedUploadURL creates a pre-signed PUT URL for a browser upload.
func GeneratePresignedUploadURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key, contentType string, expiry time.Duration) (string, error) {
	result, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: &contentType,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign PutObject: %w", err)
	}
	return result.URL, nil
}
