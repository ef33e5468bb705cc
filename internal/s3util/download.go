// Package s3util provides the S3 helpers shared by the Lambda and HTTP
// entry points: frame and video download, report upload and presigning.
package s3util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// GetObjectAPI is the subset of *s3.Client used for downloads.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// maxParallelDownloads bounds concurrent GetObject calls in DownloadFrames.
const maxParallelDownloads = 4

// DownloadToFile downloads an S3 object to a specific local path.
func DownloadToFile(ctx context.Context, client GetObjectAPI, bucket, key, localPath string) error {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, result.Body); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}

// DownloadToTempFile downloads an S3 object to a new temporary file and returns
// the file path plus a cleanup function that removes it.
func DownloadToTempFile(ctx context.Context, client GetObjectAPI, bucket, key string) (string, func(), error) {
	tmpFile, err := os.CreateTemp("", "s3dl-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpFile.Close()

	if err := DownloadToFile(ctx, client, bucket, key, tmpFile.Name()); err != nil {
		os.Remove(tmpFile.Name())
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmpFile.Name()) }
	return tmpFile.Name(), cleanup, nil
}

// DownloadFrames downloads keys into dir, preserving their order. Local names
// are prefixed with the key's position so two keys with the same base name
// cannot collide.
func DownloadFrames(ctx context.Context, client GetObjectAPI, bucket string, keys []string, dir string) ([]string, error) {
	paths := make([]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i, key := range keys {
		paths[i] = filepath.Join(dir, fmt.Sprintf("%03d-%s", i+1, path.Base(key)))
		g.Go(func() error {
			return DownloadToFile(gctx, client, bucket, key, paths[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debug().Str("bucket", bucket).Int("frames", len(keys)).Msg("Frames downloaded from S3")
	return paths, nil
}
