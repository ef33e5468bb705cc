package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// FrameSource is read-only storage for reference frame images, addressed by
// the relative paths listed in the catalog.
type FrameSource interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// FrameCheck reports which reference frames of a pattern are present.
type FrameCheck struct {
	PatternID string
	Found     []string
	Missing   []string
}

// Available reports whether every frame of the pattern was found.
func (c FrameCheck) Available() bool {
	return len(c.Missing) == 0 && len(c.Found) > 0
}

// CheckFrames probes the source for every frame image of a pattern. A nil
// source reports every frame missing. Lookup errors count as missing and are
// logged, since absent reference data degrades the comparison but is never fatal.
func CheckFrames(ctx context.Context, src FrameSource, p *analysis.ReferencePattern) FrameCheck {
	check := FrameCheck{PatternID: p.ID}
	for _, img := range p.FrameImages {
		if src == nil {
			check.Missing = append(check.Missing, img)
			continue
		}
		ok, err := src.Exists(ctx, img)
		if err != nil {
			log.Warn().Err(err).Str("pattern", p.ID).Str("frame", img).Msg("Reference frame lookup failed")
		}
		if ok {
			check.Found = append(check.Found, img)
		} else {
			check.Missing = append(check.Missing, img)
		}
	}
	return check
}

// DirSource serves reference frames from a local directory.
type DirSource struct {
	root string
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

func (d *DirSource) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("reference path escapes root: %s", path)
	}
	return filepath.Join(d.root, clean), nil
}

func (d *DirSource) Exists(ctx context.Context, path string) (bool, error) {
	full, err := d.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (d *DirSource) Read(ctx context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source serves reference frames from an S3 bucket under a key prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source returns a source reading s3://bucket/prefix/<path>.
func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Source) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3Source) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	return false, fmt.Errorf("head s3://%s/%s: %w", s.bucket, s.key(path), err)
}

func (s *S3Source) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key(path), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
