package s3util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]*s3.PutObjectInput
	tags    map[string]*s3.PutObjectTaggingInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string]*s3.PutObjectInput{}
	}
	f.puts[*in.Key] = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutObjectTagging(_ context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tags == nil {
		f.tags = map[string]*s3.PutObjectTaggingInput{}
	}
	f.tags[*in.Key] = in
	return &s3.PutObjectTaggingOutput{}, nil
}

func TestDownloadFrames(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{
		"media/s1/a/frame.jpg": []byte("first"),
		"media/s1/b/frame.jpg": []byte("second"),
	}}
	dir := t.TempDir()

	paths, err := DownloadFrames(context.Background(), client, "media", []string{"s1/a/frame.jpg", "s1/b/frame.jpg"}, dir)
	if err != nil {
		t.Fatalf("DownloadFrames: %v", err)
	}
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Fatalf("paths = %v, want two distinct files", paths)
	}
	for i, want := range []string{"first", "second"} {
		got, err := os.ReadFile(paths[i])
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
		if filepath.Dir(paths[i]) != dir {
			t.Errorf("frame %d written outside %s: %s", i, dir, paths[i])
		}
	}
}

func TestDownloadFrames_MissingKey(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	_, err := DownloadFrames(context.Background(), client, "media", []string{"missing.jpg"}, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "missing.jpg") {
		t.Fatalf("err = %v, want a GetObject error naming the key", err)
	}
}

func TestDownloadToTempFile(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"media/v.mp4": []byte("video")}}
	path, cleanup, err := DownloadToTempFile(context.Background(), client, "media", "v.mp4")
	if err != nil {
		t.Fatalf("DownloadToTempFile: %v", err)
	}
	if filepath.Ext(path) != ".mp4" {
		t.Errorf("path = %s, want .mp4 extension", path)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cleanup left %s behind", path)
	}
}

func TestUploadReport(t *testing.T) {
	client := &fakeS3{}
	key, err := UploadReport(context.Background(), client, "media", "s1", []byte(`{"id":"s1"}`))
	if err != nil {
		t.Fatalf("UploadReport: %v", err)
	}
	if key != "s1/report.json" {
		t.Errorf("key = %s", key)
	}
	in := client.puts[key]
	if *in.ContentType != "application/json" || *in.Tagging != "Project=biomech-analyzer" {
		t.Errorf("content type %q tagging %q", *in.ContentType, *in.Tagging)
	}
}

func TestTagObject(t *testing.T) {
	client := &fakeS3{}
	if err := TagObject(context.Background(), client, "media", "s1/squat.mp4"); err != nil {
		t.Fatalf("TagObject: %v", err)
	}
	in := client.tags["s1/squat.mp4"]
	if in == nil || len(in.Tagging.TagSet) != 1 {
		t.Fatalf("tagging input = %+v", in)
	}
	tag := in.Tagging.TagSet[0]
	if *tag.Key != "Project" || *tag.Value != "biomech-analyzer" {
		t.Errorf("tag = %s=%s", *tag.Key, *tag.Value)
	}
}
