package s3util

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	tagKey   = "Project"
	tagValue = "biomech-analyzer"
)

// ProjectTagging returns the URL-encoded tagging string for PutObjectInput.Tagging.
func ProjectTagging() *string {
	return aws.String(tagKey + "=" + tagValue)
}

// PutObjectTaggingAPI is the subset of *s3.Client used by TagObject.
type PutObjectTaggingAPI interface {
	PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// TagObject applies the cost-allocation tag to an existing object. Browser
// uploads through a presigned PUT arrive untagged.
func TagObject(ctx context.Context, client PutObjectTaggingAPI, bucket, key string) error {
	_, err := client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: &bucket,
		Key:    &key,
		Tagging: &s3types.Tagging{
			TagSet: []s3types.Tag{{Key: aws.String(tagKey), Value: aws.String(tagValue)}},
		},
	})
	if err != nil {
		return fmt.Errorf("tag %s: %w", key, err)
	}
	return nil
}
