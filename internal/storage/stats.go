package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Stats walks every object under the given key prefix and aggregates counts,
// sizes and modification times. Large buckets are paged through the
// ListObjectsV2 paginator, so memory stays flat regardless of object count.
func (t *S3Transferer) Stats(ctx context.Context, keyPrefix string) (*ObjectStats, error) {
	stats := &ObjectStats{
		ByExtension: make(map[string]ExtensionStats),
	}

	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNoSuchBucket(err) {
				return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, t.bucket)
			}
			return nil, fmt.Errorf("list s3://%s/%s: %w", t.bucket, keyPrefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			size := aws.ToInt64(obj.Size)
			modified := aws.ToTime(obj.LastModified)

			stats.TotalObjects++
			stats.TotalBytes += size

			ext := strings.ToLower(path.Ext(key))
			if ext == "" {
				ext = "(none)"
			}
			es := stats.ByExtension[ext]
			es.Count++
			es.Bytes += size
			stats.ByExtension[ext] = es

			if stats.OldestKey == "" || modified.Before(stats.OldestModified) {
				stats.OldestKey = key
				stats.OldestModified = modified
			}
			if stats.NewestKey == "" || modified.After(stats.NewestModified) {
				stats.NewestKey = key
				stats.NewestModified = modified
			}
		}
	}

	return stats, nil
}
