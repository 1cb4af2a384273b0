package publish

import (
	"fmt"

	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/s3"

	"github.com/xmastree/datasleigh/internal/config"
)

// NewBucket builds the object-store client used for both the live
// artifact PUT and the monthly cold-backup upload. Grounded on
// `_examples/vinceanalytics-vince/internal/b3/b3.go`'s
// `s3.NewBucketWithConfig` construction; a custom endpoint is always
// supplied so any S3-compatible target works, not only AWS.
func NewBucket(cfg config.Publish) (objstore.Bucket, error) {
	s3Cfg := s3.Config{
		Bucket:    cfg.Bucket,
		Endpoint:  cfg.Endpoint,
		Region:    cfg.Region,
		AccessKey: cfg.AWSKey,
		SecretKey: cfg.AWSSecret,
	}
	bkt, err := s3.NewBucketWithConfig(nil, s3Cfg, "datasleigh")
	if err != nil {
		return nil, fmt.Errorf("constructing object store client: %w", err)
	}
	return bkt, nil
}
