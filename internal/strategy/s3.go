package strategy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/studentutu/shipyard/internal/task"
	"github.com/studentutu/shipyard/pkg/model"
)

// Uploader is the slice of the S3 transfer manager the strategy needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Strategy uploads every artifact to an object-store bucket through the
// S3 transfer manager. Each upload runs as a bridged async task, so the run
// can be cancelled mid-transfer.
type S3Strategy struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// NewS3Strategy creates an S3Strategy.
func NewS3Strategy(uploader Uploader, bucket, prefix string) *S3Strategy {
	return &S3Strategy{uploader: uploader, bucket: bucket, prefix: prefix}
}

// NewS3Uploader builds a transfer-manager uploader from the default AWS
// config chain.
func NewS3Uploader(ctx context.Context, region string) (Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return manager.NewUploader(s3.NewFromConfig(cfg)), nil
}

// Type returns model.StrategyTypeS3.
func (s *S3Strategy) Type() model.StrategyType {
	return model.StrategyTypeS3
}

// AllowEmptyTargets returns false.
func (s *S3Strategy) AllowEmptyTargets() bool {
	return false
}

// Task builds the upload task: one delegated async upload per artifact.
func (s *S3Strategy) Task(rc *Context, artifacts []model.TargetArtifact, forceBuild bool) *task.Task {
	logger := rc.Logger.With("component", "s3-strategy")

	idx := 0
	waiting := false
	var remove func()

	return task.New("distribute-s3", func() task.Step {
		if waiting {
			res := task.Result[task.AsyncResult](rc.Scheduler)
			remove()
			waiting = false

			art := artifacts[idx]
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) {
					logger.Info("upload cancelled", "target_id", art.Target.ID)
				} else {
					logger.Error("upload failed", "target_id", art.Target.ID, "error", res.Err)
				}
				return task.Done(false)
			}
			if loc, ok := res.Value.(string); ok {
				logger.Info("artifact uploaded", "target_id", art.Target.ID, "location", loc)
			}
			idx++
		}

		if idx >= len(artifacts) {
			return task.Done(true)
		}

		art := artifacts[idx]
		upload, cancel := task.Async("s3-upload", func(ctx context.Context) (any, error) {
			return s.upload(ctx, art)
		})
		remove = rc.Cancels.Add(func() { cancel() })
		waiting = true
		return task.Delegate(upload)
	})
}

// upload streams one artifact to the bucket and returns its location.
func (s *S3Strategy) upload(ctx context.Context, art model.TargetArtifact) (string, error) {
	f, err := os.Open(art.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := path.Join(s.prefix, art.Target.ID, filepath.Base(art.Path))
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s (%s): %w", key, humanize.Bytes(uint64(st.Size())), err)
	}
	return out.Location, nil
}
