package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"example.com/photofeed/internal/gateway"
	config "example.com/photofeed/internal/init"
	"example.com/photofeed/internal/logger"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

var logg = logger.New()

// S3Store is a gateway.BlobStore backed by an S3 bucket.
type S3Store struct {
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
	uploader      s3manageriface.UploaderAPI
	svc           s3iface.S3API
}

var _ gateway.BlobStore = (*S3Store)(nil)

// NewS3Store builds an S3Store from the loaded config. S3_ENDPOINT switches
// to path-style addressing for S3-compatible servers.
func NewS3Store() (*S3Store, error) {
	cfg := config.Get()

	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logg.Info("blob", "S3 blob store ready for bucket "+cfg.S3Bucket)
	return &S3Store{
		bucket:        cfg.S3Bucket,
		publicBaseURL: cfg.S3PublicBaseURL,
		presignTTL:    cfg.S3PresignTTL,
		uploader:      s3manager.NewUploader(sess),
		svc:           s3.New(sess),
	}, nil
}

// Upload stores data under path. Existing objects are overwritten.
func (s *S3Store) Upload(ctx context.Context, path string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		logg.Error("blob", "Failed to upload object", err)
		return fmt.Errorf("%w: upload %s: %v", gateway.ErrWrite, path, err)
	}
	return nil
}

// GetDownloadURL returns a public URL when S3_PUBLIC_BASE_URL is set and a
// presigned GET URL otherwise. Missing objects yield gateway.ErrNotFound.
func (s *S3Store) GetDownloadURL(ctx context.Context, path string) (string, error) {
	_, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s: %w", path, gateway.ErrNotFound)
		}
		logg.Error("blob", "Failed to stat object", err)
		return "", err
	}

	if s.publicBaseURL != "" {
		return joinURL(s.publicBaseURL, path)
	}

	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	signed, err := req.Presign(s.presignTTL)
	if err != nil {
		logg.Error("blob", "Failed to presign object URL", err)
		return "", err
	}
	return signed, nil
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case "NotFound", s3.ErrCodeNoSuchKey:
		return true
	}
	return false
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrMalformedData, err)
	}
	return u.String(), nil
}
