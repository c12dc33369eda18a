package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/parser"
)

func init() {
	Register("s3", newS3Sink)
}

// S3Options configures the s3 transport. Any S3-compatible endpoint works
// (AWS, Backblaze B2, MinIO).
type S3Options struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Insecure  bool   `mapstructure:"insecure"`
}

// objectPutter is the subset of *minio.Client the sink needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Sink stores each day's samples as a JSON object named <prefix>/YYYY-MM-DD.json.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
}

func newS3Sink(options map[string]any) (Sink, error) {
	var opts S3Options
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 transport needs endpoint and bucket")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}
	return &S3Sink{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *S3Sink) Name() string {
	return "s3"
}

func (s *S3Sink) key(day calendar.Date) string {
	name := day.String() + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *S3Sink) Send(ctx context.Context, day calendar.Date, samples parser.SampleSet) error {
	doc := struct {
		Day      string           `json:"day"`
		TotalKWh float64          `json:"total_kwh"`
		Readings []parser.Reading `json:"readings"`
	}{
		Day:      day.String(),
		TotalKWh: samples.Total(),
		Readings: samples.Readings,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.key(day), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", s.key(day), err)
	}
	return nil
}
