// Package s3bucket archives gdprvault audit events to Amazon S3.
//
// Every event becomes one JSON object, so the archive can be made immutable with
// S3 Object Lock and queried with Athena without a compaction step.
package s3bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/hengadev/gdprvault"
)

// AWSS3Uploader defines the method used to upload to S3
type AWSS3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the audit archive.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key. Defaults to "gdprvault/audit".
	Prefix string
	// Region and AWSConfig follow the same rules as the other AWS providers.
	Region    string
	AWSConfig *aws.Config
}

// AuditArchive implements gdprvault.AuditSink by writing each event to S3.
type AuditArchive struct {
	client AWSS3Uploader
	bucket string
	prefix string
}

// New creates an AuditArchive using the default AWS credential chain.
//
// Usage:
//
//	archive, err := s3bucket.New(ctx, s3bucket.Config{Bucket: "clinic-audit"})
//	svc, err := gdprvault.New(ctx, cfg, secrets, gdprvault.WithAuditSink(archive))
func New(ctx context.Context, cfg Config) (*AuditArchive, error) {
	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		opts := []func(*config.LoadOptions) error{}
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", gdprvault.ErrInvalidConfiguration, err)
		}
	}
	return NewAuditArchive(s3.NewFromConfig(awsConfig), cfg.Bucket, cfg.Prefix)
}

// NewAuditArchive wraps an existing client.
func NewAuditArchive(client AWSS3Uploader, bucket, prefix string) (*AuditArchive, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("%w: bucket is required", gdprvault.ErrInvalidConfiguration)
	}
	if prefix == "" {
		prefix = "gdprvault/audit"
	}
	return &AuditArchive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectKey returns where an event is stored:
// {prefix}/clinic={id}/{yyyy}/{mm}/{dd}/{event id}.json
func (a *AuditArchive) ObjectKey(e gdprvault.AuditEvent) string {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := e.Timestamp.UTC()
	return path.Join(a.prefix,
		fmt.Sprintf("clinic=%d", e.ClinicID),
		ts.Format("2006"), ts.Format("01"), ts.Format("02"),
		id+".json")
}

// Record uploads e. The audit recorder logs a failure here without failing the
// operation that produced the event.
func (a *AuditArchive) Record(ctx context.Context, e gdprvault.AuditEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	key := a.ObjectKey(e)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 strings.NewReader(string(body)),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit event to s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
