package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver ships pruned ledger segments to an S3 bucket as NDJSON
// objects, one per Prune call, keyed by tenant and cutoff time. This is
// the Backup/DR counterpart to the local archivePath file Prune always
// writes: the local file is the archive of record for a single host,
// this is the durable off-box copy. Grounded on
// core/pkg/artifacts/s3_store.go's S3Store (same client construction and
// optional custom-endpoint support for MinIO/LocalStack in tests),
// generalized from content-addressed blob storage to a per-tenant
// archive key since ledger segments are identified by tenant and cutoff
// rather than by hash.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3ArchiverConfig configures S3Archiver.
type S3ArchiverConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint, for MinIO/LocalStack
	Prefix   string // optional key prefix, e.g. "ledger-archive/"
}

// NewS3Archiver loads the default AWS config and constructs an S3Archiver.
func NewS3Archiver(ctx context.Context, cfg S3ArchiverConfig) (*S3Archiver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("ledger: load aws config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Archive uploads entries as one NDJSON object per call, keyed by tenant
// and the archive timestamp so repeated prunes never collide.
func (a *S3Archiver) Archive(ctx context.Context, tenantID string, entries []*contracts.LedgerEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("ledger: marshal archived entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	key := fmt.Sprintf("%s%s/%s.ndjson", a.prefix, tenantID, time.Now().UTC().Format("20060102T150405.000000000Z"))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("ledger: s3 put archive: %w", err)
	}
	return nil
}
