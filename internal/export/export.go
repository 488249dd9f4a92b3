// Package export publishes daily analytics to an S3-compatible bucket
// (MinIO in the lab stack) as a CSV table plus a JSON summary.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"trino-federation-lab/internal/db"
	"trino-federation-lab/internal/federation"
)

const (
	csvObject     = "daily_analytics.csv"
	summaryObject = "summary.json"
)

// ObjectAPI is the subset of *s3.Client the exporter needs.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter writes report objects under Bucket/Prefix.
type Exporter struct {
	client ObjectAPI
	Bucket string
	Prefix string
}

// New wraps an existing client.
func New(client ObjectAPI, bucket, prefix string) (*Exporter, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Exporter{client: client, Bucket: bucket, Prefix: prefix}, nil
}

// NewFromConfig builds a path-style S3 client with static credentials, which
// is what MinIO expects.
func NewFromConfig(ctx context.Context, cfg db.S3Config) (*Exporter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return New(client, cfg.Bucket, cfg.Prefix)
}

// EnsureBucket creates the bucket when HeadBucket reports it missing.
func (e *Exporter) EnsureBucket(ctx context.Context) error {
	_, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.Bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", e.Bucket, err)
	}

	if _, err := e.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(e.Bucket)}); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", e.Bucket, err)
	}
	log.Info().Str("bucket", e.Bucket).Msg("bucket created")
	return nil
}

// Upload writes the CSV and the JSON summary and returns their keys.
func (e *Exporter) Upload(ctx context.Context, rows []federation.DailyAnalytics, summary federation.Summary) ([]string, error) {
	csvBody, err := EncodeCSV(rows)
	if err != nil {
		return nil, err
	}
	jsonBody, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	objects := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{csvObject, csvBody, "text/csv"},
		{summaryObject, jsonBody, "application/json"},
	}

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		key := path.Join(e.Prefix, o.name)
		_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(o.body),
			ContentType: aws.String(o.contentType),
		})
		if err != nil {
			return keys, fmt.Errorf("put %s: %w", key, err)
		}
		log.Info().Str("bucket", e.Bucket).Str("key", key).Int("bytes", len(o.body)).Msg("exported")
		keys = append(keys, key)
	}
	return keys, nil
}

// EncodeCSV renders rows with the same column names the Iceberg table uses.
func EncodeCSV(rows []federation.DailyAnalytics) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"dt", "revenue", "orders_cnt", "payments_cnt", "paid_amount", "payment_coverage"})
	for _, r := range rows {
		records = append(records, []string{
			r.Day.Format("2006-01-02"),
			r.Revenue.StringFixed(2),
			strconv.FormatInt(r.Orders, 10),
			strconv.FormatInt(r.Payments, 10),
			r.PaidAmount.StringFixed(2),
			strconv.FormatFloat(r.Coverage, 'f', 4, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
