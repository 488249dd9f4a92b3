package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trino-federation-lab/internal/federation"
)

type fakeS3 struct {
	headErr   error
	createErr error
	putErr    error
	created   []string
	objects   map[string]string
	types     map[string]string
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string]string{}
		f.types = map[string]string{}
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func sampleRows() []federation.DailyAnalytics {
	return []federation.DailyAnalytics{
		{
			Day:        time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC),
			Revenue:    decimal.RequireFromString("190.00"),
			Orders:     2,
			Payments:   1,
			PaidAmount: decimal.RequireFromString("130.00"),
			Coverage:   130.0 / 190.0,
		},
		{
			Day:        time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
			Revenue:    decimal.Zero,
			Payments:   1,
			PaidAmount: decimal.RequireFromString("99.99"),
		},
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, "reports", "")
	assert.Error(t, err)
	_, err = New(&fakeS3{}, "", "")
	assert.Error(t, err)
}

func TestEnsureBucket(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		f := &fakeS3{}
		e, err := New(f, "reports", "daily")
		require.NoError(t, err)
		require.NoError(t, e.EnsureBucket(context.Background()))
		assert.Empty(t, f.created)
	})

	t.Run("missing is created", func(t *testing.T) {
		f := &fakeS3{headErr: &types.NotFound{}}
		e, _ := New(f, "reports", "daily")
		require.NoError(t, e.EnsureBucket(context.Background()))
		assert.Equal(t, []string{"reports"}, f.created)
	})

	t.Run("race with another creator", func(t *testing.T) {
		f := &fakeS3{headErr: &types.NotFound{}, createErr: &types.BucketAlreadyOwnedByYou{}}
		e, _ := New(f, "reports", "daily")
		assert.NoError(t, e.EnsureBucket(context.Background()))
	})

	t.Run("head failure", func(t *testing.T) {
		f := &fakeS3{headErr: errors.New("access denied")}
		e, _ := New(f, "reports", "daily")
		assert.ErrorContains(t, e.EnsureBucket(context.Background()), "head bucket reports")
	})
}

func TestEncodeCSV(t *testing.T) {
	body, err := EncodeCSV(sampleRows())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, []string{
		"dt,revenue,orders_cnt,payments_cnt,paid_amount,payment_coverage",
		"2024-01-18,190.00,2,1,130.00,0.6842",
		"2024-01-20,0.00,0,1,99.99,0.0000",
	}, lines)
}

func TestUpload(t *testing.T) {
	f := &fakeS3{}
	e, err := New(f, "reports", "daily")
	require.NoError(t, err)

	rows := sampleRows()
	summary, err := federation.Summarize(rows)
	require.NoError(t, err)

	keys, err := e.Upload(context.Background(), rows, summary)
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/daily_analytics.csv", "daily/summary.json"}, keys)

	assert.Equal(t, "text/csv", f.types["reports/daily/daily_analytics.csv"])
	assert.Contains(t, f.objects["reports/daily/daily_analytics.csv"], "2024-01-18,190.00")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.objects["reports/daily/summary.json"]), &decoded))
	assert.Equal(t, float64(2), decoded["total_days"])
	assert.Equal(t, "2024-01-18", decoded["start"])
}

func TestUploadStopsOnPutError(t *testing.T) {
	f := &fakeS3{putErr: errors.New("slow down")}
	e, _ := New(f, "reports", "")

	keys, err := e.Upload(context.Background(), sampleRows(), federation.Summary{})
	assert.ErrorContains(t, err, "put daily_analytics.csv")
	assert.Empty(t, keys)
}
