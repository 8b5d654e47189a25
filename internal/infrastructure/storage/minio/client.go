package minio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// MinIOAPI is the subset of *minio.Client used here.
type MinIOAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	SetBucketNotification(ctx context.Context, bucketName string, config notification.Configuration) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// BucketConfig names the buckets of the ingestion pipeline.
type BucketConfig struct {
	Raw       string `mapstructure:"raw"`
	Processed string `mapstructure:"processed"`
}

// NotificationConfig routes object-created events of the raw bucket to a
// notification target configured on the server, usually the Kafka target.
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	QueueID string `mapstructure:"queue_id"`
	Target  string `mapstructure:"target"`
	Region  string `mapstructure:"region"`
	Suffix  string `mapstructure:"suffix"`
}

// ARN returns the target ARN, e.g. arn:minio:sqs::PRIMARY:kafka.
func (n NotificationConfig) ARN() notification.Arn {
	return notification.NewArn("minio", "sqs", n.Region, n.QueueID, n.Target)
}

type MinIOConfig struct {
	Endpoint        string             `mapstructure:"endpoint"`
	AccessKeyID     string             `mapstructure:"access_key_id"`
	SecretAccessKey string             `mapstructure:"secret_access_key"`
	UseSSL          bool               `mapstructure:"use_ssl"`
	Region          string             `mapstructure:"region"`
	Buckets         BucketConfig       `mapstructure:"buckets"`
	PartSize        uint64             `mapstructure:"part_size"`
	MaxObjectSize   int64              `mapstructure:"max_object_size"`
	ProcessedExpiry int                `mapstructure:"processed_expiry_days"`
	Notification    NotificationConfig `mapstructure:"notification"`
}

type MinIOClient struct {
	client MinIOAPI
	config *MinIOConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewMinIOClient connects, creates missing buckets and installs the optional
// lifecycle and notification rules.
func NewMinIOClient(cfg *MinIOConfig, log logging.Logger) (*MinIOClient, error) {
	applyDefaults(cfg)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigurationError, "failed to create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.ListBuckets(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}

	mClient := newMinIOClientWith(client, cfg, log)
	if err := mClient.Setup(ctx); err != nil {
		return nil, err
	}

	log.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return mClient, nil
}

func newMinIOClientWith(api MinIOAPI, cfg *MinIOConfig, log logging.Logger) *MinIOClient {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(cfg)
	return &MinIOClient{client: api, config: cfg, logger: log}
}

func applyDefaults(cfg *MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = 16 * 1024 * 1024
	}
	if cfg.MaxObjectSize == 0 {
		cfg.MaxObjectSize = 64 * 1024 * 1024
	}
	if cfg.Buckets.Raw == "" {
		cfg.Buckets.Raw = "raw"
	}
	if cfg.Buckets.Processed == "" {
		cfg.Buckets.Processed = "processed"
	}
	if cfg.Notification.QueueID == "" {
		cfg.Notification.QueueID = "PRIMARY"
	}
	if cfg.Notification.Target == "" {
		cfg.Notification.Target = "kafka"
	}
	if cfg.Notification.Suffix == "" {
		cfg.Notification.Suffix = ".pdf"
	}
}

// Setup runs EnsureBuckets, SetupLifecycleRules and SetupNotification.
func (c *MinIOClient) Setup(ctx context.Context) error {
	if err := c.EnsureBuckets(ctx); err != nil {
		return err
	}
	c.SetupLifecycleRules(ctx)
	return c.SetupNotification(ctx)
}

func (c *MinIOClient) buckets() []string {
	return []string{c.config.Buckets.Raw, c.config.Buckets.Processed}
}

func (c *MinIOClient) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range c.buckets() {
		exists, err := c.client.BucketExists(ctx, bucket)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageError, "failed to check bucket existence")
		}
		if exists {
			continue
		}
		if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
			// another replica may have created it first
			if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
				continue
			}
			return errors.Wrap(err, errors.ErrCodeStorageError, fmt.Sprintf("failed to create bucket %s", bucket))
		}
		c.logger.Info("Created bucket", logging.String("bucket", bucket))
	}
	return nil
}

// SetupLifecycleRules expires processed artifacts when ProcessedExpiry is
// set. Failures are logged only.
func (c *MinIOClient) SetupLifecycleRules(ctx context.Context) {
	if c.config.ProcessedExpiry <= 0 {
		return
	}
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     "processed-expiry",
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(c.config.ProcessedExpiry),
			},
		},
	}
	if err := c.client.SetBucketLifecycle(ctx, c.config.Buckets.Processed, cfg); err != nil {
		c.logger.Warn("Failed to set lifecycle for processed bucket", logging.Err(err))
	}
}

// SetupNotification subscribes the raw bucket's object-created events for
// the configured suffix to the notification target.
func (c *MinIOClient) SetupNotification(ctx context.Context) error {
	n := c.config.Notification
	if !n.Enabled {
		return nil
	}
	queue := notification.NewConfig(n.ARN())
	queue.AddEvents(notification.ObjectCreatedAll)
	queue.AddFilterSuffix(n.Suffix)

	var cfg notification.Configuration
	cfg.AddQueue(queue)
	if err := c.client.SetBucketNotification(ctx, c.config.Buckets.Raw, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigurationError, "failed to set bucket notification")
	}
	c.logger.Info("Bucket notification configured",
		logging.String("bucket", c.config.Buckets.Raw),
		logging.String("arn", n.ARN().String()),
	)
	return nil
}

func (c *MinIOClient) GetClient() MinIOAPI {
	return c.client
}

// Buckets returns the configured bucket names.
func (c *MinIOClient) Buckets() BucketConfig {
	return c.config.Buckets
}

var ErrMinIOClientClosed = errors.New(errors.ErrCodeStorageError, "minio client is closed")

func (c *MinIOClient) api() (MinIOAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrMinIOClientClosed
	}
	return c.client, nil
}

func (c *MinIOClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type HealthStatus struct {
	Healthy        bool
	Latency        time.Duration
	BucketStatuses map[string]bool
	Error          string
}

// HealthCheck verifies that the server answers and that every bucket exists.
func (c *MinIOClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	api, err := c.api()
	if err != nil {
		return &HealthStatus{Error: err.Error()}, err
	}

	start := time.Now()
	_, err = api.ListBuckets(ctx)
	status := &HealthStatus{
		Healthy:        err == nil,
		Latency:        time.Since(start),
		BucketStatuses: make(map[string]bool),
	}
	if err != nil {
		status.Error = err.Error()
		return status, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio health check failed")
	}

	for _, b := range c.buckets() {
		exists, _ := api.BucketExists(ctx, b)
		status.BucketStatuses[b] = exists
		if !exists {
			status.Healthy = false
			status.Error = fmt.Sprintf("bucket %s missing", b)
		}
	}
	return status, nil
}
