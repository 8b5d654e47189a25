package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
)

// ingestOptions are the flags of the ingest command.
type ingestOptions struct {
	bucket string
	key    string
	memory bool
}

// NewIngestCmd ingests one local document.
func NewIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Upload and ingest one decided case",
		Long: "Uploads the file to the raw bucket and runs the ingestion pipeline on it.\n" +
			"With --memory nothing leaves the process: object storage, the case store,\n" +
			"the vector index and supersession are in-memory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
			defer cancel()

			app, err := NewApp(ctx, cc.Config, cc.Logger, appOptions{Memory: opts.memory})
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := ingestFile(ctx, app, args[0], opts)
			if err != nil {
				return err
			}
			return PrintResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "target bucket (default: minio.buckets.raw)")
	cmd.Flags().StringVar(&opts.key, "key", "", "object key (default: the file name)")
	cmd.Flags().BoolVar(&opts.memory, "memory", false, "run against in-memory stores")
	return cmd
}

func ingestFile(ctx context.Context, app *App, path string, opts *ingestOptions) (*ingestion.IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	bucket := opts.bucket
	if bucket == "" {
		bucket = app.Config.MinIO.Buckets.Raw
	}
	key := opts.key
	if key == "" {
		key = filepath.Base(path)
	}

	orch, err := app.Ingester(ctx)
	if err != nil {
		return nil, err
	}
	if err := app.Upload(ctx, bucket, key, data); err != nil {
		return nil, err
	}
	app.Logger.Info("Document uploaded",
		logging.String("bucket", bucket), logging.String("key", key), logging.Int("bytes", len(data)))

	return orch.Ingest(ctx, ingestion.IngestRequest{Bucket: bucket, ObjectKey: key})
}
