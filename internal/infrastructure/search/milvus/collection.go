package milvus

import (
	"context"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// Field names of the chunk collection.
const (
	FieldPK        = "pk"
	FieldCaseRef   = "case_reference"
	FieldSeq       = "chunk_sequence_id"
	FieldSection   = "source_section"
	FieldEmbedding = "embedding"
)

// CollectionConfig holds collection and index settings.
type CollectionConfig struct {
	Name             string                  `mapstructure:"collection"`
	ShardsNum        int32                   `mapstructure:"shards_num"`
	HNSWM            int                     `mapstructure:"hnsw_m"`
	EfConstruction   int                     `mapstructure:"ef_construction"`
	SearchEf         int                     `mapstructure:"search_ef"`
	UpsertBatchSize  int                     `mapstructure:"upsert_batch_size"`
	// ConsistencyLevel of searches. The zero value is Strong.
	ConsistencyLevel entity.ConsistencyLevel `mapstructure:"-"`
}

func (c *CollectionConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "trademark_case_chunks"
	}
	if c.ShardsNum == 0 {
		c.ShardsNum = 1
	}
	if c.HNSWM == 0 {
		c.HNSWM = 16
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 200
	}
	if c.SearchEf == 0 {
		c.SearchEf = 64
	}
	if c.UpsertBatchSize == 0 {
		c.UpsertBatchSize = 500
	}
}

// ChunkSchema returns the schema of the chunk collection for dim-sized
// embeddings.
func ChunkSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Trademark decision chunk embeddings",
		Fields: []*entity.Field{
			{Name: FieldPK, DataType: entity.FieldTypeVarChar, PrimaryKey: true, AutoID: false, TypeParams: map[string]string{"max_length": "256"}},
			{Name: FieldCaseRef, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: FieldSeq, DataType: entity.FieldTypeInt64},
			{Name: FieldSection, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "256"}},
			{Name: FieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": strconv.Itoa(dim)}},
		},
	}
}

// CollectionManager provisions the chunk collection.
type CollectionManager struct {
	client *Client
	config CollectionConfig
	logger logging.Logger
}

func NewCollectionManager(client *Client, cfg CollectionConfig, logger logging.Logger) *CollectionManager {
	cfg.applyDefaults()
	return &CollectionManager{client: client, config: cfg, logger: logger}
}

// Name returns the managed collection name.
func (m *CollectionManager) Name() string { return m.config.Name }

// EnsureCollection creates the collection with an HNSW/L2 index when it is
// missing and loads it. An existing collection with another dimension is a
// configuration error. Losing a creation race to another process counts as
// success.
func (m *CollectionManager) EnsureCollection(ctx context.Context, dim int) error {
	mc := m.client.sdk()
	has, err := mc.HasCollection(ctx, m.config.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to check collection existence")
	}

	if has {
		if err := m.checkDim(ctx, dim); err != nil {
			return err
		}
	} else {
		err := mc.CreateCollection(ctx, ChunkSchema(m.config.Name, dim), m.config.ShardsNum)
		if err != nil {
			if again, herr := mc.HasCollection(ctx, m.config.Name); herr != nil || !again {
				return errors.Wrap(err, errors.ErrCodeIndexError, "failed to create collection")
			}
			if err := m.checkDim(ctx, dim); err != nil {
				return err
			}
		} else {
			m.logger.Info("Collection created", logging.String("name", m.config.Name), logging.Int("dim", dim))
		}

		idx, err := entity.NewIndexHNSW(entity.L2, m.config.HNSWM, m.config.EfConstruction)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigurationError, "invalid hnsw parameters")
		}
		if err := mc.CreateIndex(ctx, m.config.Name, FieldEmbedding, idx, false); err != nil && !alreadyExists(err) {
			return errors.Wrap(err, errors.ErrCodeIndexError, "failed to create index")
		}
	}

	if err := mc.LoadCollection(ctx, m.config.Name, false); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to load collection")
	}
	return nil
}

func (m *CollectionManager) checkDim(ctx context.Context, dim int) error {
	coll, err := m.client.sdk().DescribeCollection(ctx, m.config.Name)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to describe collection")
	}
	if coll.Schema == nil {
		return nil
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != FieldEmbedding {
			continue
		}
		if got := f.TypeParams["dim"]; got != "" && got != strconv.Itoa(dim) {
			return errors.Newf(errors.ErrCodeConfigurationError,
				"collection %s has dimension %s, want %d", m.config.Name, got, dim)
		}
	}
	return nil
}

// DropCollection removes the collection.
func (m *CollectionManager) DropCollection(ctx context.Context) error {
	if err := m.client.sdk().DropCollection(ctx, m.config.Name); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to drop collection")
	}
	m.logger.Warn("Collection dropped", logging.String("name", m.config.Name))
	return nil
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exist")
}
