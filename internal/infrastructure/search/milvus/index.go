package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// VectorIndex stores chunk embeddings in one Milvus collection keyed by
// "case_ref#seq".
type VectorIndex struct {
	client *Client
	coll   *CollectionManager
	logger logging.Logger
}

var _ indexing.VectorIndex = (*VectorIndex)(nil)

func NewVectorIndex(client *Client, cfg CollectionConfig, logger logging.Logger) *VectorIndex {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &VectorIndex{
		client: client,
		coll:   NewCollectionManager(client, cfg, logger),
		logger: logger,
	}
}

func (v *VectorIndex) Ensure(ctx context.Context, dim int) error {
	return v.coll.EnsureCollection(ctx, dim)
}

// Upsert writes entries in batches; batches go out concurrently.
func (v *VectorIndex) Upsert(ctx context.Context, entries []indexing.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	size := v.coll.config.UpsertBatchSize

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		g.Go(func() error {
			return v.upsertBatch(ctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	v.logger.Debug("Upserted vectors", logging.String("collection", v.coll.Name()), logging.Int("count", len(entries)))
	return nil
}

func (v *VectorIndex) upsertBatch(ctx context.Context, batch []indexing.Entry) error {
	n := len(batch)
	pks := make([]string, n)
	refs := make([]string, n)
	seqs := make([]int64, n)
	sections := make([]string, n)
	vecs := make([][]float32, n)
	for i, e := range batch {
		pks[i] = indexing.PrimaryKey(e.CaseReference, e.ChunkSequenceID)
		refs[i] = e.CaseReference
		seqs[i] = int64(e.ChunkSequenceID)
		sections[i] = e.Section
		vecs[i] = e.Vector
	}
	dim := len(vecs[0])

	_, err := v.client.sdk().Upsert(ctx, v.coll.Name(), "",
		entity.NewColumnVarChar(FieldPK, pks),
		entity.NewColumnVarChar(FieldCaseRef, refs),
		entity.NewColumnInt64(FieldSeq, seqs),
		entity.NewColumnVarChar(FieldSection, sections),
		entity.NewColumnFloatVector(FieldEmbedding, dim, vecs),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to upsert vectors")
	}
	return nil
}

func (v *VectorIndex) DeleteCase(ctx context.Context, caseRef string) error {
	expr := fmt.Sprintf("%s == %s", FieldCaseRef, strconv.Quote(caseRef))
	if err := v.client.sdk().Delete(ctx, v.coll.Name(), "", expr); err != nil {
		return errors.Wrap(err, errors.ErrCodeIndexError, "failed to delete case vectors")
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, vec trademark.EmbeddingVector, k int, opts indexing.SearchOptions) ([]indexing.Neighbor, error) {
	sp, err := entity.NewIndexHNSWSearchParam(maxInt(v.coll.config.SearchEf, k))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigurationError, "invalid search parameters")
	}

	var expr string
	if opts.Section != "" {
		expr = fmt.Sprintf("%s == %s", FieldSection, strconv.Quote(opts.Section))
	}

	results, err := v.client.sdk().Search(ctx, v.coll.Name(), nil, expr,
		[]string{FieldCaseRef, FieldSeq, FieldSection},
		[]entity.Vector{entity.FloatVector(vec)},
		FieldEmbedding, entity.L2, k, sp,
		client.WithSearchQueryConsistencyLevel(v.coll.config.ConsistencyLevel),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIndexError, "vector search failed")
	}
	if len(results) == 0 {
		return nil, nil
	}
	return toNeighbors(results[0])
}

func toNeighbors(res client.SearchResult) ([]indexing.Neighbor, error) {
	if res.Err != nil {
		return nil, errors.Wrap(res.Err, errors.ErrCodeIndexError, "vector search failed")
	}
	var refCol, seqCol, secCol entity.Column
	for _, col := range res.Fields {
		switch col.Name() {
		case FieldCaseRef:
			refCol = col
		case FieldSeq:
			seqCol = col
		case FieldSection:
			secCol = col
		}
	}
	if refCol == nil || seqCol == nil {
		return nil, errors.New(errors.ErrCodeIndexError, "search result missing output fields")
	}

	out := make([]indexing.Neighbor, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		ref, err := refCol.GetAsString(i)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexError, "decode search hit")
		}
		seq, err := seqCol.GetAsInt64(i)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeIndexError, "decode search hit")
		}
		n := indexing.Neighbor{
			CaseReference:   ref,
			ChunkSequenceID: int(seq),
			Distance:        float64(res.Scores[i]),
		}
		if secCol != nil {
			n.Section, _ = secCol.GetAsString(i)
		}
		out = append(out, n)
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
