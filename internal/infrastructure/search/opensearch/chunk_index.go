package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/Opposition-Intelligence/internal/application/indexing"
	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// ChunkIndexConfig holds the keyword index settings.
type ChunkIndexConfig struct {
	Index         string `mapstructure:"index"`
	Shards        int    `mapstructure:"shards"`
	Replicas      int    `mapstructure:"replicas"`
	BulkBatchSize int    `mapstructure:"bulk_batch_size"`
	// Refresh is passed to bulk and delete requests: "true", "false" or
	// "wait_for".
	Refresh string `mapstructure:"refresh"`
}

func (c *ChunkIndexConfig) applyDefaults() {
	if c.Index == "" {
		c.Index = "case_chunks"
	}
	if c.Shards == 0 {
		c.Shards = 1
	}
	if c.BulkBatchSize == 0 {
		c.BulkBatchSize = 500
	}
	if c.Refresh == "" {
		c.Refresh = "wait_for"
	}
}

// chunkDoc is the stored document.
type chunkDoc struct {
	CaseReference   string `json:"case_reference"`
	ChunkSequenceID int    `json:"chunk_sequence_id"`
	SourceSection   string `json:"source_section"`
	PageNumber      int    `json:"page_number"`
	Text            string `json:"text"`
}

// ChunkIndexMapping is the mapping of the chunk index. Section labels are
// keywords so they can be filtered exactly; chunk text uses the english
// analyzer.
func ChunkIndexMapping(shards, replicas int) map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]interface{}{
			"dynamic": "strict",
			"properties": map[string]interface{}{
				"case_reference":    map[string]string{"type": "keyword"},
				"chunk_sequence_id": map[string]string{"type": "integer"},
				"source_section":    map[string]string{"type": "keyword"},
				"page_number":       map[string]string{"type": "integer"},
				"text":              map[string]string{"type": "text", "analyzer": "english"},
			},
		},
	}
}

// ChunkIndex is the full-text index of decision chunks.
type ChunkIndex struct {
	client *Client
	config ChunkIndexConfig
	logger logging.Logger
}

var (
	_ ingestion.KeywordIndex    = (*ChunkIndex)(nil)
	_ precedent.KeywordSearcher = (*ChunkIndex)(nil)
)

func NewChunkIndex(client *Client, cfg ChunkIndexConfig, logger logging.Logger) *ChunkIndex {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ChunkIndex{client: client, config: cfg, logger: logger}
}

// EnsureIndex creates the index when it is missing.
func (x *ChunkIndex) EnsureIndex(ctx context.Context) error {
	exists, err := x.indexExists(ctx)
	if err != nil || exists {
		return err
	}

	body, err := json.Marshal(ChunkIndexMapping(x.config.Shards, x.config.Replicas))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	resp, err := opensearchapi.IndicesCreateRequest{
		Index: x.config.Index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, x.client.GetClient())
	if err != nil {
		return transportError(err, "create index")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		detail := readBody(resp)
		if resp.StatusCode == 400 && strings.Contains(detail, "resource_already_exists_exception") {
			return nil
		}
		return statusError(resp.StatusCode, "create index", detail)
	}
	x.logger.Info("Index created", logging.String("index", x.config.Index))
	return nil
}

func (x *ChunkIndex) indexExists(ctx context.Context) (bool, error) {
	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{x.config.Index}}.Do(ctx, x.client.GetClient())
	if err != nil {
		return false, transportError(err, "check index existence")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, responseError(resp, "check index existence")
	}
}

// IndexChunks replaces the indexed chunks of caseRef. Documents are keyed by
// case reference and sequence id, so re-indexing overwrites them in place and
// leftovers from a longer earlier version are deleted afterwards.
func (x *ChunkIndex) IndexChunks(ctx context.Context, caseRef string, chunks []trademark.Chunk) error {
	for start := 0; start < len(chunks); start += x.config.BulkBatchSize {
		end := start + x.config.BulkBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := x.bulk(ctx, chunks[start:end]); err != nil {
			return err
		}
	}

	if err := x.deleteByQuery(ctx, staleChunksQuery(caseRef, len(chunks))); err != nil {
		return err
	}

	x.logger.Debug("Chunks indexed",
		logging.String("case_reference", caseRef),
		logging.Int("count", len(chunks)),
	)
	return nil
}

func (x *ChunkIndex) bulk(ctx context.Context, chunks []trademark.Chunk) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ch := range chunks {
		meta := map[string]map[string]string{
			"index": {"_index": x.config.Index, "_id": indexing.PrimaryKey(ch.CaseReference, ch.ChunkSequenceID)},
		}
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "encode bulk action")
		}
		if err := enc.Encode(chunkDoc{
			CaseReference:   ch.CaseReference,
			ChunkSequenceID: ch.ChunkSequenceID,
			SourceSection:   ch.SourceSection,
			PageNumber:      ch.PageNumber,
			Text:            ch.Text,
		}); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "encode chunk document")
		}
	}

	resp, err := opensearchapi.BulkRequest{
		Index:   x.config.Index,
		Body:    &buf,
		Refresh: x.config.Refresh,
	}.Do(ctx, x.client.GetClient())
	if err != nil {
		return transportError(err, "bulk index")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return responseError(resp, "bulk index")
	}

	var br bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "decode bulk response")
	}
	if !br.Errors {
		return nil
	}
	failed, transient, first := 0, true, ""
	for _, item := range br.Items {
		for _, r := range item {
			if r.Status < 300 {
				continue
			}
			failed++
			if r.Status != 429 && r.Status < 500 {
				transient = false
			}
			if first == "" && r.Error != nil {
				first = r.Error.Type + ": " + r.Error.Reason
			}
		}
	}
	if failed == 0 {
		return nil
	}
	code := errors.ErrCodeSearchEngineError
	if transient {
		code = errors.ErrCodeServiceUnavailable
	}
	return errors.Newf(code, "%d of %d chunk documents failed to index", failed, len(chunks)).WithDetail(first)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// DeleteCase removes every chunk of caseRef.
func (x *ChunkIndex) DeleteCase(ctx context.Context, caseRef string) error {
	return x.deleteByQuery(ctx, staleChunksQuery(caseRef, 0))
}

func staleChunksQuery(caseRef string, from int) map[string]interface{} {
	filter := []interface{}{
		map[string]interface{}{"term": map[string]string{"case_reference": caseRef}},
	}
	if from > 0 {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"chunk_sequence_id": map[string]int{"gte": from}},
		})
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": map[string]interface{}{"filter": filter}},
	}
}

func (x *ChunkIndex) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	body, err := json.Marshal(query)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query")
	}
	refresh := x.config.Refresh != "false"
	resp, err := opensearchapi.DeleteByQueryRequest{
		Index:     []string{x.config.Index},
		Body:      bytes.NewReader(body),
		Refresh:   &refresh,
		Conflicts: "proceed",
	}.Do(ctx, x.client.GetClient())
	if err != nil {
		return transportError(err, "delete by query")
	}
	defer resp.Body.Close()
	if resp.IsError() && resp.StatusCode != 404 {
		return responseError(resp, "delete by query")
	}
	return nil
}

// SearchChunks runs a full-text query over chunk text, optionally limited to
// one section label, and returns at most k hits best first.
func (x *ChunkIndex) SearchChunks(ctx context.Context, text, section string, k int) ([]precedent.KeywordHit, error) {
	if strings.TrimSpace(text) == "" || k <= 0 {
		return nil, nil
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{"match": map[string]interface{}{"text": map[string]string{"query": text}}},
		},
	}
	if section != "" {
		boolQuery["filter"] = []interface{}{
			map[string]interface{}{"term": map[string]string{"source_section": section}},
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"size":    k,
		"_source": []string{"case_reference", "chunk_sequence_id"},
		"query":   map[string]interface{}{"bool": boolQuery},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal search")
	}

	resp, err := opensearchapi.SearchRequest{
		Index: []string{x.config.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, x.client.GetClient())
	if err != nil {
		return nil, transportError(err, "search")
	}
	defer resp.Body.Close()
	if resp.StatusCode == 404 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, responseError(resp, "search")
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode search response")
	}
	hits := make([]precedent.KeywordHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, precedent.KeywordHit{
			CaseReference:   h.Source.CaseReference,
			ChunkSequenceID: h.Source.ChunkSequenceID,
			Score:           h.Score,
		})
	}
	return hits, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source chunkDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func transportError(err error, op string) error {
	return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "opensearch "+op+" failed")
}

// responseError maps 429 and 5xx to a transient code.
func responseError(resp *opensearchapi.Response, op string) error {
	return statusError(resp.StatusCode, op, readBody(resp))
}

func statusError(status int, op, detail string) error {
	code := errors.ErrCodeSearchEngineError
	if status == 429 || status >= 500 {
		code = errors.ErrCodeServiceUnavailable
	}
	return errors.Newf(code, "opensearch %s returned %d", op, status).WithDetail(detail)
}

func readBody(resp *opensearchapi.Response) string {
	if resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return string(b)
}
