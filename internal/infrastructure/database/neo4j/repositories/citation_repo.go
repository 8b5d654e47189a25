package repositories

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/application/precedent"
	driver "github.com/turtacn/Opposition-Intelligence/internal/infrastructure/database/neo4j"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
)

const (
	cypherCaseConstraint = `CREATE CONSTRAINT case_reference IF NOT EXISTS FOR (c:Case) REQUIRE c.reference IS UNIQUE`

	// Re-ingesting a case replaces its outgoing edges. Incoming edges belong
	// to the citing cases and are kept.
	cypherResetCitations = `
		MERGE (c:Case {reference: $ref})
		ON CREATE SET c.created_at = datetime()
		SET c.ingested = true, c.updated_at = datetime()
		WITH c
		OPTIONAL MATCH (c)-[old:CITES]->()
		DELETE old
	`
	cypherAddCitations = `
		MATCH (c:Case {reference: $ref})
		UNWIND $cited AS target
		MERGE (t:Case {reference: target})
		ON CREATE SET t.created_at = datetime()
		MERGE (c)-[:CITES]->(t)
	`
	cypherCitationCounts = `
		UNWIND $refs AS ref
		MATCH (c:Case {reference: ref})<-[:CITES]-(src:Case)
		RETURN ref, count(DISTINCT src) AS cited_by
	`
	cypherMostCited = `
		MATCH (c:Case)<-[:CITES]-(src:Case)
		RETURN c.reference AS ref, count(DISTINCT src) AS cited_by
		ORDER BY cited_by DESC, ref ASC
		LIMIT $limit
	`
	cypherCitedBy = `
		MATCH (c:Case {reference: $ref})<-[:CITES]-(src:Case)
		RETURN src.reference AS ref
		ORDER BY ref
	`
)

// CitedCase is a case with the number of distinct cases citing it.
type CitedCase struct {
	CaseReference string `json:"case_reference"`
	CitedBy       int    `json:"cited_by"`
}

// CitationRepo stores the (:Case)-[:CITES]->(:Case) graph.
type CitationRepo struct {
	driver driver.DriverInterface
	log    logging.Logger
}

var (
	_ ingestion.CitationGraph   = (*CitationRepo)(nil)
	_ precedent.CitationCounter = (*CitationRepo)(nil)
)

func NewCitationRepo(d driver.DriverInterface, log logging.Logger) *CitationRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &CitationRepo{driver: d, log: log}
}

// EnsureSchema creates the uniqueness constraint on case references.
func (r *CitationRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherCaseConstraint, nil)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// RecordCitations replaces the outgoing citations of caseRef. Blank,
// duplicate and self references are dropped.
func (r *CitationRepo) RecordCitations(ctx context.Context, caseRef string, cited []string) error {
	targets := normalizeRefs(caseRef, cited)
	params := map[string]any{"ref": caseRef, "cited": targets}

	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherResetCitations, params)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, nil
		}
		res, err = tx.Run(ctx, cypherAddCitations, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	if err != nil {
		return err
	}

	r.log.Debug("Citations recorded",
		logging.String("case_reference", caseRef),
		logging.Int("cited", len(targets)),
	)
	return nil
}

// CitationCounts returns how many distinct cases cite each of refs. Refs
// nobody cites map to 0.
func (r *CitationRepo) CitationCounts(ctx context.Context, refs []string) (map[string]int, error) {
	counts := make(map[string]int, len(refs))
	for _, ref := range refs {
		counts[ref] = 0
	}
	if len(refs) == 0 {
		return counts, nil
	}

	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherCitationCounts, map[string]any{"refs": refs})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, toCitedCase)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range out.([]CitedCase) {
		counts[c.CaseReference] = c.CitedBy
	}
	return counts, nil
}

// MostCited returns the limit most cited cases.
func (r *CitationRepo) MostCited(ctx context.Context, limit int) ([]CitedCase, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherMostCited, map[string]any{"limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, toCitedCase)
	})
	if err != nil {
		return nil, err
	}
	return out.([]CitedCase), nil
}

// CitedBy lists the cases citing caseRef.
func (r *CitationRepo) CitedBy(ctx context.Context, caseRef string) ([]string, error) {
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherCitedBy, map[string]any{"ref": caseRef})
		if err != nil {
			return nil, err
		}
		return driver.CollectRecords(ctx, res, func(rec *neo4j.Record) (string, error) {
			ref, _, err := neo4j.GetRecordValue[string](rec, "ref")
			return ref, err
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

func toCitedCase(rec *neo4j.Record) (CitedCase, error) {
	ref, _, err := neo4j.GetRecordValue[string](rec, "ref")
	if err != nil {
		return CitedCase{}, err
	}
	n, _, err := neo4j.GetRecordValue[int64](rec, "cited_by")
	if err != nil {
		return CitedCase{}, err
	}
	return CitedCase{CaseReference: ref, CitedBy: int(n)}, nil
}

func normalizeRefs(self string, refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || ref == self {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
