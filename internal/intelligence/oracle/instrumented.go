package oracle

import (
	"context"
	"time"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

// Metrics receives one observation per oracle call. status is "ok" or the
// error kind.
type Metrics interface {
	ObserveOracleCall(op, status string, d time.Duration)
}

// Instrumented decorates an Oracle with call metrics and debug logging.
type Instrumented struct {
	next    Oracle
	metrics Metrics
	logger  logging.Logger
}

var _ Oracle = (*Instrumented)(nil)

// Instrument wraps next. metrics may be nil.
func Instrument(next Oracle, metrics Metrics, logger logging.Logger) *Instrumented {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Instrumented{next: next, metrics: metrics, logger: logger}
}

func (o *Instrumented) observe(op string, start time.Time, errp *error) {
	status := "ok"
	if err := *errp; err != nil {
		status = string(errors.KindOf(err))
		o.logger.Debug("oracle call failed", logging.String("op", op), logging.String("kind", status), logging.Err(err))
	}
	if o.metrics != nil {
		o.metrics.ObserveOracleCall(op, status, time.Since(start))
	}
}

func (o *Instrumented) JudgeConceptual(ctx context.Context, req ConceptualRequest) (_ *ConceptualJudgement, err error) {
	defer o.observe("judge_conceptual", time.Now(), &err)
	return o.next.JudgeConceptual(ctx, req)
}

func (o *Instrumented) JudgeOverall(ctx context.Context, req OverallRequest) (_ *OverallJudgement, err error) {
	defer o.observe("judge_overall", time.Now(), &err)
	return o.next.JudgeOverall(ctx, req)
}

func (o *Instrumented) JudgeGoodsServices(ctx context.Context, req GsRequest) (_ *GsJudgement, err error) {
	defer o.observe("judge_goods_services", time.Now(), &err)
	return o.next.JudgeGoodsServices(ctx, req)
}

func (o *Instrumented) SynthesizeOutcome(ctx context.Context, req OutcomeRequest) (_ *OutcomeJudgement, err error) {
	defer o.observe("synthesize_outcome", time.Now(), &err)
	return o.next.SynthesizeOutcome(ctx, req)
}

func (o *Instrumented) ClassifySections(ctx context.Context, pages []trademark.Page) (_ []trademark.Section, err error) {
	defer o.observe("classify_sections", time.Now(), &err)
	return o.next.ClassifySections(ctx, pages)
}

func (o *Instrumented) ExtractCase(ctx context.Context, pages []trademark.Page) (_ *trademark.CaseExtraction, err error) {
	defer o.observe("extract_case", time.Now(), &err)
	return o.next.ExtractCase(ctx, pages)
}

func (o *Instrumented) Embed(ctx context.Context, text string) (_ trademark.EmbeddingVector, err error) {
	defer o.observe("embed", time.Now(), &err)
	return o.next.Embed(ctx, text)
}
