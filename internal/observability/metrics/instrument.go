package metrics

import (
	"context"
	"time"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
	"github.com/kirillkom/compliance-rag/internal/core/ports"
)

// InstrumentedAnswerer records answer metrics around another Answerer.
type InstrumentedAnswerer struct {
	next    ports.Answerer
	metrics *HTTPServerMetrics
	service string
}

func NewInstrumentedAnswerer(next ports.Answerer, m *HTTPServerMetrics, service string) *InstrumentedAnswerer {
	return &InstrumentedAnswerer{next: next, metrics: m, service: service}
}

func (a *InstrumentedAnswerer) Answer(ctx context.Context, namespace, question, template string) (*domain.Answer, error) {
	start := time.Now()
	answer, err := a.next.Answer(ctx, namespace, question, template)

	var (
		sources  int
		verdicts []domain.ComplianceVerdict
	)
	if answer != nil {
		sources = len(answer.Sources)
		verdicts = answer.Verdicts
		template = answer.Template
	}
	a.metrics.RecordAnswer(a.service, template, sources, verdicts, time.Since(start), err)
	return answer, err
}

// InstrumentedProcessor records build metrics around a BuildProcessor.
type InstrumentedProcessor struct {
	next    ports.BuildProcessor
	reader  ports.BuildReader
	metrics *WorkerMetrics
	service string
	now     func() time.Time
}

// NewInstrumentedProcessor wraps next. reader is optional and is used to
// observe queue lag and indexed chunk counts.
func NewInstrumentedProcessor(next ports.BuildProcessor, reader ports.BuildReader, m *WorkerMetrics, service string) *InstrumentedProcessor {
	return &InstrumentedProcessor{next: next, reader: reader, metrics: m, service: service, now: time.Now}
}

func (p *InstrumentedProcessor) ProcessByID(ctx context.Context, buildID string) error {
	start := p.now()
	if p.reader != nil {
		if record, err := p.reader.GetByID(ctx, buildID); err == nil && record.Status == domain.BuildQueued {
			p.metrics.ObserveQueueLag(p.service, start.Sub(record.CreatedAt))
		}
	}

	p.metrics.StartBuild()
	err := p.next.ProcessByID(ctx, buildID)
	p.metrics.FinishBuild(p.service, p.now().Sub(start), err)

	if err == nil && p.reader != nil {
		if record, getErr := p.reader.GetByID(ctx, buildID); getErr == nil {
			p.metrics.AddIndexedChunks(p.service, record.ChunkCount)
		}
	}
	return err
}
