package narrative

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/protocol"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

// ProtocolSource is satisfied by the protocol service.
type ProtocolSource interface {
	Get(ctx context.Context, id uuid.UUID) (*protocol.Protocol, error)
}

// Metrics is satisfied by the telemetry provider.
type Metrics interface {
	NarrativeObserved(outcome string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) NarrativeObserved(string, time.Duration) {}

type Service struct {
	protocols    ProtocolSource
	generator    TextGenerator
	renderer     Renderer
	systemPrompt string
	metrics      Metrics
}

func NewService(protocols ProtocolSource, generator TextGenerator, renderer Renderer, systemPrompt string, metrics Metrics) *Service {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		protocols:    protocols,
		generator:    generator,
		renderer:     renderer,
		systemPrompt: systemPrompt,
		metrics:      metrics,
	}
}

// Result carries the rendered PDF's download metadata.
type Result struct {
	Filename string
}

// GenerateClinicalHistory writes the finished PDF to w.
func (s *Service) GenerateClinicalHistory(ctx context.Context, protocolID, visitID uuid.UUID, data VisitData, w io.Writer) (*Result, error) {
	start := time.Now()
	res, err := s.generate(ctx, protocolID, visitID, data, w)
	if err != nil {
		s.metrics.NarrativeObserved("error", time.Since(start))
		return nil, err
	}
	s.metrics.NarrativeObserved("ok", time.Since(start))
	return res, nil
}

func (s *Service) generate(ctx context.Context, protocolID, visitID uuid.UUID, data VisitData, w io.Writer) (*Result, error) {
	if len(data.Activities) == 0 {
		return nil, apperr.Invalid("visit data with activities is required")
	}

	p, err := s.protocols.Get(ctx, protocolID)
	if err != nil {
		return nil, err
	}
	var visit *protocol.Visit
	for i := range p.Visits {
		if p.Visits[i].ID == visitID {
			visit = &p.Visits[i]
			break
		}
	}
	if visit == nil {
		return nil, apperr.NotFound("visit not found")
	}

	userPrompt := BuildUserPrompt(p.Name, p.Code, visit.Name, data)
	body, err := s.generator.GenerateText(ctx, s.systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	visitName := data.VisitName
	if visitName == "" {
		visitName = visit.Name
	}
	doc := Document{
		ProtocolName: p.Name,
		ProtocolCode: p.Code,
		VisitName:    visitName,
		VisitDate:    data.Timestamp,
		Body:         body,
	}
	if err := s.renderer.Render(w, doc); err != nil {
		return nil, apperr.Internal(err, "render clinical history pdf")
	}
	return &Result{Filename: pdfFilename(p.Code, visitName)}, nil
}
