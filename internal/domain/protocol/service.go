package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

// BasicTemplateSource supplies the activities every new visit starts with.
type BasicTemplateSource interface {
	BasicActivities(ctx context.Context) ([]forms.Activity, error)
}

// TemplateLibrary resolves template activity sets for explicit imports.
type TemplateLibrary interface {
	TemplateActivities(ctx context.Context, id uuid.UUID) ([]forms.Activity, error)
	ActivityTemplateActivities(ctx context.Context, id uuid.UUID) ([]forms.Activity, error)
}

// Metrics receives domain-level counters. telemetry.Provider satisfies it.
type Metrics interface {
	MergeObserved(source, result string)
	ConflictObserved()
}

type noopMetrics struct{}

func (noopMetrics) MergeObserved(string, string) {}
func (noopMetrics) ConflictObserved()            {}

// OrderUpdate is one {id, order} pair in a reorder request.
type OrderUpdate struct {
	ID    uuid.UUID `json:"id"`
	Order int       `json:"order"`
}

const (
	maxMutateAttempts = 3
	conflictBackoff   = 100 * time.Millisecond
)

// errNoChange tells mutate the aggregate is unchanged and must not be
// written. The caller still gets the loaded aggregate back.
var errNoChange = errors.New("aggregate unchanged")

type Service struct {
	repo    Repository
	basic   BasicTemplateSource
	library TemplateLibrary
	metrics Metrics
}

func NewService(repo Repository, basic BasicTemplateSource, library TemplateLibrary, metrics Metrics) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{repo: repo, basic: basic, library: library, metrics: metrics}
}

// mutate loads the aggregate, applies fn, and writes it back under the
// version read. On a version conflict it reloads and retries with a growing
// backoff; any other error aborts immediately.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*Protocol) error) (*Protocol, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			if errors.Is(err, errNoChange) {
				return p, nil
			}
			return nil, err
		}
		err = s.repo.Update(ctx, p)
		if err == nil {
			return p, nil
		}
		if !apperr.IsConflict(err) || attempt == maxMutateAttempts {
			return nil, err
		}
		s.metrics.ConflictObserved()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
}

// -- Protocol CRUD --

func (s *Service) Create(ctx context.Context, p *Protocol) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	for i := range p.Visits {
		if p.Visits[i].ID == uuid.Nil {
			p.Visits[i].ID = uuid.New()
		}
	}
	for i := range p.ClinicalRules {
		if p.ClinicalRules[i].ID == uuid.Nil {
			p.ClinicalRules[i].ID = uuid.New()
		}
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Protocol, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Protocol, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Update changes protocol metadata. Visits and rules are managed through
// their own operations and are left untouched here.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in *Protocol) (*Protocol, error) {
	return s.mutate(ctx, id, func(p *Protocol) error {
		p.Name = in.Name
		p.Code = in.Code
		p.Sponsor = in.Sponsor
		p.Description = in.Description
		if in.Status != "" {
			p.Status = in.Status
		}
		p.Normalize()
		return p.Validate()
	})
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// -- Visits --

// AddVisit appends a visit and seeds it with the basic template's activities,
// all in a single aggregate write.
func (s *Service) AddVisit(ctx context.Context, protocolID uuid.UUID, v Visit) (*Protocol, error) {
	basics, err := s.basic.BasicActivities(ctx)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.Type == "" {
			v.Type = VisitPresencial
		}
		if v.Order == 0 {
			v.Order = maxVisitOrder(p.Visits) + 1
		}
		if v.Activities == nil {
			v.Activities = []forms.Activity{}
		}
		if err := v.Validate(); err != nil {
			return err
		}
		merged := forms.Merge(v.Activities, basics)
		v.Activities = append(v.Activities, merged...)
		s.metrics.MergeObserved("basic", mergeResult(merged))
		p.Visits = append(p.Visits, v)
		return nil
	})
}

func (s *Service) UpdateVisit(ctx context.Context, protocolID, visitID uuid.UUID, in Visit) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		v.Name = in.Name
		if in.Type != "" {
			v.Type = in.Type
		}
		if in.Order != 0 {
			v.Order = in.Order
		}
		return v.Validate()
	})
}

func (s *Service) DeleteVisit(ctx context.Context, protocolID, visitID uuid.UUID) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		kept := p.Visits[:0]
		found := false
		for _, v := range p.Visits {
			if v.ID == visitID {
				found = true
				continue
			}
			kept = append(kept, v)
		}
		if !found {
			return apperr.NotFound("visit not found")
		}
		p.Visits = kept
		return nil
	})
}

// ReorderVisits applies the given {id, order} pairs. Ids not present in the
// protocol are skipped.
func (s *Service) ReorderVisits(ctx context.Context, protocolID uuid.UUID, updates []OrderUpdate) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		orders := make(map[uuid.UUID]int, len(updates))
		for _, u := range updates {
			orders[u.ID] = u.Order
		}
		for i := range p.Visits {
			if o, ok := orders[p.Visits[i].ID]; ok {
				p.Visits[i].Order = o
			}
		}
		return nil
	})
}

// -- Visit activities --

func (s *Service) AddActivity(ctx context.Context, protocolID, visitID uuid.UUID, act forms.Activity) (*Protocol, error) {
	if err := act.Validate(); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		if act.ID == uuid.Nil {
			act.ID = uuid.New()
		}
		if act.Order == 0 {
			act.Order = forms.MaxOrder(v.Activities) + 1
		}
		v.Activities = append(v.Activities, act)
		return nil
	})
}

func (s *Service) UpdateActivity(ctx context.Context, protocolID, visitID, activityID uuid.UUID, act forms.Activity) (*Protocol, error) {
	if err := act.Validate(); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		for i := range v.Activities {
			if v.Activities[i].ID == activityID {
				act.ID = activityID
				v.Activities[i] = act
				return nil
			}
		}
		return apperr.NotFound("activity not found in visit")
	})
}

func (s *Service) DeleteActivity(ctx context.Context, protocolID, visitID, activityID uuid.UUID) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		kept := v.Activities[:0]
		found := false
		for _, a := range v.Activities {
			if a.ID == activityID {
				found = true
				continue
			}
			kept = append(kept, a)
		}
		if !found {
			return apperr.NotFound("activity not found in visit")
		}
		v.Activities = kept
		return nil
	})
}

func (s *Service) ReorderActivities(ctx context.Context, protocolID, visitID uuid.UUID, updates []OrderUpdate) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		orders := make(map[uuid.UUID]int, len(updates))
		for _, u := range updates {
			orders[u.ID] = u.Order
		}
		for i := range v.Activities {
			if o, ok := orders[v.Activities[i].ID]; ok {
				v.Activities[i].Order = o
			}
		}
		return nil
	})
}

// -- Template imports --

// ImportTemplate merges a template's activities into a visit. Activities
// whose name (case-insensitive) already exists in the visit are skipped; a
// merge that adds nothing writes nothing.
func (s *Service) ImportTemplate(ctx context.Context, protocolID, visitID, templateID uuid.UUID) (*Protocol, error) {
	src, err := s.library.TemplateActivities(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.importActivities(ctx, protocolID, visitID, src, "template")
}

// ApplyActivityTemplate is ImportTemplate for the activity-template library.
func (s *Service) ApplyActivityTemplate(ctx context.Context, protocolID, visitID, templateID uuid.UUID) (*Protocol, error) {
	src, err := s.library.ActivityTemplateActivities(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.importActivities(ctx, protocolID, visitID, src, "activity_template")
}

func (s *Service) importActivities(ctx context.Context, protocolID, visitID uuid.UUID, src []forms.Activity, source string) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		v := p.findVisit(visitID)
		if v == nil {
			return apperr.NotFound("visit not found")
		}
		merged := forms.Merge(v.Activities, src)
		s.metrics.MergeObserved(source, mergeResult(merged))
		if len(merged) == 0 {
			return errNoChange
		}
		v.Activities = append(v.Activities, merged...)
		return nil
	})
}

func mergeResult(added []forms.Activity) string {
	if len(added) == 0 {
		return "noop"
	}
	return "added"
}

// -- Clinical rules --

func (s *Service) AddRule(ctx context.Context, protocolID uuid.UUID, rule ClinicalRule) (*Protocol, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		p.ClinicalRules = append(p.ClinicalRules, rule)
		return nil
	})
}

func (s *Service) UpdateRule(ctx context.Context, protocolID, ruleID uuid.UUID, rule ClinicalRule) (*Protocol, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		for i := range p.ClinicalRules {
			if p.ClinicalRules[i].ID == ruleID {
				rule.ID = ruleID
				p.ClinicalRules[i] = rule
				return nil
			}
		}
		return apperr.NotFound("clinical rule not found")
	})
}

func (s *Service) DeleteRule(ctx context.Context, protocolID, ruleID uuid.UUID) (*Protocol, error) {
	return s.mutate(ctx, protocolID, func(p *Protocol) error {
		kept := p.ClinicalRules[:0]
		found := false
		for _, r := range p.ClinicalRules {
			if r.ID == ruleID {
				found = true
				continue
			}
			kept = append(kept, r)
		}
		if !found {
			return apperr.NotFound("clinical rule not found")
		}
		p.ClinicalRules = kept
		return nil
	})
}
