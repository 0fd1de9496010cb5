// Package protocol holds the study protocol aggregate: a protocol owns its
// visits, each visit owns its activities, and the whole aggregate is written
// as one versioned row.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

// Protocol statuses. Transitions are free.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Visit types.
const (
	VisitPresencial   = "presencial"
	VisitTelefonica   = "telefonica"
	VisitNoProgramada = "no_programada"
)

// Clinical rule conditions.
const (
	RuleRange     = "range"
	RuleMin       = "min"
	RuleMax       = "max"
	RuleEquals    = "equals"
	RuleNotEquals = "not_equals"
)

// Protocol is the aggregate root. Version guards concurrent writers: every
// persisted update increments it, and a stale writer gets a conflict.
type Protocol struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Code          string         `json:"code"`
	Sponsor       string         `json:"sponsor,omitempty"`
	Description   string         `json:"description,omitempty"`
	Status        string         `json:"status"`
	Visits        []Visit        `json:"visits"`
	ClinicalRules []ClinicalRule `json:"clinicalRules"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type Visit struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	Order      int              `json:"order"`
	Activities []forms.Activity `json:"activities"`
}

// ClinicalRule is a protocol-wide constraint checked against collected
// measurements, independent of any single field's validation rules.
type ClinicalRule struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Parameter    string          `json:"parameter"`
	Condition    string          `json:"condition"`
	MinValue     *float64        `json:"minValue,omitempty"`
	MaxValue     *float64        `json:"maxValue,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	IsActive     bool            `json:"isActive"`
}

func validStatus(s string) bool {
	switch s {
	case StatusDraft, StatusActive, StatusInactive:
		return true
	}
	return false
}

func validVisitType(t string) bool {
	switch t {
	case VisitPresencial, VisitTelefonica, VisitNoProgramada:
		return true
	}
	return false
}

func validRuleCondition(c string) bool {
	switch c {
	case RuleRange, RuleMin, RuleMax, RuleEquals, RuleNotEquals:
		return true
	}
	return false
}

// Normalize applies canonical forms before persistence: codes are stored
// upper-cased and defaults are filled in.
func (p *Protocol) Normalize() {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	p.Name = strings.TrimSpace(p.Name)
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.Visits == nil {
		p.Visits = []Visit{}
	}
	if p.ClinicalRules == nil {
		p.ClinicalRules = []ClinicalRule{}
	}
}

func (p *Protocol) Validate() error {
	if p.Name == "" {
		return apperr.Invalid("protocol name is required")
	}
	if p.Code == "" {
		return apperr.Invalid("protocol code is required")
	}
	if !validStatus(p.Status) {
		return apperr.Invalid("invalid protocol status %q", p.Status)
	}
	for i := range p.Visits {
		if err := p.Visits[i].Validate(); err != nil {
			return err
		}
	}
	for i := range p.ClinicalRules {
		if err := p.ClinicalRules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (v *Visit) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return apperr.Invalid("visit name is required")
	}
	if !validVisitType(v.Type) {
		return apperr.Invalid("invalid visit type %q", v.Type)
	}
	if v.Order < 1 {
		return apperr.Invalid("visit order must be >= 1")
	}
	for i := range v.Activities {
		if err := v.Activities[i].Validate(); err != nil {
			return apperr.Invalid("activity %d: %v", i, err)
		}
	}
	return nil
}

func (r *ClinicalRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.Invalid("clinical rule name is required")
	}
	if strings.TrimSpace(r.Parameter) == "" {
		return apperr.Invalid("clinical rule parameter is required")
	}
	if !validRuleCondition(r.Condition) {
		return apperr.Invalid("invalid clinical rule condition %q", r.Condition)
	}
	if r.Condition == RuleRange && (r.MinValue == nil || r.MaxValue == nil) {
		return apperr.Invalid("range rule requires minValue and maxValue")
	}
	if r.Condition == RuleRange && *r.MinValue > *r.MaxValue {
		return apperr.Invalid("range rule minValue cannot exceed maxValue")
	}
	return nil
}

// maxVisitOrder returns the highest order among visits, 0 when empty.
func maxVisitOrder(visits []Visit) int {
	max := 0
	for _, v := range visits {
		if v.Order > max {
			max = v.Order
		}
	}
	return max
}

// findVisit returns a pointer into the aggregate's visit slice, or nil.
func (p *Protocol) findVisit(visitID uuid.UUID) *Visit {
	for i := range p.Visits {
		if p.Visits[i].ID == visitID {
			return &p.Visits[i]
		}
	}
	return nil
}
