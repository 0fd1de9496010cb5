// Package forms defines the dynamic data-collection field model shared by
// protocols and templates: typed activities, their per-type configuration,
// validation rules, and the name-based merge engine.
package forms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FieldType identifies the data-entry widget and value shape of an activity.
type FieldType string

const (
	FieldTextShort          FieldType = "text_short"
	FieldTextLong           FieldType = "text_long"
	FieldNumberSimple       FieldType = "number_simple"
	FieldNumberCompound     FieldType = "number_compound"
	FieldSelectSingle       FieldType = "select_single"
	FieldSelectMultiple     FieldType = "select_multiple"
	FieldBoolean            FieldType = "boolean"
	FieldDate               FieldType = "date"
	FieldTime               FieldType = "time"
	FieldDatetime           FieldType = "datetime"
	FieldFile               FieldType = "file"
	FieldTable              FieldType = "table"
	FieldConditional        FieldType = "conditional"
	FieldCalculated         FieldType = "calculated"
	FieldMedicationTracking FieldType = "medication_tracking"
)

var fieldTypes = map[FieldType]bool{
	FieldTextShort: true, FieldTextLong: true,
	FieldNumberSimple: true, FieldNumberCompound: true,
	FieldSelectSingle: true, FieldSelectMultiple: true,
	FieldBoolean: true, FieldDate: true, FieldTime: true, FieldDatetime: true,
	FieldFile: true, FieldTable: true, FieldConditional: true,
	FieldCalculated: true, FieldMedicationTracking: true,
}

// ValidFieldType reports whether ft is a recognized field type.
func ValidFieldType(ft FieldType) bool {
	return fieldTypes[ft]
}

// NumericConfig configures number_simple and number_compound fields.
type NumericConfig struct {
	MeasurementUnit string   `json:"measurementUnit,omitempty"`
	ExpectedMin     *float64 `json:"expectedMin,omitempty"`
	ExpectedMax     *float64 `json:"expectedMax,omitempty"`
	DecimalPlaces   int      `json:"decimalPlaces,omitempty"`
}

// SelectOption is one choice of a select field.
type SelectOption struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	Required  bool   `json:"required,omitempty"`
	Exclusive bool   `json:"exclusive,omitempty"`
}

// SelectConfig configures select_single and select_multiple fields.
type SelectConfig struct {
	Options            []SelectOption `json:"options"`
	SelectMultiple     bool           `json:"selectMultiple,omitempty"`
	AllowCustomOptions bool           `json:"allowCustomOptions,omitempty"`
}

// CompoundField is a named sub-measurement of a number_compound field.
type CompoundField struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`
}

// CompoundConfig configures number_compound fields.
type CompoundConfig struct {
	Fields []CompoundField `json:"fields"`
}

// ConditionalConfig configures conditional fields: the activity shows only
// when the referenced activity's value matches ShowWhen.
type ConditionalConfig struct {
	DependsOn string          `json:"dependsOn"`
	ShowWhen  json.RawMessage `json:"showWhen,omitempty"`
}

// DatetimeConfig configures date, time, and datetime fields.
type DatetimeConfig struct {
	IncludeDate               bool `json:"includeDate"`
	IncludeTime               bool `json:"includeTime"`
	RequireDate               bool `json:"requireDate,omitempty"`
	RequireTime               bool `json:"requireTime,omitempty"`
	RequireDatePerMeasurement bool `json:"requireDatePerMeasurement,omitempty"`
	RequireTimePerMeasurement bool `json:"requireTimePerMeasurement,omitempty"`
	TimeIntervalMinutes       int  `json:"timeIntervalMinutes,omitempty"`
}

// TableConfig configures table fields.
type TableConfig struct {
	Columns []string `json:"columns"`
	MinRows int      `json:"minRows,omitempty"`
	MaxRows int      `json:"maxRows,omitempty"`
}

// CalculatedConfig configures calculated fields.
type CalculatedConfig struct {
	Formula string `json:"formula"`
}

// Medication frequency values.
const (
	FreqOnceDaily   = "once_daily"
	FreqTwiceDaily  = "twice_daily"
	FreqThreeDaily  = "three_daily"
	FreqEveryXHours = "every_x_hours"
	FreqOnceWeekly  = "once_weekly"
)

// MedicationTrackingConfig configures medication_tracking fields.
type MedicationTrackingConfig struct {
	MedicationName             string  `json:"medicationName,omitempty"`
	DosageUnit                 string  `json:"dosageUnit,omitempty"`
	QuantityPerDose            float64 `json:"quantityPerDose,omitempty"`
	FrequencyType              string  `json:"frequencyType,omitempty"`
	CustomHoursInterval        int     `json:"customHoursInterval,omitempty"`
	ExpectedDailyDose          float64 `json:"expectedDailyDose,omitempty"`
	ShouldConsumeOnDeliveryDay bool    `json:"shouldConsumeOnDeliveryDay,omitempty"`
	ShouldTakeOnVisitDay       bool    `json:"shouldTakeOnVisitDay,omitempty"`
}

// Rule conditions and severities.
const (
	CondRange     = "range"
	CondMin       = "min"
	CondMax       = "max"
	CondEquals    = "equals"
	CondNotEquals = "not_equals"
	CondFormula   = "formula"

	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ValidationRule constrains the values captured for an activity.
type ValidationRule struct {
	Name            string          `json:"name"`
	Condition       string          `json:"condition"`
	MinValue        *float64        `json:"minValue,omitempty"`
	MaxValue        *float64        `json:"maxValue,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
	Formula         string          `json:"formula,omitempty"`
	FormulaOperator string          `json:"formulaOperator,omitempty"`
	Severity        string          `json:"severity"`
	Message         string          `json:"message,omitempty"`
	IsActive        bool            `json:"isActive"`
}

// Activity is one data-collection field inside a visit or template. Exactly
// one of the config pointers may be set, and it must match FieldType.
type Activity struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	FieldType     FieldType `json:"fieldType"`
	Required      bool      `json:"required"`
	Order         int       `json:"order"`
	HelpText      string    `json:"helpText,omitempty"`
	AllowMultiple bool      `json:"allowMultiple,omitempty"`
	RepeatCount   int       `json:"repeatCount,omitempty"`

	Numeric     *NumericConfig            `json:"numericConfig,omitempty"`
	Select      *SelectConfig             `json:"selectConfig,omitempty"`
	Compound    *CompoundConfig           `json:"compoundConfig,omitempty"`
	Conditional *ConditionalConfig        `json:"conditionalConfig,omitempty"`
	Datetime    *DatetimeConfig           `json:"datetimeConfig,omitempty"`
	Table       *TableConfig              `json:"tableConfig,omitempty"`
	Calculated  *CalculatedConfig         `json:"calculatedConfig,omitempty"`
	Medication  *MedicationTrackingConfig `json:"medicationTrackingConfig,omitempty"`

	ValidationRules []ValidationRule `json:"validationRules,omitempty"`
}

// configForType returns which config pointer corresponds to the field type,
// or nil when the type carries no config.
func (a *Activity) configMatches() error {
	type slot struct {
		set  bool
		name string
		ok   bool
	}
	allowed := func(types ...FieldType) bool {
		for _, t := range types {
			if a.FieldType == t {
				return true
			}
		}
		return false
	}
	slots := []slot{
		{a.Numeric != nil, "numericConfig", allowed(FieldNumberSimple, FieldNumberCompound)},
		{a.Select != nil, "selectConfig", allowed(FieldSelectSingle, FieldSelectMultiple)},
		{a.Compound != nil, "compoundConfig", allowed(FieldNumberCompound)},
		{a.Conditional != nil, "conditionalConfig", allowed(FieldConditional)},
		{a.Datetime != nil, "datetimeConfig", allowed(FieldDate, FieldTime, FieldDatetime)},
		{a.Table != nil, "tableConfig", allowed(FieldTable)},
		{a.Calculated != nil, "calculatedConfig", allowed(FieldCalculated)},
		{a.Medication != nil, "medicationTrackingConfig", allowed(FieldMedicationTracking)},
	}
	for _, s := range slots {
		if s.set && !s.ok {
			return fmt.Errorf("%s is not valid for field type %q", s.name, a.FieldType)
		}
	}
	return nil
}

// Validate checks the activity definition: known field type, matching config,
// sane numeric bounds, well-formed validation rules.
func (a *Activity) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("activity name is required")
	}
	if !ValidFieldType(a.FieldType) {
		return fmt.Errorf("unknown field type %q", a.FieldType)
	}
	if err := a.configMatches(); err != nil {
		return err
	}
	if a.Numeric != nil {
		if a.Numeric.DecimalPlaces < 0 || a.Numeric.DecimalPlaces > 10 {
			return fmt.Errorf("decimalPlaces must be between 0 and 10, got %d", a.Numeric.DecimalPlaces)
		}
		if a.Numeric.ExpectedMin != nil && a.Numeric.ExpectedMax != nil &&
			*a.Numeric.ExpectedMin > *a.Numeric.ExpectedMax {
			return fmt.Errorf("expectedMin %g exceeds expectedMax %g", *a.Numeric.ExpectedMin, *a.Numeric.ExpectedMax)
		}
	}
	if a.Medication != nil && a.Medication.FrequencyType != "" {
		switch a.Medication.FrequencyType {
		case FreqOnceDaily, FreqTwiceDaily, FreqThreeDaily, FreqEveryXHours, FreqOnceWeekly:
		default:
			return fmt.Errorf("unknown frequency type %q", a.Medication.FrequencyType)
		}
	}
	for i := range a.ValidationRules {
		if err := a.ValidationRules[i].Validate(); err != nil {
			return fmt.Errorf("validation rule %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the rule's condition, severity, and operator.
func (r *ValidationRule) Validate() error {
	switch r.Condition {
	case CondRange, CondMin, CondMax, CondEquals, CondNotEquals, CondFormula:
	default:
		return fmt.Errorf("unknown condition %q", r.Condition)
	}
	switch r.Severity {
	case SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if r.FormulaOperator != "" {
		switch r.FormulaOperator {
		case ">", "<", ">=", "<=", "==", "!=":
		default:
			return fmt.Errorf("unknown formula operator %q", r.FormulaOperator)
		}
	}
	return nil
}

// Clone returns a structural deep copy of the activity with a cleared
// identity. Merge assigns the new ID.
func (a *Activity) Clone() Activity {
	cp := *a
	cp.ID = uuid.Nil

	if a.Numeric != nil {
		n := *a.Numeric
		if a.Numeric.ExpectedMin != nil {
			v := *a.Numeric.ExpectedMin
			n.ExpectedMin = &v
		}
		if a.Numeric.ExpectedMax != nil {
			v := *a.Numeric.ExpectedMax
			n.ExpectedMax = &v
		}
		cp.Numeric = &n
	}
	if a.Select != nil {
		s := *a.Select
		s.Options = append([]SelectOption(nil), a.Select.Options...)
		cp.Select = &s
	}
	if a.Compound != nil {
		c := *a.Compound
		c.Fields = append([]CompoundField(nil), a.Compound.Fields...)
		cp.Compound = &c
	}
	if a.Conditional != nil {
		c := *a.Conditional
		c.ShowWhen = append(json.RawMessage(nil), a.Conditional.ShowWhen...)
		cp.Conditional = &c
	}
	if a.Datetime != nil {
		d := *a.Datetime
		cp.Datetime = &d
	}
	if a.Table != nil {
		tc := *a.Table
		tc.Columns = append([]string(nil), a.Table.Columns...)
		cp.Table = &tc
	}
	if a.Calculated != nil {
		c := *a.Calculated
		cp.Calculated = &c
	}
	if a.Medication != nil {
		m := *a.Medication
		cp.Medication = &m
	}

	if a.ValidationRules != nil {
		rules := make([]ValidationRule, len(a.ValidationRules))
		for i, r := range a.ValidationRules {
			rc := r
			if r.MinValue != nil {
				v := *r.MinValue
				rc.MinValue = &v
			}
			if r.MaxValue != nil {
				v := *r.MaxValue
				rc.MaxValue = &v
			}
			rc.Value = append(json.RawMessage(nil), r.Value...)
			rules[i] = rc
		}
		cp.ValidationRules = rules
	}

	return cp
}
