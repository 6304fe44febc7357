package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hyperengineering/pillars/internal/filter"
	"github.com/hyperengineering/pillars/internal/provider"
	"github.com/hyperengineering/pillars/internal/types"
)

const (
	MaxNameLength        = 200
	MaxDescriptionLength = 2000
	MaxUnitLength        = 32
	MaxQueryLength       = 10000
	MaxValueFieldLength  = 200
)

// requiredConfig lists the config keys each integration type needs. The
// spreadsheet default is required because it is what the connection test
// reads; queries may still name another spreadsheet.
// Alternatives within one entry are separated by "|".
var requiredConfig = map[types.IntegrationType][]string{
	types.IntegrationCRM:          {"access_token"},
	types.IntegrationIssueTracker: {"email", "api_token", "base_url|domain"},
	types.IntegrationSpreadsheet:  {"api_key|access_token", "spreadsheet_id"},
}

func validateText(c *Collector, field, value string, max int) {
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, max))
}

// ValidateThresholds checks that both floors lie in [0, 1000] and that the
// yellow floor does not exceed the green one.
func ValidateThresholds(field string, th types.Thresholds) []ValidationError {
	var c Collector
	c.Add(ValidateRange(field+".green", th.Green, 0, 1000))
	c.Add(ValidateRange(field+".yellow", th.Yellow, 0, 1000))
	if th.Yellow > th.Green {
		c.Add(&ValidationError{Field: field + ".yellow", Message: "must not exceed green"})
	}
	return c.Errors()
}

// ValidateFinite returns an error for NaN or infinite values.
func ValidateFinite(field string, v float64) *ValidationError {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Message: "must be a finite number"}
	}
	return nil
}

// ValidateNewPillar validates a pillar creation request.
func ValidateNewPillar(p types.NewPillar) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("name", p.Name))
	validateText(&c, "name", p.Name, MaxNameLength)
	validateText(&c, "description", p.Description, MaxDescriptionLength)
	if p.Thresholds != nil {
		c.AddAll("", ValidateThresholds("thresholds", *p.Thresholds))
	}
	return c.Errors()
}

// ValidateNewMetric validates a metric creation request. Empty enum fields
// are allowed and take their defaults in the store.
func ValidateNewMetric(m types.NewMetric) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("pillar_id", m.PillarID))
	if m.PillarID != "" {
		c.Add(ValidateULID("pillar_id", m.PillarID))
	}
	c.Add(ValidateRequired("name", m.Name))
	validateText(&c, "name", m.Name, MaxNameLength)
	validateText(&c, "description", m.Description, MaxDescriptionLength)
	validateText(&c, "unit", m.Unit, MaxUnitLength)

	optionalEnum(&c, "metric_type", string(m.MetricType), types.MetricTypes)
	optionalEnum(&c, "data_source", string(m.DataSource), types.DataSources)
	optionalEnum(&c, "comparison_mode", string(m.ComparisonMode), types.ComparisonModes)
	optionalEnum(&c, "cadence", string(m.Cadence), types.Cadences)
	optionalEnum(&c, "format", string(m.Format), types.Formats)

	c.Add(ValidateFinite("current_value", m.CurrentValue))
	c.Add(ValidateFinite("target_value", m.TargetValue))
	if m.Thresholds != nil {
		c.AddAll("", ValidateThresholds("thresholds", *m.Thresholds))
	}
	return c.Errors()
}

func optionalEnum(c *Collector, field, value string, allowed []string) {
	if value != "" {
		c.Add(ValidateEnum(field, value, allowed))
	}
}

// ValidateMapping validates a mapping against the integration type it
// belongs to. The query must be well-formed for that provider: canonical
// filter JSON for crm, non-empty JQL for issue_tracker, and a range object
// for spreadsheet.
func ValidateMapping(t types.IntegrationType, m types.IntegrationMapping) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("integration_id", m.IntegrationID))
	c.Add(ValidateRequired("metric_id", m.MetricID))
	if m.MetricID != "" {
		c.Add(ValidateULID("metric_id", m.MetricID))
	}
	c.Add(ValidateRequired("query", m.Query))
	validateText(&c, "query", m.Query, MaxQueryLength)
	validateText(&c, "value_field", m.ValueField, MaxValueFieldLength)

	c.Add(ValidateRequired("aggregation_method", string(m.AggregationMethod)))
	if m.AggregationMethod != "" {
		c.Add(ValidateEnum("aggregation_method", string(m.AggregationMethod), types.AggregationMethods))
	}
	if m.AggregationMethod != "" && m.RequiresValueField() && strings.TrimSpace(m.ValueField) == "" {
		c.Add(&ValidationError{
			Field:   "value_field",
			Message: fmt.Sprintf("is required for %s aggregation", m.AggregationMethod),
		})
	}

	if r := m.TransformationRules; r != nil {
		if r.DivideBy != nil {
			c.Add(ValidateFinite("transformation_rules.divide_by", *r.DivideBy))
		}
		if r.MultiplyBy != nil {
			c.Add(ValidateFinite("transformation_rules.multiply_by", *r.MultiplyBy))
		}
	}

	if strings.TrimSpace(m.Query) != "" {
		c.Add(validateQuery(t, m.Query))
	}
	return c.Errors()
}

func validateQuery(t types.IntegrationType, query string) *ValidationError {
	switch t {
	case types.IntegrationCRM:
		q, err := filter.Parse(query)
		if err != nil {
			return &ValidationError{Field: "query", Message: "must be a filter object: " + err.Error()}
		}
		if len(q.Conditions) == 0 && q.ObjectType == "" {
			return &ValidationError{Field: "query", Message: "must contain at least one condition or objectType"}
		}
	case types.IntegrationSpreadsheet:
		var q provider.SheetsQuery
		if err := json.Unmarshal([]byte(query), &q); err != nil {
			return &ValidationError{Field: "query", Message: "must be a JSON object with a range"}
		}
		if strings.TrimSpace(q.Range) == "" {
			return &ValidationError{Field: "query.range", Message: "is required"}
		}
		if q.ValueColumnIndex != nil && *q.ValueColumnIndex < 0 {
			return &ValidationError{Field: "query.valueColumnIndex", Message: "must not be negative"}
		}
	}
	return nil
}

// ValidateIntegration validates an integration save request: the type must
// be known and the config must carry the keys its provider requires.
func ValidateIntegration(t types.IntegrationType, in types.Integration) []ValidationError {
	var c Collector
	if !t.Valid() {
		c.Add(ValidateEnum("type", string(t), types.IntegrationTypes))
		return c.Errors()
	}
	validateText(&c, "name", in.Name, MaxNameLength)

	for _, req := range requiredConfig[t] {
		alts := strings.Split(req, "|")
		found := false
		for _, k := range alts {
			if strings.TrimSpace(in.Config.Get(k)) != "" {
				found = true
				break
			}
		}
		if !found {
			msg := "is required"
			if len(alts) > 1 {
				msg = "one of " + strings.Join(alts, ", ") + " is required"
			}
			c.Add(&ValidationError{Field: "config." + alts[0], Message: msg})
		}
	}

	keys := make([]string, 0, len(in.Config))
	for k := range in.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		validateText(&c, "config."+k, in.Config[k], MaxQueryLength)
	}
	return c.Errors()
}
