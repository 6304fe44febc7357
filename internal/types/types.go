package types

import (
	"encoding/json"
	"time"
)

// IntegrationType identifies an external system kind. One integration exists per type.
type IntegrationType string

const (
	IntegrationCRM          IntegrationType = "crm"
	IntegrationIssueTracker IntegrationType = "issue_tracker"
	IntegrationSpreadsheet  IntegrationType = "spreadsheet"
)

// IntegrationTypes lists every supported integration type.
var IntegrationTypes = []string{
	string(IntegrationCRM),
	string(IntegrationIssueTracker),
	string(IntegrationSpreadsheet),
}

// Valid reports whether t is a known integration type.
func (t IntegrationType) Valid() bool {
	return contains(IntegrationTypes, string(t))
}

// DataSource records where a metric's current value comes from.
type DataSource string

const (
	SourceCRM          DataSource = "crm"
	SourceIssueTracker DataSource = "issue_tracker"
	SourceSpreadsheet  DataSource = "spreadsheet"
	SourceManual       DataSource = "manual"
)

// DataSources lists every supported data source.
var DataSources = []string{
	string(SourceCRM),
	string(SourceIssueTracker),
	string(SourceSpreadsheet),
	string(SourceManual),
}

// ComparisonMode is the rule for judging a current value against its target.
type ComparisonMode string

const (
	ModeAtOrAbove ComparisonMode = "at_or_above"
	ModeAtOrBelow ComparisonMode = "at_or_below"
	ModeOnTrack   ComparisonMode = "on_track"
	ModeExact     ComparisonMode = "exact"
)

// ComparisonModes lists every supported comparison mode.
var ComparisonModes = []string{
	string(ModeAtOrAbove),
	string(ModeAtOrBelow),
	string(ModeOnTrack),
	string(ModeExact),
}

// Cadence is the period over which a metric's target is meant to be achieved.
type Cadence string

const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnual    Cadence = "annual"
)

// Cadences lists every supported cadence.
var Cadences = []string{
	string(CadenceWeekly),
	string(CadenceMonthly),
	string(CadenceQuarterly),
	string(CadenceAnnual),
}

// Format controls how a metric value is displayed.
type Format string

const (
	FormatNumber     Format = "number"
	FormatCurrency   Format = "currency"
	FormatPercentage Format = "percentage"
)

// Formats lists every supported display format.
var Formats = []string{
	string(FormatNumber),
	string(FormatCurrency),
	string(FormatPercentage),
}

// MetricType classifies a metric's role in its pillar. Only key results
// participate in the pillar score.
type MetricType string

const (
	MetricKeyResult        MetricType = "key_result"
	MetricLeadingIndicator MetricType = "leading_indicator"
	MetricQuality          MetricType = "quality"
)

// MetricTypes lists every supported metric type.
var MetricTypes = []string{
	string(MetricKeyResult),
	string(MetricLeadingIndicator),
	string(MetricQuality),
}

// AggregationMethod is the reduction applied to the records matched by a mapping's query.
type AggregationMethod string

const (
	AggregateSum     AggregationMethod = "sum"
	AggregateCount   AggregationMethod = "count"
	AggregateAverage AggregationMethod = "average"
	AggregateMax     AggregationMethod = "max"
	AggregateMin     AggregationMethod = "min"
)

// AggregationMethods lists every supported aggregation method.
var AggregationMethods = []string{
	string(AggregateSum),
	string(AggregateCount),
	string(AggregateAverage),
	string(AggregateMax),
	string(AggregateMin),
}

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// Thresholds are percentage floors: at or above Green is green, at or above
// Yellow is yellow, anything lower is red.
type Thresholds struct {
	Green  float64 `json:"green"`
	Yellow float64 `json:"yellow"`
}

// DefaultThresholds are applied when a metric or pillar does not configure its own.
var DefaultThresholds = Thresholds{Green: 90, Yellow: 70}

// Pillar is a named grouping of metrics. Score and status are derived.
type Pillar struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Thresholds  Thresholds `json:"thresholds"`
	SortOrder   int        `json:"sort_order"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Metric is a tracked KPI. Status and trend are never stored; they are
// recomputed from current, target and previous values on every read.
type Metric struct {
	ID             string         `json:"id"`
	PillarID       string         `json:"pillar_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	MetricType     MetricType     `json:"metric_type"`
	DataSource     DataSource     `json:"data_source"`
	CurrentValue   float64        `json:"current_value"`
	TargetValue    float64        `json:"target_value"`
	PreviousValue  *float64       `json:"previous_value,omitempty"`
	Thresholds     Thresholds     `json:"thresholds"`
	ComparisonMode ComparisonMode `json:"comparison_mode"`
	Cadence        Cadence        `json:"cadence"`
	Format         Format         `json:"format"`
	Unit           string         `json:"unit,omitempty"`
	SortOrder      int            `json:"sort_order"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewMetric is the input for creating a metric (without generated fields).
type NewMetric struct {
	PillarID       string         `json:"pillar_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	MetricType     MetricType     `json:"metric_type"`
	DataSource     DataSource     `json:"data_source"`
	CurrentValue   float64        `json:"current_value"`
	TargetValue    float64        `json:"target_value"`
	Thresholds     *Thresholds    `json:"thresholds,omitempty"`
	ComparisonMode ComparisonMode `json:"comparison_mode"`
	Cadence        Cadence        `json:"cadence"`
	Format         Format         `json:"format"`
	Unit           string         `json:"unit,omitempty"`
	SortOrder      int            `json:"sort_order"`
}

// NewPillar is the input for creating a pillar.
type NewPillar struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Thresholds  *Thresholds `json:"thresholds,omitempty"`
	SortOrder   int         `json:"sort_order"`
}

// Integration is one external system connection.
type Integration struct {
	ID             string            `json:"id"`
	Type           IntegrationType   `json:"type"`
	Name           string            `json:"name"`
	Config         IntegrationConfig `json:"config"`
	IsActive       bool              `json:"is_active"`
	LastSyncAt     *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncStatus *SyncStatus       `json:"last_sync_status,omitempty"`
	LastSyncError  *string           `json:"last_sync_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Masked returns a copy of the integration whose credentials are replaced
// by the mask placeholder.
func (i Integration) Masked() Integration {
	i.Config = i.Config.Masked()
	return i
}

// TransformationRules rescale an aggregated value. Divide applies before multiply.
type TransformationRules struct {
	DivideBy   *float64 `json:"divide_by,omitempty"`
	MultiplyBy *float64 `json:"multiply_by,omitempty"`
}

// Apply returns v after the configured divide and multiply steps.
// A zero divisor is ignored rather than producing Inf.
func (r *TransformationRules) Apply(v float64) float64 {
	if r == nil {
		return v
	}
	if r.DivideBy != nil && *r.DivideBy != 0 {
		v = v / *r.DivideBy
	}
	if r.MultiplyBy != nil {
		v = v * *r.MultiplyBy
	}
	return v
}

// IntegrationMapping binds one metric to one integration through a query.
type IntegrationMapping struct {
	ID                  string               `json:"id"`
	IntegrationID       string               `json:"integration_id"`
	MetricID            string               `json:"metric_id"`
	Query               string               `json:"query"`
	AggregationMethod   AggregationMethod    `json:"aggregation_method"`
	ValueField          string               `json:"value_field,omitempty"`
	TransformationRules *TransformationRules `json:"transformation_rules,omitempty"`
	IsActive            bool                 `json:"is_active"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// RequiresValueField reports whether the aggregation needs a value field.
func (m IntegrationMapping) RequiresValueField() bool {
	return m.AggregationMethod != AggregateCount
}

// SyncLog is the append-only audit record of one sync run.
type SyncLog struct {
	ID              string     `json:"id"`
	IntegrationID   string     `json:"integration_id"`
	Status          SyncStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RecordsFetched  int        `json:"records_fetched"`
	RecordsUpdated  int        `json:"records_updated"`
	MappingsFailed  int        `json:"mappings_failed"`
	ValuesDiscarded int        `json:"values_discarded"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

// SyncCompletion carries the terminal state written to a sync log.
type SyncCompletion struct {
	Status          SyncStatus
	CompletedAt     time.Time
	RecordsFetched  int
	RecordsUpdated  int
	MappingsFailed  int
	ValuesDiscarded int
	ErrorMessage    string
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	PillarCount int64  `json:"pillar_count"`
	MetricCount int64  `json:"metric_count"`
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	PillarCount int64 `json:"pillar_count"`
	MetricCount int64 `json:"metric_count"`
}

// MarshalJSON ensures a nil config marshals as {} not null.
func (i Integration) MarshalJSON() ([]byte, error) {
	if i.Config == nil {
		i.Config = IntegrationConfig{}
	}
	type Alias Integration
	return json.Marshal(Alias(i))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
