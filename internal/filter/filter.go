// Package filter holds the provider-agnostic query model: an AND of
// property/operator/value conditions plus an object type selector, and its
// canonical JSON form.
//
// Canonical form:
//
//	{"objectType": "deals", "dealstage": "closedwon", "amount": {"gte": "1000"}, "pipeline": {"neq": ["a", "b"]}}
//
// OR groups are not supported.
package filter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/oklog/ulid/v2"
)

// ObjectTypeKey is the reserved key carrying the object type selector.
const ObjectTypeKey = "objectType"

// ErrInvalidQuery is returned when a query cannot be parsed into conditions.
var ErrInvalidQuery = errors.New("invalid query")

// Operator is a comparison applied to one property.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNeq Operator = "neq"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
)

// Operators lists every operator in display order.
var Operators = []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// PropertyType is the value type of a filterable property. It gates which
// operators a condition may use.
type PropertyType string

const (
	TypeString      PropertyType = "string"
	TypeNumber      PropertyType = "number"
	TypeDate        PropertyType = "date"
	TypeDateTime    PropertyType = "datetime"
	TypeEnumeration PropertyType = "enumeration"
	TypeBool        PropertyType = "bool"
)

// OperatorsFor returns the operators allowed for a property type.
// Dates and numbers are ordered; everything else supports equality only.
func OperatorsFor(pt PropertyType) []Operator {
	switch pt {
	case TypeNumber, TypeDate, TypeDateTime:
		return []Operator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte}
	default:
		return []Operator{OpEq, OpNeq}
	}
}

// Allows reports whether op may be used with a property of type pt.
func Allows(pt PropertyType, op Operator) bool {
	for _, o := range OperatorsFor(pt) {
		if o == op {
			return true
		}
	}
	return false
}

// Condition is one clause of a query. Values holds a single element for
// every operator except neq, which accepts an exclusion set.
type Condition struct {
	ID       string   `json:"id"`
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Values   []string `json:"values"`
}

// NewCondition returns a condition with a generated ID.
func NewCondition(property string, op Operator, values ...string) Condition {
	return Condition{
		ID:       ulid.Make().String(),
		Property: property,
		Operator: op,
		Values:   values,
	}
}

// ChangeProperty retargets the condition. The operator falls back to eq when
// it is not valid for the new property's type, and selected values are cleared.
func (c *Condition) ChangeProperty(property string, pt PropertyType) {
	c.Property = property
	if !Allows(pt, c.Operator) {
		c.Operator = OpEq
	}
	c.Values = nil
}

// Query is the parsed form of a canonical query string.
type Query struct {
	ObjectType string      `json:"objectType"`
	Conditions []Condition `json:"conditions"`
}

// Serialize renders conditions and the object type into canonical JSON.
// Conditions without a property or without values are skipped.
func Serialize(conditions []Condition, objectType string) (string, error) {
	out := make(map[string]any, len(conditions)+1)
	if objectType != "" {
		out[ObjectTypeKey] = objectType
	}

	for _, c := range conditions {
		if c.Property == "" || len(c.Values) == 0 {
			continue
		}
		if c.Property == ObjectTypeKey {
			return "", fmt.Errorf("%w: property %q is reserved", ErrInvalidQuery, ObjectTypeKey)
		}
		if !c.Operator.Valid() {
			return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Operator)
		}
		if _, dup := out[c.Property]; dup {
			return "", fmt.Errorf("%w: duplicate property %q", ErrInvalidQuery, c.Property)
		}

		switch {
		case c.Operator == OpEq && len(c.Values) == 1:
			out[c.Property] = c.Values[0]
		case len(c.Values) == 1:
			out[c.Property] = map[string]any{string(c.Operator): c.Values[0]}
		default:
			out[c.Property] = map[string]any{string(c.Operator): c.Values}
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("serialize query: %w", err)
	}
	return string(data), nil
}

// Parse is the inverse of Serialize. A bare scalar parses to eq, an operator
// object with an array parses to that operator with every value, and an
// operator object with a scalar parses to one value. Conditions are returned
// sorted by property name.
func Parse(query string) (*Query, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(query)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	q := &Query{Conditions: []Condition{}}

	props := make([]string, 0, len(raw))
	for k := range raw {
		props = append(props, k)
	}
	sort.Strings(props)

	for _, prop := range props {
		msg := raw[prop]
		if prop == ObjectTypeKey {
			if err := json.Unmarshal(msg, &q.ObjectType); err != nil {
				return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidQuery, ObjectTypeKey)
			}
			continue
		}

		cond, err := parseCondition(prop, msg)
		if err != nil {
			return nil, err
		}
		q.Conditions = append(q.Conditions, cond)
	}

	return q, nil
}

func parseCondition(prop string, msg json.RawMessage) (Condition, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return Condition{}, fmt.Errorf("%w: property %q: %v", ErrInvalidQuery, prop, err)
	}

	obj, isObj := v.(map[string]any)
	if !isObj {
		s, err := scalarString(v)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: property %q: %v", ErrInvalidQuery, prop, err)
		}
		return NewCondition(prop, OpEq, s), nil
	}

	if len(obj) != 1 {
		return Condition{}, fmt.Errorf("%w: property %q must have exactly one operator", ErrInvalidQuery, prop)
	}

	for key, val := range obj {
		op := Operator(key)
		if !op.Valid() {
			return Condition{}, fmt.Errorf("%w: property %q: unknown operator %q", ErrInvalidQuery, prop, key)
		}

		if arr, ok := val.([]any); ok {
			values := make([]string, 0, len(arr))
			for _, item := range arr {
				s, err := scalarString(item)
				if err != nil {
					return Condition{}, fmt.Errorf("%w: property %q: %v", ErrInvalidQuery, prop, err)
				}
				values = append(values, s)
			}
			return NewCondition(prop, op, values...), nil
		}

		s, err := scalarString(val)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: property %q: %v", ErrInvalidQuery, prop, err)
		}
		return NewCondition(prop, op, s), nil
	}

	// unreachable: len(obj) == 1
	return Condition{}, fmt.Errorf("%w: property %q", ErrInvalidQuery, prop)
}

// scalarString renders a JSON scalar as the string form used in conditions.
func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", errors.New("null value")
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
