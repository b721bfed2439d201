// Package codec converts between flat key/value mappings and the ordered
// pair lists CloudFormation expects for parameters, tags and outputs.
//
// Pairs are always emitted in key order so that requests built from the same
// mapping are identical.
package codec

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// Value returns a mapping value for s. Use nil for "no value supplied".
func Value(s string) *string {
	return &s
}

// ToParameters expands m into parameter pairs. When clean is true entries
// with a nil value are dropped; otherwise they are sent with an empty value.
func ToParameters(m map[string]*string, clean bool) []cftypes.Parameter {
	params := make([]cftypes.Parameter, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		if v == nil {
			if clean {
				continue
			}
			v = aws.String("")
		}
		params = append(params, cftypes.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(*v),
		})
	}
	return params
}

// ReuseParameters returns one pair per key telling CloudFormation to keep
// the current value of the parameter.
func ReuseParameters(keys []string) []cftypes.Parameter {
	params := make([]cftypes.Parameter, 0, len(keys))
	for _, k := range keys {
		params = append(params, cftypes.Parameter{
			ParameterKey:     aws.String(k),
			UsePreviousValue: aws.Bool(true),
		})
	}
	return params
}

// ParametersToMap flattens parameter pairs. Later pairs win over earlier ones
// with the same key. Pairs that reuse a previous value map to nil.
func ParametersToMap(params []cftypes.Parameter) map[string]*string {
	m := make(map[string]*string, len(params))
	for _, p := range params {
		key := aws.ToString(p.ParameterKey)
		if aws.ToBool(p.UsePreviousValue) || p.ParameterValue == nil {
			m[key] = nil
			continue
		}
		m[key] = aws.String(*p.ParameterValue)
	}
	return m
}

// ParameterKeys returns the keys of params in key order.
func ParameterKeys(params []cftypes.Parameter) []string {
	keys := make([]string, 0, len(params))
	for _, p := range params {
		keys = append(keys, aws.ToString(p.ParameterKey))
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

// ParameterValues flattens parameter pairs to plain strings, skipping pairs
// without a value.
func ParameterValues(params []cftypes.Parameter) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		if p.ParameterValue == nil {
			continue
		}
		m[aws.ToString(p.ParameterKey)] = *p.ParameterValue
	}
	return m
}

// ToTags expands m into tag pairs.
func ToTags(m map[string]string) []cftypes.Tag {
	tags := make([]cftypes.Tag, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		tags = append(tags, cftypes.Tag{
			Key:   aws.String(k),
			Value: aws.String(m[k]),
		})
	}
	return tags
}

// TagsToMap flattens tag pairs. Later pairs win.
func TagsToMap(tags []cftypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

// OutputsToMap flattens stack outputs. Later outputs win.
func OutputsToMap(outputs []cftypes.Output) map[string]string {
	m := make(map[string]string, len(outputs))
	for _, o := range outputs {
		m[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return m
}
