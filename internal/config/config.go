// Package config decodes the JSON-shaped option documents spec §6
// describes for dynamic_threshold.* tuning into the plain Go values
// memtier.Builder's setters consume.
//
// Grounded on the teacher's syncharvester package, which parses every
// external JSON payload through sugawarayuuta/sonnet rather than
// encoding/json.
package config

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/memkind-go/tiermem/internal/policyerr"
)

// ThresholdOpt mirrors one entry of spec §6's
// dynamic_threshold.thresholds[i].{val,min,max}.
type ThresholdOpt struct {
	Val uintptr `json:"val"`
	Min uintptr `json:"min"`
	Max uintptr `json:"max"`
}

// DynamicThresholdDoc is the decoded shape of a dynamic_threshold.*
// configuration document.
type DynamicThresholdDoc struct {
	Thresholds []ThresholdOpt `json:"thresholds"`
	CheckCnt   uint64         `json:"check_cnt"`
	Trigger    float64        `json:"trigger"`
	Degree     float64        `json:"degree"`
}

// ParseDynamicThreshold decodes a dynamic_threshold.* JSON document and
// validates the bounds spec §7's ConfigInvalid covers: ascending,
// non-overlapping Val bounds, Trigger/Degree in [0,1].
func ParseDynamicThreshold(data []byte) (DynamicThresholdDoc, error) {
	var doc DynamicThresholdDoc
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
	}
	if len(doc.Thresholds) == 0 {
		return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
	}
	if doc.Trigger < 0 || doc.Trigger > 1 || doc.Degree < 0 || doc.Degree > 1 {
		return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
	}
	if doc.CheckCnt == 0 {
		return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
	}
	for i, th := range doc.Thresholds {
		if th.Min > th.Val || th.Val > th.Max {
			return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
		}
		if i > 0 && th.Val <= doc.Thresholds[i-1].Val {
			return DynamicThresholdDoc{}, policyerr.ErrConfigInvalid
		}
	}
	return doc, nil
}

// StaticRatioDoc is the decoded shape of a static_ratio.* configuration
// document: one target ratio per tier, in tier order.
type StaticRatioDoc struct {
	Ratios []float64 `json:"ratios"`
}

// ParseStaticRatio decodes a static_ratio.* JSON document and validates
// that ratios are non-negative and sum to ~1 when more than one tier is
// configured (SPEC_FULL.md §13's supplemented multi-tier validation).
func ParseStaticRatio(data []byte) (StaticRatioDoc, error) {
	var doc StaticRatioDoc
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return StaticRatioDoc{}, policyerr.ErrConfigInvalid
	}
	if len(doc.Ratios) == 0 {
		return StaticRatioDoc{}, policyerr.ErrConfigInvalid
	}
	var sum float64
	for _, r := range doc.Ratios {
		if r < 0 {
			return StaticRatioDoc{}, policyerr.ErrConfigInvalid
		}
		sum += r
	}
	if len(doc.Ratios) > 1 && (sum < 0.99 || sum > 1.01) {
		return StaticRatioDoc{}, policyerr.ErrConfigInvalid
	}
	return doc, nil
}
