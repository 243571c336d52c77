// Package confidence implements the per-artifact quality scoring and decay
// model (§3, C1): assigning, decaying, thresholding, and pruning MemoryNode
// and StagedKnowledge confidence scores.
package confidence

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"basegraph.app/pandora/internal/model"
)

// Params is one row of the content-type decay table.
type Params struct {
	Lambda float64 // per-day decay rate
	Floor  float64 // asymptotic confidence floor
}

// DefaultTable is the decay table from spec.md §3. Loaded at startup from
// config/decay.yaml in production (see LoadTable); this is the fallback used
// when no config file is present, matching the documented values exactly so
// the service behaves correctly out of the box.
var DefaultTable = map[model.ContentType]Params{
	model.ContentAvailability: {Lambda: 0.20, Floor: 0.10},
	model.ContentPrice:        {Lambda: 0.10, Floor: 0.20},
	model.ContentProductSpec:  {Lambda: 0.03, Floor: 0.50},
	model.ContentVendorInfo:   {Lambda: 0.02, Floor: 0.60},
	model.ContentStrategy:     {Lambda: 0.02, Floor: 0.50},
	model.ContentSitePattern:  {Lambda: 0.01, Floor: 0.70},
	model.ContentPreference:   {Lambda: 0.005, Floor: 0.80},
	model.ContentGeneralFact:  {Lambda: 0.005, Floor: 0.80},
}

// DefaultParams is used for any content_type not present in the table.
var DefaultParams = Params{Lambda: 0.02, Floor: 0.30}

// InclusionFloor is the universal confidence floor below which a retrieved
// node is ineligible for inclusion (§3).
const InclusionFloor = 0.30

// Threshold labels the universal confidence bands used by every consumer (§3).
type Threshold string

const (
	ThresholdHigh    Threshold = "HIGH"
	ThresholdMedium  Threshold = "MEDIUM"
	ThresholdLow     Threshold = "LOW"
	ThresholdExpired Threshold = "EXPIRED"
)

// Model computes and classifies confidence scores against a decay table.
type Model struct {
	table    map[model.ContentType]Params
	fallback Params
}

// NewModel builds a Model from a decay table. Pass nil to use DefaultTable.
func NewModel(table map[model.ContentType]Params) *Model {
	if table == nil {
		table = DefaultTable
	}
	return &Model{table: table, fallback: DefaultParams}
}

// NewModelWithDefault builds a Model with an explicit fallback for content
// types absent from the table, as loaded by LoadTable.
func NewModelWithDefault(table map[model.ContentType]Params, fallback Params) *Model {
	if table == nil {
		table = DefaultTable
	}
	return &Model{table: table, fallback: fallback}
}

type decayFile struct {
	Default Params                        `yaml:"default"`
	Table   map[model.ContentType]Params `yaml:"table"`
}

// LoadTable reads a YAML decay table (config/decay.yaml) in the same
// optional-override style llmstage.LoadRegistry reads roles.yaml: a missing
// file falls back to DefaultTable/DefaultParams untouched, any other read or
// parse error is fatal.
func LoadTable(path string) (map[model.ContentType]Params, Params, error) {
	if path == "" {
		return DefaultTable, DefaultParams, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTable, DefaultParams, nil
		}
		return nil, Params{}, fmt.Errorf("reading decay table %s: %w", path, err)
	}

	var f decayFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, Params{}, fmt.Errorf("parsing decay table %s: %w", path, err)
	}

	table := f.Table
	if table == nil {
		table = DefaultTable
	}
	fallback := f.Default
	if fallback == (Params{}) {
		fallback = DefaultParams
	}
	return table, fallback, nil
}

func (m *Model) paramsFor(ct model.ContentType) Params {
	if p, ok := m.table[ct]; ok {
		return p
	}
	return m.fallback
}

// CurrentConfidence computes current_confidence = floor + (initial - floor) * e^(-λ*age_days).
func (m *Model) CurrentConfidence(contentType model.ContentType, initial float64, createdAt, now time.Time) float64 {
	p := m.paramsFor(contentType)
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return p.Floor + (initial-p.Floor)*math.Exp(-p.Lambda*ageDays)
}

// NodeConfidence is a convenience wrapper over a MemoryNode.
func (m *Model) NodeConfidence(n model.MemoryNode, now time.Time) float64 {
	return m.CurrentConfidence(n.ContentType, n.InitialConfidence, n.CreatedAt, now)
}

// Eligible reports whether a confidence score survives the universal
// inclusion floor (§3, also Testable Property #5).
func Eligible(currentConfidence float64) bool {
	return currentConfidence >= InclusionFloor
}

// Classify maps a confidence score to its universal threshold band (§3).
func Classify(currentConfidence float64) Threshold {
	switch {
	case currentConfidence >= 0.80:
		return ThresholdHigh
	case currentConfidence >= 0.50:
		return ThresholdMedium
	case currentConfidence >= 0.30:
		return ThresholdLow
	default:
		return ThresholdExpired
	}
}

// AssignForSourceCount derives a confidence score for a Batch Reflector
// proposal from the number of distinct source turns backing it (§4.6):
// 1 turn -> 0.60, 2 turns -> 0.75, >=3 turns -> 0.75 (or 0.85 if any cited
// turn was itself approved research with quality >= 0.80).
func AssignForSourceCount(sourceTurnCount int, anyApprovedHighQuality bool) float64 {
	switch {
	case sourceTurnCount >= 3:
		if anyApprovedHighQuality {
			return 0.85
		}
		return 0.75
	case sourceTurnCount == 2:
		return 0.75
	default:
		return 0.60
	}
}
