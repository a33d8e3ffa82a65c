// Package domain defines the dataset entities, persisted record shapes, the
// condition rule tree and the key-value persistence contract used by deadline.
package domain

import (
	"encoding/json"
	"fmt"
)

// SexValue enumerates the sexes the dataset carries life expectancy for.
type SexValue string

const (
	SexMale   SexValue = "male"
	SexFemale SexValue = "female"
)

// LifeBySex holds average life expectancy in years.
type LifeBySex struct {
	Male   float64 `json:"male"`
	Female float64 `json:"female"`
}

// For returns the life expectancy for the given sex.
func (l LifeBySex) For(sex SexValue) (float64, bool) {
	switch sex {
	case SexMale:
		return l.Male, true
	case SexFemale:
		return l.Female, true
	default:
		return 0, false
	}
}

// Country is keyed by its unique name.
type Country struct {
	Value string    `json:"value"`
	Life  LifeBySex `json:"life"`
}

// Age is a selectable age option and acts as its own key.
type Age struct {
	Value int `json:"value"`
}

// Sex is a selectable sex option.
type Sex struct {
	Value SexValue `json:"value"`
}

// I18n is a translation row. The core only carries it through.
type I18n struct {
	ID   string            `json:"id"`
	Lang map[string]string `json:"lang"`
}

// AlterationType tags an Alteration variant.
type AlterationType string

const (
	AlterationNormal AlterationType = "normal"
	AlterationRandom AlterationType = "random"
)

// Alteration is the year delta attached to a question option. Normal
// alterations carry a fixed delta, random ones a [Min, Max) range that is
// sampled once per profile and dataset version.
type Alteration struct {
	Type  AlterationType
	Fixed float64
	Min   float64
	Max   float64
}

// NormalAlteration builds a fixed delta alteration.
func NormalAlteration(years float64) Alteration {
	return Alteration{Type: AlterationNormal, Fixed: years}
}

// RandomAlteration builds a ranged alteration.
func RandomAlteration(minYears, maxYears float64) Alteration {
	return Alteration{Type: AlterationRandom, Min: minYears, Max: maxYears}
}

type alterationJSON struct {
	Type AlterationType  `json:"type"`
	Args json.RawMessage `json:"args"`
}

// MarshalJSON encodes the bundle form {"type":...,"args":...}.
func (a Alteration) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case AlterationNormal:
		return json.Marshal(struct {
			Type AlterationType `json:"type"`
			Args float64        `json:"args"`
		}{a.Type, a.Fixed})
	case AlterationRandom:
		return json.Marshal(struct {
			Type AlterationType `json:"type"`
			Args [2]float64     `json:"args"`
		}{a.Type, [2]float64{a.Min, a.Max}})
	default:
		return nil, fmt.Errorf("alteration: unknown type %q", a.Type)
	}
}

// UnmarshalJSON decodes the bundle form {"type":...,"args":...}.
func (a *Alteration) UnmarshalJSON(data []byte) error {
	var raw alterationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case AlterationNormal:
		var v float64
		if err := json.Unmarshal(raw.Args, &v); err != nil {
			return fmt.Errorf("normal alteration args: %w", err)
		}
		*a = NormalAlteration(v)
	case AlterationRandom:
		var v [2]float64
		if err := json.Unmarshal(raw.Args, &v); err != nil {
			return fmt.Errorf("random alteration args: %w", err)
		}
		*a = RandomAlteration(v[0], v[1])
	default:
		return fmt.Errorf("alteration: unknown type %q", raw.Type)
	}
	return nil
}

// QuestionOption is one answer of a question. Options are referenced by index.
type QuestionOption struct {
	Opt string     `json:"opt"`
	Alt Alteration `json:"alt"`
}

// Question is an ordered list of options under a text key.
type Question struct {
	ID       int              `json:"id"`
	Question string           `json:"question"`
	Options  []QuestionOption `json:"options"`
}

// Achievement unlocks when its condition holds. Lower grades sort first.
// The JSON field name keeps the dataset's historical spelling.
type Achievement struct {
	Achievement string  `json:"achivement"`
	Grade       float64 `json:"grade"`
	Tips        string  `json:"tips"`
	Condition   Rule    `json:"condition"`
}

// RandomRange declares a global random fact drawn once per store lifetime.
type RandomRange struct {
	ID  string  `json:"id"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ConfigValue is either a literal number or a random range resampled on every read.
type ConfigValue struct {
	Random bool
	Number float64
	Min    float64
	Max    float64
}

// MarshalJSON encodes a literal as a number and a random spec as
// {"type":"random","args":[min,max]}.
func (v ConfigValue) MarshalJSON() ([]byte, error) {
	if !v.Random {
		return json.Marshal(v.Number)
	}
	return json.Marshal(struct {
		Type string     `json:"type"`
		Args [2]float64 `json:"args"`
	}{"random", [2]float64{v.Min, v.Max}})
}

// UnmarshalJSON accepts either a number or a random spec object.
func (v *ConfigValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = ConfigValue{Number: n}
		return nil
	}
	var spec struct {
		Type string     `json:"type"`
		Args [2]float64 `json:"args"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("config value: %w", err)
	}
	if spec.Type != "random" {
		return fmt.Errorf("config value: unknown type %q", spec.Type)
	}
	*v = ConfigValue{Random: true, Min: spec.Args[0], Max: spec.Args[1]}
	return nil
}

// ConfigEntry is one row of the config table.
type ConfigEntry struct {
	Key   string      `json:"key"`
	Value ConfigValue `json:"value"`
}

// QuestionOutcomeRecord is the persisted per-profile outcome matrix.
// Rows follow question order, columns option order.
type QuestionOutcomeRecord struct {
	Country string      `json:"country"`
	Age     int         `json:"age"`
	Sex     SexValue    `json:"sex"`
	Version string      `json:"version"`
	Data    [][]float64 `json:"data"`
}

// RandomFactsRecord is the persisted singleton holding every resolved random fact.
type RandomFactsRecord struct {
	Key  string             `json:"key"`
	Data map[string]float64 `json:"data"`
}

// VersionMarkerRecord remembers the dataset version the question outcomes belong to.
type VersionMarkerRecord struct {
	Key     string `json:"key"`
	Version string `json:"version"`
}
