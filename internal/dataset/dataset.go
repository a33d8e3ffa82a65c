// Package dataset is the read-only accessor over a versioned dataset bundle:
// countries, ages, sexes, questions, achievements, random ranges, i18n rows
// and config constants.
package dataset

import (
	"fmt"
	"maps"
	"slices"

	"deadline/pkg/domain"
)

// Table names a bundle table as used by Query.
type Table string

const (
	TableI18n        Table = "i18n"
	TableCountry     Table = "country"
	TableAge         Table = "age"
	TableSex         Table = "sex"
	TableAchievement Table = "achivement"
	TableQuestion    Table = "question"
	TableRandom      Table = "random"
	TableConfig      Table = "config"
)

// Tables lists every table in bundle order.
var Tables = []Table{TableI18n, TableCountry, TableAge, TableSex, TableAchievement, TableQuestion, TableRandom, TableConfig}

// Bundle is the wire shape of a dataset document.
type Bundle struct {
	Version string `json:"version"`
	Data    Data   `json:"data"`
}

// Data holds the bundle tables. Config is keyed by config key.
type Data struct {
	I18n         []domain.I18n                 `json:"i18n"`
	Country      []domain.Country              `json:"country"`
	Age          []domain.Age                  `json:"age"`
	Sex          []domain.Sex                  `json:"sex"`
	Achievements []domain.Achievement          `json:"achivement"`
	Question     []domain.Question             `json:"question"`
	Random       []domain.RandomRange          `json:"random"`
	Config       map[string]domain.ConfigEntry `json:"config"`
}

// Dataset is immutable after construction; accessors hand out copies of the
// top-level slices and maps.
type Dataset struct {
	version string
	digest  string
	data    Data
	rand    domain.RandomSource

	countries map[string]domain.Country
	ages      map[int]domain.Age
	sexes     map[domain.SexValue]domain.Sex
}

// New builds a Dataset from an already decoded bundle.
func New(b Bundle, opts ...Option) (*Dataset, error) {
	o := applyOptions(opts)
	if b.Version == "" {
		return nil, fmt.Errorf("dataset: version required")
	}
	ds := &Dataset{
		version:   b.Version,
		digest:    o.digest,
		data:      b.Data,
		rand:      o.random,
		countries: make(map[string]domain.Country, len(b.Data.Country)),
		ages:      make(map[int]domain.Age, len(b.Data.Age)),
		sexes:     make(map[domain.SexValue]domain.Sex, len(b.Data.Sex)),
	}
	for _, c := range b.Data.Country {
		if _, dup := ds.countries[c.Value]; dup {
			return nil, fmt.Errorf("dataset: duplicate country %q", c.Value)
		}
		ds.countries[c.Value] = c
	}
	for _, a := range b.Data.Age {
		ds.ages[a.Value] = a
	}
	for _, s := range b.Data.Sex {
		ds.sexes[s.Value] = s
	}
	seen := make(map[string]struct{}, len(b.Data.Random))
	for _, r := range b.Data.Random {
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("dataset: duplicate random id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	for key, entry := range b.Data.Config {
		if entry.Key != "" && entry.Key != key {
			return nil, fmt.Errorf("dataset: config entry %q declares key %q", key, entry.Key)
		}
	}
	return ds, nil
}

// Version is the invalidation stamp for cached question outcomes.
func (d *Dataset) Version() string { return d.version }

// Digest is the sha256 hex of the raw bundle bytes; empty for bundles built with New.
func (d *Dataset) Digest() string { return d.digest }

func (d *Dataset) I18n() []domain.I18n                { return slices.Clone(d.data.I18n) }
func (d *Dataset) Countries() []domain.Country        { return slices.Clone(d.data.Country) }
func (d *Dataset) Ages() []domain.Age                 { return slices.Clone(d.data.Age) }
func (d *Dataset) Sexes() []domain.Sex                { return slices.Clone(d.data.Sex) }
func (d *Dataset) Achievements() []domain.Achievement { return slices.Clone(d.data.Achievements) }
func (d *Dataset) Questions() []domain.Question       { return slices.Clone(d.data.Question) }
func (d *Dataset) RandomRanges() []domain.RandomRange { return slices.Clone(d.data.Random) }

// ConfigTable returns the config table keyed by config key.
func (d *Dataset) ConfigTable() map[string]domain.ConfigEntry { return maps.Clone(d.data.Config) }

// Query returns a table by name: the ordered rows for list tables, the keyed
// map for config.
func (d *Dataset) Query(table Table) (any, error) {
	switch table {
	case TableI18n:
		return d.I18n(), nil
	case TableCountry:
		return d.Countries(), nil
	case TableAge:
		return d.Ages(), nil
	case TableSex:
		return d.Sexes(), nil
	case TableAchievement:
		return d.Achievements(), nil
	case TableQuestion:
		return d.Questions(), nil
	case TableRandom:
		return d.RandomRanges(), nil
	case TableConfig:
		return d.ConfigTable(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTable, string(table))
	}
}

// Config resolves a config constant. Random specs are resampled on every call.
func (d *Dataset) Config(key string) (float64, error) {
	entry, ok := d.data.Config[key]
	if !ok {
		return 0, &domain.UnknownConfigKeyError{Key: key}
	}
	if !entry.Value.Random {
		return entry.Value.Number, nil
	}
	return domain.Uniform(d.rand, entry.Value.Min, entry.Value.Max), nil
}

// Country looks a country up by name.
func (d *Dataset) Country(name string) (domain.Country, error) {
	c, ok := d.countries[name]
	if !ok {
		return domain.Country{}, fmt.Errorf("%w: country %q", domain.ErrUnknownEntity, name)
	}
	return c, nil
}

// Age looks an age option up by value.
func (d *Dataset) Age(value int) (domain.Age, error) {
	a, ok := d.ages[value]
	if !ok {
		return domain.Age{}, fmt.Errorf("%w: age %d", domain.ErrUnknownEntity, value)
	}
	return a, nil
}

// Sex looks a sex option up by value.
func (d *Dataset) Sex(value domain.SexValue) (domain.Sex, error) {
	s, ok := d.sexes[value]
	if !ok {
		return domain.Sex{}, fmt.Errorf("%w: sex %q", domain.ErrUnknownEntity, string(value))
	}
	return s, nil
}
