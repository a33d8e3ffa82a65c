package core

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/sync/singleflight"

	"deadline/internal/dataset"
	"deadline/pkg/domain"
)

// QuestionText carries the text keys of one question and its options.
type QuestionText struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// QuestionSet is what a profile answers: the texts and the resolved year
// delta of every option. Alts[i][j] belongs to option j of question i.
type QuestionSet struct {
	Questions []QuestionText `json:"questions"`
	Alts      [][]float64    `json:"alts"`
}

// DerivedCache memoises the expensive random draws in the store: one global
// map of random facts, and one outcome matrix per (country, age, sex,
// dataset version).
type DerivedCache struct {
	db      *Database
	data    *dataset.Dataset
	random  domain.RandomSource
	logger  Logger
	metrics MetricsRecorder

	fills singleflight.Group

	mu    sync.RWMutex
	facts map[string]float64
}

// NewDerivedCache binds the cache to a store and a dataset.
func NewDerivedCache(db *Database, data *dataset.Dataset, opts ...Option) *DerivedCache {
	o := applyOptions(opts)
	return &DerivedCache{
		db:      db,
		data:    data,
		random:  o.random,
		logger:  o.logger,
		metrics: o.metrics,
	}
}

// Init runs the dataset version check and resolves the random facts. The
// store must already be initialised.
func (c *DerivedCache) Init(ctx context.Context) error {
	if err := c.checkVersion(ctx); err != nil {
		return err
	}
	facts, err := c.loadFacts(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.facts = facts
	c.mu.Unlock()
	return nil
}

// checkVersion drops every cached outcome when the dataset version changed.
// Stores written before the marker existed are checked through the version
// index instead.
func (c *DerivedCache) checkVersion(ctx context.Context) error {
	version := c.data.Version()
	var marker domain.VersionMarkerRecord
	found, err := c.db.Get(ctx, CollectionGlobal, []any{globalKeyVersion}, "", &marker)
	if err != nil {
		return err
	}
	current := found && marker.Version == version
	if !found {
		current, err = c.db.Get(ctx, CollectionQuestions, []any{version}, IndexVersion, nil)
		if err != nil {
			return err
		}
	}
	if !current {
		if err := c.db.Clear(ctx, CollectionQuestions); err != nil {
			return err
		}
		c.logger.Info("question outcomes invalidated", "previous", marker.Version, "version", version)
	}
	if found && current {
		return nil
	}
	return c.db.Put(ctx, CollectionGlobal, domain.VersionMarkerRecord{Key: globalKeyVersion, Version: version})
}

// loadFacts returns the persisted random facts, drawing and persisting any
// declared id the store has not seen yet. Stored values are never redrawn.
func (c *DerivedCache) loadFacts(ctx context.Context) (map[string]float64, error) {
	var rec domain.RandomFactsRecord
	found, err := c.db.Get(ctx, CollectionGlobal, []any{globalKeyRandom}, "", &rec)
	if err != nil {
		return nil, err
	}
	if rec.Data == nil {
		rec.Data = make(map[string]float64)
	}
	drawn := 0
	for _, r := range c.data.RandomRanges() {
		if _, ok := rec.Data[r.ID]; ok {
			continue
		}
		rec.Data[r.ID] = domain.Uniform(c.random, r.Min, r.Max)
		drawn++
	}
	if !found || drawn > 0 {
		rec.Key = globalKeyRandom
		if err := c.db.Put(ctx, CollectionGlobal, rec); err != nil {
			return nil, err
		}
	}
	c.metrics.CacheLookup("random", found && drawn == 0)
	c.logger.Debug("random facts resolved", "stored", found, "drawn", drawn)

	facts := make(map[string]float64, len(rec.Data))
	for _, r := range c.data.RandomRanges() {
		facts[r.ID] = rec.Data[r.ID]
	}
	return facts, nil
}

// Random returns the stable value of a declared random fact.
func (c *DerivedCache) Random(id string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.facts == nil {
		return 0, domain.ErrStoreNotInitialized
	}
	v, ok := c.facts[id]
	if !ok {
		return 0, &domain.UnknownRandomKeyError{Key: id}
	}
	return v, nil
}

// RandomFacts returns a copy of every resolved random fact.
func (c *DerivedCache) RandomFacts() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.facts)
}

// Questions returns the question texts and the outcome matrix for a profile.
// The first call for a profile draws every random alteration once and
// persists the matrix; later calls return the stored matrix verbatim.
func (c *DerivedCache) Questions(ctx context.Context, country domain.Country, age domain.Age, sex domain.Sex) (QuestionSet, error) {
	questions := c.data.Questions()
	set := QuestionSet{Questions: make([]QuestionText, len(questions))}
	for i, q := range questions {
		texts := make([]string, len(q.Options))
		for j, opt := range q.Options {
			texts[j] = opt.Opt
		}
		set.Questions[i] = QuestionText{Question: q.Question, Options: texts}
	}

	version := c.data.Version()
	key, err := domain.EncodeKey(country.Value, age.Value, string(sex.Value), version)
	if err != nil {
		return QuestionSet{}, err
	}
	alts, err, _ := c.fills.Do(key, func() (any, error) {
		var rec domain.QuestionOutcomeRecord
		found, err := c.db.Get(ctx, CollectionQuestions, []any{country.Value, age.Value, string(sex.Value), version}, "", &rec)
		if err != nil {
			return nil, err
		}
		c.metrics.CacheLookup("questions", found)
		if found {
			return rec.Data, nil
		}
		rec = domain.QuestionOutcomeRecord{
			Country: country.Value,
			Age:     age.Value,
			Sex:     sex.Value,
			Version: version,
			Data:    c.draw(questions),
		}
		if err := c.db.Put(ctx, CollectionQuestions, rec); err != nil {
			return nil, err
		}
		c.logger.Debug("question outcomes drawn", "country", country.Value, "age", age.Value, "sex", string(sex.Value), "version", version)
		return rec.Data, nil
	})
	if err != nil {
		return QuestionSet{}, err
	}
	matrix := alts.([][]float64)
	if len(matrix) != len(questions) {
		return QuestionSet{}, fmt.Errorf("question outcomes for %s have %d rows, dataset has %d questions", key, len(matrix), len(questions))
	}
	set.Alts = make([][]float64, len(matrix))
	for i, row := range matrix {
		set.Alts[i] = append([]float64(nil), row...)
	}
	return set, nil
}

func (c *DerivedCache) draw(questions []domain.Question) [][]float64 {
	out := make([][]float64, len(questions))
	for i, q := range questions {
		row := make([]float64, len(q.Options))
		for j, opt := range q.Options {
			switch opt.Alt.Type {
			case domain.AlterationRandom:
				row[j] = domain.Uniform(c.random, opt.Alt.Min, opt.Alt.Max)
			default:
				row[j] = opt.Alt.Fixed
			}
		}
		out[i] = row
	}
	return out
}
