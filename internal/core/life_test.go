package core

import (
	"math"
	"strconv"
	"testing"

	"deadline/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapConfig map[string]float64

func (m mapConfig) Config(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, &domain.UnknownConfigKeyError{Key: key}
	}
	return v, nil
}

func testLifeModel() *LifeModel {
	return NewLifeModel(mapConfig{
		ConfigLifeBaseRandom: 10,
		ConfigLifeBaseLine:   0,
		ConfigAltDilution:    2,
		ConfigLifeStd:        10,
		ConfigYear:           31536000,
		ConfigMonth:          2592000,
	})
}

var (
	japan = domain.Country{Value: "Japan", Life: domain.LifeBySex{Male: 81, Female: 87}}
	chad  = domain.Country{Value: "Chad", Life: domain.LifeBySex{Male: 50, Female: 53}}
	male  = domain.Sex{Value: domain.SexMale}
)

func TestBaseLife(t *testing.T) {
	m := testLifeModel()

	base, err := m.BaseLife(japan, domain.Age{Value: 20}, male)
	require.NoError(t, err)
	assert.Equal(t, 61.0, base)

	base, err = m.BaseLife(chad, domain.Age{Value: 50}, domain.Sex{Value: domain.SexFemale})
	require.NoError(t, err)
	assert.Equal(t, 3.0, base)

	base, err = m.BaseLife(chad, domain.Age{Value: 50}, male)
	require.NoError(t, err)
	assert.Equal(t, 10.0, base, "age at the average falls back to lifeBaseRandom")

	_, err = m.BaseLife(japan, domain.Age{Value: 20}, domain.Sex{Value: "other"})
	assert.ErrorIs(t, err, domain.ErrUnknownEntity)
}

func TestBaseLifeResamplesFallback(t *testing.T) {
	random := &countingRandom{value: 0.25}
	ds := testDataset(t, random)
	m := NewLifeModel(ds)
	before := random.Draws()

	base, err := m.BaseLife(chad, domain.Age{Value: 80}, male)
	require.NoError(t, err)
	assert.Equal(t, 7.5, base)
	assert.Equal(t, before+1, random.Draws())
}

func TestProcessAltEmpty(t *testing.T) {
	got, err := testLifeModel().ProcessAlt(10, nil)
	require.NoError(t, err)
	assert.Zero(t, got.Alt)
	assert.True(t, math.IsInf(got.Worst, 1))
	assert.True(t, math.IsInf(got.Best, -1))
}

func TestProcessAltDilutesBelowBaseline(t *testing.T) {
	m := testLifeModel()

	got, err := m.ProcessAlt(10, []float64{-5, -10})
	require.NoError(t, err)
	assert.Equal(t, AltSummary{Alt: -12.5, Worst: -7.5, Best: -5}, got)

	reordered, err := m.ProcessAlt(10, []float64{-10, -5})
	require.NoError(t, err)
	assert.Equal(t, -12.5, reordered.Alt)
	assert.Equal(t, AltSummary{Alt: -12.5, Worst: -10, Best: -2.5}, reordered)
}

func TestProcessAltAppliesGainsFirst(t *testing.T) {
	got, err := testLifeModel().ProcessAlt(10, []float64{-15, 5})
	require.NoError(t, err)
	assert.Equal(t, AltSummary{Alt: -10, Worst: -15, Best: 5}, got)
}

func TestProcessAltIgnoresZeros(t *testing.T) {
	got, err := testLifeModel().ProcessAlt(10, []float64{0, 3, 0})
	require.NoError(t, err)
	assert.Equal(t, AltSummary{Alt: 3, Worst: 3, Best: 3}, got)

	got, err = testLifeModel().ProcessAlt(10, []float64{0, 0})
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.Worst, 1))
}

func TestProcessAltAlreadyBelowBaseline(t *testing.T) {
	got, err := testLifeModel().ProcessAlt(-4, []float64{-6})
	require.NoError(t, err)
	assert.Equal(t, -3.0, got.Alt)
}

func TestProcessAltNeedsConfig(t *testing.T) {
	_, err := NewLifeModel(mapConfig{}).ProcessAlt(10, []float64{-1})
	assert.ErrorIs(t, err, domain.ErrUnknownConfigKey)
}

func TestPercentBefore(t *testing.T) {
	m := testLifeModel()
	age := domain.Age{Value: 20}

	p, err := m.PercentBefore(61, japan, age, male)
	require.NoError(t, err)
	assert.Equal(t, "50", p)

	p, err = m.PercentBefore(71, japan, age, male)
	require.NoError(t, err)
	assert.Equal(t, "84.13", p)

	prev := -1.0
	for life := 0.0; life <= 120; life += 5 {
		p, err := m.PercentBefore(life, japan, age, male)
		require.NoError(t, err)
		v, err := strconv.ParseFloat(p, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, prev)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
		prev = v
	}
}

func TestCalcLife(t *testing.T) {
	m := testLifeModel()
	seconds := 31536000.0 + 2*2592000 + 3*86400 + 4*3600 + 5*60 + 6

	got, err := m.CalcLife(seconds)
	require.NoError(t, err)
	assert.Equal(t, LifeSpan{Years: 1, Months: 2, Days: 3, Hours: 4, Minutes: 5, Seconds: 6}, got)

	got, err = m.CalcLife(0)
	require.NoError(t, err)
	assert.Equal(t, LifeSpan{}, got)
}

func TestLifeSeconds(t *testing.T) {
	got, err := testLifeModel().LifeSeconds(2)
	require.NoError(t, err)
	assert.Equal(t, 63072000.0, got)
}
