package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"deadline/pkg/domain"
)

// Config keys the life model reads.
const (
	ConfigLifeBaseRandom = "lifeBaseRandom"
	ConfigLifeBaseLine   = "lifeBaseLine"
	ConfigAltDilution    = "altDilution"
	ConfigLifeStd        = "lifeStd"
	ConfigYear           = "year"
	ConfigMonth          = "month"
)

const secondsPerDay = 86400

// ConfigSource resolves dataset config constants.
type ConfigSource interface {
	Config(key string) (float64, error)
}

// LifeModel computes base life, alteration aggregates, percentiles and
// countdown decompositions from dataset constants.
type LifeModel struct {
	cfg ConfigSource
}

func NewLifeModel(cfg ConfigSource) *LifeModel {
	return &LifeModel{cfg: cfg}
}

// AltSummary aggregates the alterations of a set of selections. Worst and
// Best are the smallest and largest effective deltas; with no non-zero
// deltas they are +Inf and -Inf.
type AltSummary struct {
	Alt   float64 `json:"alt"`
	Worst float64 `json:"worst"`
	Best  float64 `json:"best"`
}

// LifeSpan is a duration split into calendar-ish units. Years and months use
// the dataset's year and month lengths; hours, minutes and seconds are the
// remainders of the total within a day.
type LifeSpan struct {
	Years   int `json:"Y"`
	Months  int `json:"M"`
	Days    int `json:"D"`
	Hours   int `json:"h"`
	Minutes int `json:"m"`
	Seconds int `json:"s"`
}

// BaseLife is the remaining years before alterations: the country average for
// the sex minus age, or a random fallback once age reaches the average.
func (m *LifeModel) BaseLife(country domain.Country, age domain.Age, sex domain.Sex) (float64, error) {
	average, ok := country.Life.For(sex.Value)
	if !ok {
		return 0, fmt.Errorf("%w: sex %q", domain.ErrUnknownEntity, string(sex.Value))
	}
	if float64(age.Value) >= average {
		return m.cfg.Config(ConfigLifeBaseRandom)
	}
	return average - float64(age.Value), nil
}

// ProcessAlt sums alterations on top of base. Gains apply in full, in order;
// losses follow in order and whatever part of a loss pushes the running life
// below the baseline is divided by the dilution factor. Zero deltas are ignored.
func (m *LifeModel) ProcessAlt(base float64, alts []float64) (AltSummary, error) {
	baseLine, err := m.cfg.Config(ConfigLifeBaseLine)
	if err != nil {
		return AltSummary{}, err
	}
	dilution, err := m.cfg.Config(ConfigAltDilution)
	if err != nil {
		return AltSummary{}, err
	}
	out := AltSummary{Worst: math.Inf(1), Best: math.Inf(-1)}
	track := func(a float64) {
		out.Alt += a
		out.Worst = math.Min(out.Worst, a)
		out.Best = math.Max(out.Best, a)
	}
	for _, a := range alts {
		if a > 0 {
			track(a)
		}
	}
	for _, a := range alts {
		if a >= 0 {
			continue
		}
		running := base + out.Alt
		effective := a
		if running+a < baseLine {
			if running > baseLine {
				headroom := baseLine - running
				effective = (a-headroom)/dilution + headroom
			} else {
				effective = a / dilution
			}
		}
		track(effective)
	}
	return out, nil
}

// PercentBefore is the share of the population, in percent, expected to die
// before reaching age+life, from a normal distribution around the country
// average. Two decimals, with a trailing ".00" dropped.
func (m *LifeModel) PercentBefore(life float64, country domain.Country, age domain.Age, sex domain.Sex) (string, error) {
	mean, ok := country.Life.For(sex.Value)
	if !ok {
		return "", fmt.Errorf("%w: sex %q", domain.ErrUnknownEntity, string(sex.Value))
	}
	std, err := m.cfg.Config(ConfigLifeStd)
	if err != nil {
		return "", err
	}
	x := life + float64(age.Value)
	p := normalCDF(x, mean, std) * 100
	return strings.TrimSuffix(strconv.FormatFloat(p, 'f', 2, 64), ".00"), nil
}

func normalCDF(x, mean, std float64) float64 {
	return 0.5 * (1 + math.Erf((x-mean)/(std*math.Sqrt2)))
}

// LifeSeconds converts years of life to seconds using the dataset year length.
func (m *LifeModel) LifeSeconds(life float64) (float64, error) {
	year, err := m.cfg.Config(ConfigYear)
	if err != nil {
		return 0, err
	}
	return life * year, nil
}

// CalcLife decomposes seconds into a LifeSpan.
func (m *LifeModel) CalcLife(seconds float64) (LifeSpan, error) {
	year, err := m.cfg.Config(ConfigYear)
	if err != nil {
		return LifeSpan{}, err
	}
	month, err := m.cfg.Config(ConfigMonth)
	if err != nil {
		return LifeSpan{}, err
	}
	y := math.Floor(seconds / year)
	mo := math.Floor((seconds - y*year) / month)
	d := math.Floor((seconds - y*year - mo*month) / secondsPerDay)
	return LifeSpan{
		Years:   int(y),
		Months:  int(mo),
		Days:    int(d),
		Hours:   int(math.Floor(math.Mod(seconds/3600, 24))),
		Minutes: int(math.Floor(math.Mod(seconds/60, 60))),
		Seconds: int(math.Floor(math.Mod(seconds, 60))),
	}, nil
}
