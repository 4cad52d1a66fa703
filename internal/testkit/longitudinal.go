package testkit

import (
	"fmt"
	"sort"

	"github.com/PennBBL/GAMM-Tutorial/adapters/rng"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"

	"gonum.org/v1/gonum/stat/distuv"
)

// Column names produced by Longitudinal.
const (
	Subject = "subject"
	Age     = "age"
	Sex     = "sex"
	OSex    = "oSex"
	SES     = "envSES"
	Y       = "y"
	Exclude = "exclude"
)

// MeanFunc is the true population mean of Y.
type MeanFunc func(age float64, male bool, ses float64) float64

// LongitudinalConfig configures a synthetic repeated-measures dataset.
type LongitudinalConfig struct {
	Subjects  int
	Visits    int
	AgeMin    float64
	AgeMax    float64
	SubjectSD float64
	NoiseSD   float64
	Mean      MeanFunc
	Seed      uint64

	// Twins makes subjects 2m and 2m+1 identical apart from sex, so the
	// estimated sex effect is exactly zero.
	Twins bool

	// ExcludeEvery flags every n-th row in the exclusion column (0 = none).
	ExcludeEvery int
}

// DefaultLongitudinalConfig is 100 subjects with 3 visits between 8 and 22.
func DefaultLongitudinalConfig() LongitudinalConfig {
	return LongitudinalConfig{
		Subjects:  100,
		Visits:    3,
		AgeMin:    8,
		AgeMax:    22,
		SubjectSD: 1,
		NoiseSD:   0.5,
		Mean:      func(float64, bool, float64) float64 { return 0 },
		Seed:      42,
	}
}

// Quadratic is a U-shaped age effect centered at 15 with no sex effect.
func Quadratic(age float64, _ bool, _ float64) float64 {
	d := age - 15
	return 0.05 * d * d
}

// Longitudinal generates one dataset. Sex alternates by subject so the
// design is balanced.
func Longitudinal(cfg LongitudinalConfig) (*dataset.Dataset, error) {
	if cfg.Subjects < 2 || cfg.Visits < 1 {
		return nil, fmt.Errorf("need at least 2 subjects and 1 visit, got %d and %d", cfg.Subjects, cfg.Visits)
	}
	if cfg.Mean == nil {
		cfg.Mean = func(float64, bool, float64) float64 { return 0 }
	}
	src := rng.PCG{}.Stream("testkit", cfg.Seed, 0)
	r := rng.New(cfg.Seed)
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	n := cfg.Subjects * cfg.Visits
	subjects := make([]string, 0, n)
	sexes := make([]string, 0, n)
	ages := make([]float64, 0, n)
	ses := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	exclude := make([]bool, 0, n)

	var (
		visitAges []float64
		noise     []float64
		intercept float64
		subjSES   float64
	)
	span := cfg.AgeMax - cfg.AgeMin
	for s := 0; s < cfg.Subjects; s++ {
		male := s%2 == 1
		if !cfg.Twins || s%2 == 0 {
			visitAges = make([]float64, cfg.Visits)
			for v := range visitAges {
				visitAges[v] = cfg.AgeMin + span*r.Float64()
			}
			sort.Float64s(visitAges)
			noise = make([]float64, cfg.Visits)
			for v := range noise {
				noise[v] = cfg.NoiseSD * std.Rand()
			}
			intercept = cfg.SubjectSD * std.Rand()
			subjSES = std.Rand()
		}
		sex := "female"
		if male {
			sex = "male"
		}
		for v, age := range visitAges {
			subjects = append(subjects, fmt.Sprintf("sub-%03d", s+1))
			sexes = append(sexes, sex)
			ages = append(ages, age)
			ses = append(ses, subjSES)
			ys = append(ys, cfg.Mean(age, male, subjSES)+intercept+noise[v])
			row := len(ys)
			exclude = append(exclude, cfg.ExcludeEvery > 0 && row%cfg.ExcludeEvery == 0)
		}
	}

	ds := dataset.New()
	levels := []string{"female", "male"}
	steps := []error{
		ds.AddFactor(Subject, dataset.Categorical, subjects, nil),
		ds.AddContinuous(Age, ages),
		ds.AddFactor(Sex, dataset.Categorical, sexes, levels),
		ds.AddFactor(OSex, dataset.OrderedCategorical, sexes, levels),
		ds.AddContinuous(SES, ses),
		ds.AddContinuous(Y, ys),
		ds.AddBool(Exclude, exclude),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}
