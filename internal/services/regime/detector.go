package regime

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"RegimeFolio/internal/domain/models"
	"RegimeFolio/internal/domain/repository"
	domsvc "RegimeFolio/internal/domain/service"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

// Detector clusters standardized market features into regimes. All
// randomness flows from the configured seed, so identical input yields
// identical labels across runs.
type Detector struct {
	cfg     config.AnalysisConfig
	log     *logger.Logger
	metrics repository.Metrics
}

func NewDetector(cfg config.AnalysisConfig, log *logger.Logger, metrics repository.Metrics) *Detector {
	return &Detector{cfg: cfg, log: log, metrics: metrics}
}

var _ domsvc.RegimeDetector = (*Detector)(nil)

// Detect standardizes the features, reduces them with PCA, scans
// cluster counts by silhouette score, fits the winner and smooths the
// label path.
func (d *Detector) Detect(ctx context.Context, features *models.FeatureMatrix) (*models.RegimeLabels, error) {
	// the scan needs at least two points per candidate cluster
	rows := features.Rows()
	if minRows := 2 * d.cfg.KMax; rows < minRows {
		return nil, fmt.Errorf("feature matrix has %d rows, need %d to scan up to k=%d: %w",
			rows, minRows, d.cfg.KMax, models.ErrInsufficientData)
	}

	started := time.Now()
	raw := mat.NewDense(rows, features.Cols(), append([]float64(nil), features.Data...))
	z := standardize(raw, d.cfg.OutlierZScore)

	proj, explained, components, err := projectPCA(z, d.cfg.ExplainedVariance)
	if err != nil {
		return nil, fmt.Errorf("reduce features: %w", err)
	}

	kMax := d.cfg.KMax
	if kMax > rows-1 {
		kMax = rows - 1
	}

	scores := make(map[int]float64, kMax-d.cfg.KMin+1)
	bestK, bestScore := 0, math.Inf(-1)
	for k := d.cfg.KMin; k <= kMax; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewSource(d.cfg.Seed))
		labels := kmeans(proj, k, d.cfg.KMeansMaxIterations, rng)
		score := silhouette(proj, labels, k)
		scores[k] = score
		if score > bestScore {
			bestK, bestScore = k, score
		}
	}
	if bestK == 0 {
		return nil, fmt.Errorf("cluster scan found no viable k in [%d,%d]", d.cfg.KMin, kMax)
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	rawLabels := kmeans(proj, bestK, d.cfg.KMeansMaxIterations, rng)
	smoothed := smoothLabels(rawLabels, d.cfg.SmoothingWindow, d.cfg.SmoothingPasses, bestK)

	d.log.Info("regime detection finished",
		logger.Int("k", bestK),
		logger.Any("silhouette", bestScore),
		logger.Int("components", components),
		logger.Any("explained_variance", explained),
		logger.Int("days", rows),
		logger.Duration("took", time.Since(started)),
	)
	if d.metrics != nil {
		d.metrics.RecordRegimeCount(bestK)
	}

	return &models.RegimeLabels{
		Dates:             append([]time.Time(nil), features.Dates...),
		Raw:               rawLabels,
		Smoothed:          smoothed,
		K:                 bestK,
		Silhouette:        scores,
		ExplainedVariance: explained,
		Components:        components,
	}, nil
}

// Profile summarizes each regime against the benchmark return series:
// occupancy, daily mean and vol, the mean forward return over the
// configured diagnostic window, and the mean of every input feature
// over the regime's days.
func (d *Detector) Profile(labels *models.RegimeLabels, benchmark *models.ReturnTable, features *models.FeatureMatrix) ([]models.RegimeProfile, error) {
	if len(benchmark.Tickers) == 0 {
		return nil, fmt.Errorf("benchmark table is empty: %w", models.ErrAlignment)
	}

	byDate := make(map[time.Time]float64, benchmark.Rows())
	for i, dt := range benchmark.Dates {
		byDate[dt] = benchmark.At(i, 0)
	}
	featRows := make(map[time.Time]int)
	if features != nil {
		for i, dt := range features.Dates {
			featRows[dt] = i
		}
	}

	aligned := make([]float64, 0, len(labels.Dates))
	alignedLabels := make([]int, 0, len(labels.Dates))
	dates := make([]time.Time, 0, len(labels.Dates))
	for i, dt := range labels.Dates {
		r, ok := byDate[dt]
		if !ok || models.IsMissing(r) {
			continue
		}
		aligned = append(aligned, r)
		alignedLabels = append(alignedLabels, labels.Smoothed[i])
		dates = append(dates, dt)
	}
	if len(aligned) == 0 {
		return nil, fmt.Errorf("benchmark and labels share no dates: %w", models.ErrAlignment)
	}

	fw := d.cfg.ForwardWindow
	profiles := make([]models.RegimeProfile, 0, labels.K)
	for regime := 0; regime < labels.K; regime++ {
		var (
			rets     []float64
			fwd      []float64
			first    time.Time
			last     time.Time
			featSums []float64
			featDays int
		)
		if features != nil {
			featSums = make([]float64, features.Cols())
		}
		for i, l := range alignedLabels {
			if l != regime {
				continue
			}
			rets = append(rets, aligned[i])
			if first.IsZero() {
				first = dates[i]
			}
			last = dates[i]

			if row, ok := featRows[dates[i]]; ok {
				featDays++
				for j := range featSums {
					featSums[j] += features.At(row, j)
				}
			}

			if i+fw < len(aligned) {
				cum := 1.0
				for j := i + 1; j <= i+fw; j++ {
					cum *= 1 + aligned[j]
				}
				fwd = append(fwd, cum-1)
			}
		}
		if len(rets) == 0 {
			continue
		}

		mean, std := stat.MeanStdDev(rets, nil)
		if len(rets) < 2 {
			std = 0
		}
		fwdMean := 0.0
		if len(fwd) > 0 {
			fwdMean = stat.Mean(fwd, nil)
		}
		featMeans := make(map[string]float64, len(featSums))
		if featDays > 0 {
			for j, name := range features.Features {
				featMeans[name] = featSums[j] / float64(featDays)
			}
		}
		profiles = append(profiles, models.RegimeProfile{
			Regime:        regime,
			Days:          len(rets),
			Share:         float64(len(rets)) / float64(len(aligned)),
			MeanDailyRet:  mean,
			DailyVol:      std,
			ForwardRet:    fwdMean,
			ForwardWindow: fw,
			FirstDate:     first,
			LastDate:      last,
			FeatureMeans:  featMeans,
		})
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Regime < profiles[j].Regime })
	return profiles, nil
}
