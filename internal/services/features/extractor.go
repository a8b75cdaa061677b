package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"RegimeFolio/internal/domain/models"
	domsvc "RegimeFolio/internal/domain/service"
	"RegimeFolio/pkg/config"
	"RegimeFolio/pkg/logger"
)

const (
	rsiPeriod       = 14
	volWindow       = 20
	volMinPeriods   = 5
	maWindow        = 200
	maMinPeriods    = 100
	liquidityWindow = 20
	neutralRSI      = 50.0
)

// Extractor turns raw daily bars into the market-wide feature matrix
// the regime detector clusters on: breadth, momentum, volatility and
// liquidity aggregated across the universe, plus the benchmark return.
type Extractor struct {
	cfg config.AnalysisConfig
	log *logger.Logger
}

func NewExtractor(cfg config.AnalysisConfig, log *logger.Logger) *Extractor {
	return &Extractor{cfg: cfg, log: log}
}

var _ domsvc.FeatureExtractor = (*Extractor)(nil)

// tickerSeries holds one ticker's per-day derived series aligned to the
// shared date axis.
type tickerSeries struct {
	returns   []float64
	rsi       []float64
	aboveMA   []float64 // 1, 0 or NaN while the MA is warming up
	liquidity []float64
}

func (e *Extractor) Extract(ctx context.Context, prices []models.PriceBar, benchmark *models.ReturnTable) (*models.FeatureMatrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no price bars: %w", models.ErrInsufficientData)
	}

	dates, closes, volumes := pivot(prices)
	n := len(dates)

	series := make(map[string]*tickerSeries, len(closes))
	for ticker, px := range closes {
		fillGaps(px)
		clipOutliers(px, e.cfg.OutlierZScore)
		fillGaps(px)

		rets := dailyReturns(px)
		zeroOutliers(rets, e.cfg.OutlierZScore)

		series[ticker] = &tickerSeries{
			returns:   rets,
			rsi:       rsi(px, rsiPeriod),
			aboveMA:   aboveMovingAverage(px, maWindow, maMinPeriods),
			liquidity: liquidity(px, volumes[ticker], rets, liquidityWindow, volMinPeriods),
		}
	}

	benchRets := alignBenchmark(dates, benchmark)

	names := []string{
		"market_return",
		"market_volatility",
		"average_rsi",
		"market_liquidity",
		"stocks_above_ma200",
		"benchmark_return",
	}
	data := make([]float64, n*len(names))
	marketRet := make([]float64, n)

	for i := 0; i < n; i++ {
		var retSum, rsiSum, liqSum, above, withMA float64
		for _, s := range series {
			if v := s.returns[i]; !math.IsNaN(v) {
				retSum += v
			}
			if v := s.rsi[i]; !math.IsNaN(v) {
				rsiSum += v
			} else {
				rsiSum += neutralRSI
			}
			if v := s.liquidity[i]; !math.IsNaN(v) {
				liqSum += v
			}
			if v := s.aboveMA[i]; !math.IsNaN(v) {
				above += v
				withMA++
			}
		}
		count := float64(len(series))
		marketRet[i] = retSum / count

		data[i*len(names)+0] = marketRet[i]
		data[i*len(names)+2] = rsiSum / count
		data[i*len(names)+3] = liqSum / count
		if withMA > 0 {
			data[i*len(names)+4] = above / withMA * 100
		}
		data[i*len(names)+5] = benchRets[i]
	}

	marketVol := rollingStd(marketRet, volWindow, volMinPeriods)
	firstValid := -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(marketVol[i]) {
			data[i*len(names)+1] = marketVol[i] * math.Sqrt(252)
			if firstValid < 0 {
				firstValid = i
			}
		}
	}
	if firstValid < 0 {
		return nil, fmt.Errorf("too few days for volatility window: %w", models.ErrInsufficientData)
	}

	out := &models.FeatureMatrix{
		Dates:    dates[firstValid:],
		Features: names,
		Data:     data[firstValid*len(names):],
	}
	e.log.Info("feature extraction finished",
		logger.Int("tickers", len(series)),
		logger.Int("days", out.Rows()),
		logger.Int("features", len(names)),
	)
	return out, nil
}

// pivot arranges bars into per-ticker arrays on the sorted shared date
// axis. Absent observations are NaN.
func pivot(prices []models.PriceBar) ([]time.Time, map[string][]float64, map[string][]float64) {
	seen := make(map[int64]time.Time)
	for _, b := range prices {
		seen[b.Date.Unix()] = b.Date
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	idx := make(map[int64]int, len(dates))
	for i, d := range dates {
		idx[d.Unix()] = i
	}

	closes := make(map[string][]float64)
	volumes := make(map[string][]float64)
	for _, b := range prices {
		if _, ok := closes[b.Ticker]; !ok {
			closes[b.Ticker] = nanSlice(len(dates))
			volumes[b.Ticker] = nanSlice(len(dates))
		}
		i := idx[b.Date.Unix()]
		closes[b.Ticker][i] = b.Close
		volumes[b.Ticker][i] = b.Volume
	}
	return dates, closes, volumes
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// fillGaps forward-fills then back-fills NaN holes in place.
func fillGaps(x []float64) {
	last := math.NaN()
	for i, v := range x {
		if math.IsNaN(v) {
			x[i] = last
		} else {
			last = v
		}
	}
	next := math.NaN()
	for i := len(x) - 1; i >= 0; i-- {
		if math.IsNaN(x[i]) {
			x[i] = next
		} else {
			next = x[i]
		}
	}
}

// clipOutliers blanks values whose z-score magnitude exceeds the limit,
// leaving the holes for fillGaps to repair.
func clipOutliers(x []float64, limit float64) {
	var clean []float64
	for _, v := range x {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) < 2 {
		return
	}
	mean, std := stat.MeanStdDev(clean, nil)
	if std == 0 {
		return
	}
	for i, v := range x {
		if !math.IsNaN(v) && math.Abs((v-mean)/std) > limit {
			x[i] = math.NaN()
		}
	}
}

func dailyReturns(px []float64) []float64 {
	out := nanSlice(len(px))
	for i := 1; i < len(px); i++ {
		if px[i-1] > 0 && !math.IsNaN(px[i]) && !math.IsNaN(px[i-1]) {
			out[i] = px[i]/px[i-1] - 1
		}
	}
	return out
}

// zeroOutliers replaces extreme returns with zero rather than dropping
// the day.
func zeroOutliers(rets []float64, limit float64) {
	var clean []float64
	for _, v := range rets {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) < 2 {
		return
	}
	mean, std := stat.MeanStdDev(clean, nil)
	if std == 0 {
		return
	}
	for i, v := range rets {
		if !math.IsNaN(v) && math.Abs((v-mean)/std) > limit {
			rets[i] = 0
		}
	}
}

// rsi computes the relative strength index over a simple rolling mean
// of gains and losses.
func rsi(px []float64, period int) []float64 {
	n := len(px)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := px[i] - px[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	out := nanSlice(n)
	for i := 1; i < n; i++ {
		lo := i - period + 1
		if lo < 1 {
			lo = 1
		}
		var g, l float64
		for j := lo; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		count := float64(i - lo + 1)
		avgGain, avgLoss := g/count, l/count
		if avgLoss == 0 {
			out[i] = 0
			if avgGain > 0 {
				out[i] = 100
			}
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// aboveMovingAverage returns 1 when price trades above its long moving
// average, 0 when below, NaN during warmup.
func aboveMovingAverage(px []float64, window, minPeriods int) []float64 {
	out := nanSlice(len(px))
	var sum float64
	var count int
	for i, v := range px {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
		if i >= window {
			if old := px[i-window]; !math.IsNaN(old) {
				sum -= old
				count--
			}
		}
		if count >= minPeriods && count > 0 {
			ma := sum / float64(count)
			if px[i] > ma {
				out[i] = 1
			} else {
				out[i] = 0
			}
		}
	}
	return out
}

// liquidity estimates the dollar volume required to move the price one
// percent: rolling mean dollar volume over rolling mean absolute return.
func liquidity(px, vol, rets []float64, window, minPeriods int) []float64 {
	n := len(px)
	dollar := nanSlice(n)
	absRet := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(px[i]) && !math.IsNaN(vol[i]) {
			dollar[i] = px[i] * vol[i]
		}
		if !math.IsNaN(rets[i]) && rets[i] != 0 {
			absRet[i] = math.Abs(rets[i])
		}
	}

	avgDollar := rollingMean(dollar, window, minPeriods)
	avgAbs := rollingMean(absRet, window, minPeriods)

	out := nanSlice(n)
	for i := 0; i < n; i++ {
		if !math.IsNaN(avgDollar[i]) && !math.IsNaN(avgAbs[i]) && avgAbs[i] > 0 {
			out[i] = avgDollar[i] / (avgAbs[i] * 100)
		}
	}
	return out
}

func rollingMean(x []float64, window, minPeriods int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		var sum float64
		var count int
		for j := lo; j <= i; j++ {
			if !math.IsNaN(x[j]) {
				sum += x[j]
				count++
			}
		}
		if count >= minPeriods {
			out[i] = sum / float64(count)
		}
	}
	return out
}

func rollingStd(x []float64, window, minPeriods int) []float64 {
	out := nanSlice(len(x))
	for i := range x {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		var vals []float64
		for j := lo; j <= i; j++ {
			if !math.IsNaN(x[j]) {
				vals = append(vals, x[j])
			}
		}
		if len(vals) >= minPeriods && len(vals) > 1 {
			_, std := stat.MeanStdDev(vals, nil)
			out[i] = std
		}
	}
	return out
}

// alignBenchmark maps benchmark daily returns onto the date axis,
// zero-filling days the benchmark does not cover.
func alignBenchmark(dates []time.Time, benchmark *models.ReturnTable) []float64 {
	out := make([]float64, len(dates))
	if benchmark == nil || len(benchmark.Tickers) == 0 {
		return out
	}
	byDate := make(map[int64]float64, benchmark.Rows())
	for i, d := range benchmark.Dates {
		if v := benchmark.At(i, 0); !models.IsMissing(v) {
			byDate[d.Unix()] = v
		}
	}
	for i, d := range dates {
		out[i] = byDate[d.Unix()]
	}
	return out
}
