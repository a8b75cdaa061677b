package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	"RegimeFolio/pkg/cache"
	"RegimeFolio/pkg/logger"
)

// activeWeightThreshold hides dust positions from allocation views.
const activeWeightThreshold = 0.01

// AnalysisViews renders stored pipeline results into the shapes the API
// serves. Rendered views are cached until the next pipeline run
// invalidates them.
type AnalysisViews struct {
	results domrepo.ResultStore
	cache   cache.Service
	classes map[string]string // ticker -> asset class
	ttl     ViewTTL
	log     *logger.Logger
}

type ViewTTL struct {
	Allocations time.Duration
	Curves      time.Duration
	Monthly     time.Duration
}

func NewAnalysisViews(results domrepo.ResultStore, c cache.Service, ttl ViewTTL, log *logger.Logger) *AnalysisViews {
	return &AnalysisViews{
		results: results,
		cache:   c,
		classes: tickerClasses(),
		ttl:     ttl,
		log:     log,
	}
}

// RegimeView is one row of the regimes endpoint.
type RegimeView struct {
	Date     string `json:"date"`
	Raw      int    `json:"raw"`
	Smoothed int    `json:"smoothed"`
}

// RegimeProfileView characterizes one regime for the regimes endpoint.
type RegimeProfileView struct {
	Regime        int                `json:"regime"`
	Days          int                `json:"days"`
	Share         float64            `json:"share"`
	MeanDailyRet  float64            `json:"mean_daily_return"`
	DailyVol      float64            `json:"daily_volatility"`
	ForwardRet    float64            `json:"forward_return"`
	ForwardWindow int                `json:"forward_window"`
	FirstDate     string             `json:"first_date"`
	LastDate      string             `json:"last_date"`
	FeatureMeans  map[string]float64 `json:"feature_means"`
}

type RegimesView struct {
	K                 int                 `json:"k"`
	ExplainedVariance float64             `json:"explained_variance"`
	Components        int                 `json:"components"`
	Silhouette        map[string]float64  `json:"silhouette"`
	Current           int                 `json:"current"`
	Labels            []RegimeView        `json:"labels"`
	Profiles          []RegimeProfileView `json:"profiles"`
}

func (v *AnalysisViews) GetRegimes(ctx context.Context) (*RegimesView, error) {
	const key = "views:regimes"
	var out RegimesView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	labels, err := v.results.LoadRegimeLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load regimes: %w", err)
	}

	out = RegimesView{
		K:                 labels.K,
		ExplainedVariance: labels.ExplainedVariance,
		Components:        labels.Components,
		Silhouette:        make(map[string]float64, len(labels.Silhouette)),
		Labels:            make([]RegimeView, len(labels.Dates)),
	}
	for k, s := range labels.Silhouette {
		out.Silhouette[fmt.Sprintf("%d", k)] = s
	}
	for i, d := range labels.Dates {
		out.Labels[i] = RegimeView{
			Date:     d.Format("2006-01-02"),
			Raw:      labels.Raw[i],
			Smoothed: labels.Smoothed[i],
		}
	}
	if n := len(labels.Smoothed); n > 0 {
		out.Current = labels.Smoothed[n-1]
	}

	profiles, err := v.results.LoadRegimeProfiles(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load regime profiles: %w", err)
	}
	for _, p := range profiles {
		out.Profiles = append(out.Profiles, RegimeProfileView{
			Regime:        p.Regime,
			Days:          p.Days,
			Share:         p.Share,
			MeanDailyRet:  p.MeanDailyRet,
			DailyVol:      p.DailyVol,
			ForwardRet:    p.ForwardRet,
			ForwardWindow: p.ForwardWindow,
			FirstDate:     p.FirstDate.Format("2006-01-02"),
			LastDate:      p.LastDate.Format("2006-01-02"),
			FeatureMeans:  p.FeatureMeans,
		})
	}

	v.store(ctx, key, out, v.ttl.Allocations)
	return &out, nil
}

// AllocationView is one solved grid cell with dust filtered out.
type AllocationView struct {
	Key            string             `json:"key"`
	Regime         int                `json:"regime"`
	RiskProfile    string             `json:"risk_profile"`
	HorizonDays    int                `json:"horizon_days"`
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	HorizonReturn  float64            `json:"horizon_return"`
	HorizonRisk    float64            `json:"horizon_risk"`
	ActiveAssets   int                `json:"n_assets"`
	Observations   int                `json:"observations"`
}

type AllocationsView struct {
	Allocations []AllocationView  `json:"allocations"`
	Failed      map[string]string `json:"failed,omitempty"`
}

// GetAllocations returns solved cells, optionally filtered. regime < 0
// means all regimes; appetite "" and horizon 0 mean no filter.
func (v *AnalysisViews) GetAllocations(ctx context.Context, regime int, appetite models.RiskAppetite, horizon int) (*AllocationsView, error) {
	key := cache.GenerateKeyWithParams("views:allocations", regime, appetite, horizon)
	var out AllocationsView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	grid, err := v.results.LoadAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}

	out = AllocationsView{Failed: make(map[string]string)}
	for _, alloc := range grid.Allocations {
		if regime >= 0 && alloc.Key.Regime != regime {
			continue
		}
		if appetite != "" && alloc.Key.Appetite != appetite {
			continue
		}
		if horizon > 0 && alloc.Key.Horizon != horizon {
			continue
		}

		weights := make(map[string]float64)
		for t, w := range alloc.Weights {
			if w > activeWeightThreshold {
				weights[t] = w
			}
		}
		out.Allocations = append(out.Allocations, AllocationView{
			Key:            alloc.Key.String(),
			Regime:         alloc.Key.Regime,
			RiskProfile:    alloc.Key.Appetite.Label(),
			HorizonDays:    alloc.Key.Horizon,
			Weights:        weights,
			ExpectedReturn: alloc.ExpectedReturn,
			Volatility:     alloc.Volatility,
			Sharpe:         alloc.Sharpe,
			HorizonReturn:  alloc.HorizonReturn,
			HorizonRisk:    alloc.HorizonRisk,
			ActiveAssets:   alloc.ActiveAssets,
			Observations:   alloc.Observations,
		})
	}
	sort.Slice(out.Allocations, func(i, j int) bool {
		return out.Allocations[i].Key < out.Allocations[j].Key
	})
	for cell, cellErr := range grid.Failed {
		out.Failed[cell] = cellErr.Error()
	}

	v.store(ctx, key, out, v.ttl.Allocations)
	return &out, nil
}

// AssetClassView aggregates allocation weight into the major asset
// classes, overall and broken out by regime, risk profile and horizon.
type AssetClassView struct {
	Average      map[string]float64            `json:"average"`
	ByRegime     map[string]map[string]float64 `json:"by_regime"`
	ByRiskLevel  map[string]map[string]float64 `json:"by_risk_level"`
	ByHorizon    map[string]map[string]float64 `json:"by_horizon"`
	ClassTickers map[string][]string           `json:"class_tickers"`
}

func (v *AnalysisViews) GetAssetClasses(ctx context.Context) (*AssetClassView, error) {
	const key = "views:asset_classes"
	var out AssetClassView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	grid, err := v.results.LoadAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}

	out = AssetClassView{
		Average:      make(map[string]float64),
		ByRegime:     make(map[string]map[string]float64),
		ByRiskLevel:  make(map[string]map[string]float64),
		ByHorizon:    make(map[string]map[string]float64),
		ClassTickers: make(map[string][]string),
	}

	addTo := func(m map[string]map[string]float64, group, class string, w float64) {
		if m[group] == nil {
			m[group] = make(map[string]float64)
		}
		m[group][class] += w
	}

	groupCounts := map[string]map[string]int{
		"regime": {}, "risk": {}, "horizon": {},
	}

	for _, alloc := range grid.Allocations {
		regimeKey := fmt.Sprintf("Regime %d", alloc.Key.Regime)
		riskKey := alloc.Key.Appetite.Label()
		horizonKey := fmt.Sprintf("%d days", alloc.Key.Horizon)
		groupCounts["regime"][regimeKey]++
		groupCounts["risk"][riskKey]++
		groupCounts["horizon"][horizonKey]++

		for ticker, w := range alloc.Weights {
			class := v.classify(ticker)
			out.Average[class] += w
			addTo(out.ByRegime, regimeKey, class, w)
			addTo(out.ByRiskLevel, riskKey, class, w)
			addTo(out.ByHorizon, horizonKey, class, w)
		}
	}

	if n := len(grid.Allocations); n > 0 {
		for class := range out.Average {
			out.Average[class] /= float64(n)
		}
	}
	normalizeGroups(out.ByRegime, groupCounts["regime"])
	normalizeGroups(out.ByRiskLevel, groupCounts["risk"])
	normalizeGroups(out.ByHorizon, groupCounts["horizon"])

	for ticker, class := range v.classes {
		out.ClassTickers[class] = append(out.ClassTickers[class], ticker)
	}
	for class := range out.ClassTickers {
		sort.Strings(out.ClassTickers[class])
	}

	v.store(ctx, key, out, v.ttl.Allocations)
	return &out, nil
}

func normalizeGroups(m map[string]map[string]float64, counts map[string]int) {
	for group, classes := range m {
		n := counts[group]
		if n == 0 {
			continue
		}
		for class := range classes {
			classes[class] /= float64(n)
		}
	}
}

// CurvePoint pairs a date with per-variant values offset so the series
// start at zero, the shape a cumulative performance chart plots.
type CurvePoint struct {
	Date   string             `json:"date"`
	Values map[string]float64 `json:"values"`
}

type EquityCurvesView struct {
	Variants []string     `json:"variants"`
	Points   []CurvePoint `json:"points"`
}

// GetEquityCurves returns the backtest curves. With rebased=false the
// raw indexed values are returned; otherwise the rebase value is
// subtracted so every series starts at zero. Zero-valued from/to leave
// that end of the date range open.
func (v *AnalysisViews) GetEquityCurves(ctx context.Context, rebased bool, from, to time.Time) (*EquityCurvesView, error) {
	key := cache.GenerateKeyWithParams("views:equity_curves", rebased, from.Unix(), to.Unix())
	var out EquityCurvesView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	bt, err := v.results.LoadBacktest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load backtest: %w", err)
	}

	out = EquityCurvesView{Points: make([]CurvePoint, 0, len(bt.Dates))}
	for _, c := range bt.Curves {
		out.Variants = append(out.Variants, c.Name)
	}
	sort.Strings(out.Variants)

	var offset float64
	if rebased && len(bt.Curves) > 0 && len(bt.Curves[0].Values) > 0 {
		offset = bt.Curves[0].Values[0]
	}

	for i, d := range bt.Dates {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if !to.IsZero() && d.After(to) {
			continue
		}
		point := CurvePoint{Date: d.Format("2006-01-02"), Values: make(map[string]float64, len(bt.Curves))}
		for _, c := range bt.Curves {
			if i < len(c.Values) {
				point.Values[c.Name] = c.Values[i] - offset
			}
		}
		out.Points = append(out.Points, point)
	}

	v.store(ctx, key, out, v.ttl.Curves)
	return &out, nil
}

type PerformanceView struct {
	Metrics      []models.PerformanceMetrics `json:"metrics"`
	DegradedDays map[string]int              `json:"degraded_days"`
}

func (v *AnalysisViews) GetPerformance(ctx context.Context) (*PerformanceView, error) {
	const key = "views:performance"
	var out PerformanceView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	bt, err := v.results.LoadBacktest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load backtest: %w", err)
	}
	out = PerformanceView{Metrics: bt.Metrics, DegradedDays: bt.DegradedDays}
	sort.Slice(out.Metrics, func(i, j int) bool { return out.Metrics[i].Name < out.Metrics[j].Name })

	v.store(ctx, key, out, v.ttl.Curves)
	return &out, nil
}

// MonthlyPoint is one month-end sample of a strategy curve.
type MonthlyPoint struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

type MonthlyDataView struct {
	RiskLevel string         `json:"risk_level"`
	Variant   string         `json:"variant"`
	Points    []MonthlyPoint `json:"points"`
}

// GetMonthlyData samples the matching strategy curve at each complete
// month end, returning up to the last 12 months. moderate maps to the
// risk-neutral strategy.
func (v *AnalysisViews) GetMonthlyData(ctx context.Context, riskLevel string) (*MonthlyDataView, error) {
	variant, err := variantForRiskLevel(riskLevel)
	if err != nil {
		return nil, err
	}

	key := cache.GenerateKey("views:monthly", riskLevel)
	var out MonthlyDataView
	if v.cached(ctx, key, &out) {
		return &out, nil
	}

	bt, err := v.results.LoadBacktest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load backtest: %w", err)
	}
	curve := bt.Curve(variant)
	if curve == nil {
		return nil, fmt.Errorf("curve %q not in backtest: %w", variant, models.ErrMissingWeights)
	}

	out = MonthlyDataView{RiskLevel: riskLevel, Variant: variant}
	points := monthEndSamples(curve)
	if len(points) > 12 {
		points = points[len(points)-12:]
	}
	out.Points = points

	v.store(ctx, key, out, v.ttl.Monthly)
	return &out, nil
}

// monthEndSamples takes the last value of each complete month. The
// final month is complete only if the series extends past it.
func monthEndSamples(curve *models.EquityCurve) []MonthlyPoint {
	var points []MonthlyPoint
	for i := 0; i < len(curve.Dates)-1; i++ {
		cur := curve.Dates[i]
		next := curve.Dates[i+1]
		if cur.Month() != next.Month() || cur.Year() != next.Year() {
			points = append(points, MonthlyPoint{
				Month: cur.Format("2006-01"),
				Value: curve.Values[i],
			})
		}
	}
	return points
}

func variantForRiskLevel(riskLevel string) (string, error) {
	switch riskLevel {
	case "risk_averse":
		return models.RiskAverse.Label(), nil
	case "moderate":
		return models.RiskNeutral.Label(), nil
	case "risk_loving":
		return models.RiskLoving.Label(), nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnknownRiskAppetite, riskLevel)
}

func (v *AnalysisViews) classify(ticker string) string {
	if class, ok := v.classes[ticker]; ok {
		return class
	}
	return "Other_Stocks"
}

func (v *AnalysisViews) cached(ctx context.Context, key string, dest interface{}) bool {
	if v.cache == nil {
		return false
	}
	if err := v.cache.Get(ctx, key, dest); err != nil {
		if err != cache.ErrCacheMiss {
			v.log.Debug("view cache read failed", logger.String("key", key), logger.Error(err))
		}
		return false
	}
	return true
}

func (v *AnalysisViews) store(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Set(ctx, key, value, ttl); err != nil {
		v.log.Debug("view cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// tickerClasses maps the investable universe into the seven major asset
// classes used by the allocation rollups.
func tickerClasses() map[string]string {
	groups := map[string][]string{
		"MAG7":  {"AAPL", "MSFT", "AMZN", "NVDA", "GOOGL", "GOOG", "META", "TSLA"},
		"Bonds": {"TLT", "SHY", "IEF", "AGG", "LQD", "HYG", "MUB", "TIP", "BIL", "BND"},
		"Commodities": {
			"GLD", "USO", "SLV", "OIL", "DBC", "GSC", "BNO", "UNG", "XLE",
		},
		"Crypto": {"BITO", "GBTC", "COIN", "MSTR"},
		"Market_Indices": {
			"SPY", "QQQ", "DIA", "IWM", "VWO", "EEM", "FXI", "EWJ", "EWZ", "ILF", "VTI",
			"XLB", "XLF", "XLI", "XLK", "XLU", "XLV", "XLY", "XLRE",
		},
		"Low_Beta_Stocks": {
			"PG", "KO", "PEP", "WMT", "COST", "MO", "PM", "KMB", "CLX", "GIS", "K", "CPB", "CAG",
			"HRL", "SJM", "KR", "HSY", "MKC", "CL", "STZ",
			"DUK", "SO", "NEE", "D", "AEP", "XEL", "ED", "ES", "PEG", "EXC", "WEC", "CMS", "PCG",
			"NI", "CNP", "AEE", "ETR", "FE", "SRE", "AWK",
			"JNJ", "PFE", "MRK", "ABBV", "ABT", "LLY", "BMY", "UNH", "CVS", "MDT", "GILD", "AMGN",
			"BIIB", "VRTX", "REGN", "BSX", "ZTS", "DHR", "TMO", "ISRG",
			"VZ", "T", "TMUS", "CMCSA", "CHTR", "LUMN", "DISH",
			"AMT", "PLD", "CCI", "EQIX", "PSA", "O", "AVB", "EQR", "DLR", "SPG", "WELL", "VTR",
			"BXP", "ARE", "REG", "UDR", "HST", "VICI",
		},
		"High_Beta_Growth_Stocks": {
			"ADBE", "AMAT", "AMD", "AVGO", "CSCO", "IBM", "INTC", "ORCL", "QCOM", "TXN", "CRM",
			"NFLX", "PYPL", "MU", "LRCX", "KLAC", "PANW", "SNOW", "CDNS", "SNPS", "INTU",
			"HD", "MCD", "NKE", "SBUX", "LOW", "TGT", "BKNG", "MAR", "EXPE", "RCL", "CCL", "MGM",
			"LVS", "WYNN", "F", "GM", "LUV", "UAL", "DAL",
		},
	}

	out := make(map[string]string)
	for class, tickers := range groups {
		for _, t := range tickers {
			out[t] = class
		}
	}
	return out
}
