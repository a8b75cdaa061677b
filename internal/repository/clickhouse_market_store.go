package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"RegimeFolio/internal/domain/models"
	domrepo "RegimeFolio/internal/domain/repository"
	pkgch "RegimeFolio/pkg/clickhouse"
	applogger "RegimeFolio/pkg/logger"
)

// CHMarketStore reads the curated market tables from ClickHouse. The
// tables are maintained by the data loading jobs; this store never
// writes them.
type CHMarketStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHMarketStore(ch *pkgch.Client, l *applogger.Logger) *CHMarketStore {
	return &CHMarketStore{db: ch.DB(), l: l}
}

var _ domrepo.MarketStore = (*CHMarketStore)(nil)

func (s *CHMarketStore) Tickers(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT ticker FROM regimefolio.asset_prices ORDER BY ticker`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CHMarketStore) GetPrices(ctx context.Context, tickers []string, from, to time.Time) ([]models.PriceBar, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT date, ticker, close, volume
        FROM regimefolio.asset_prices
        WHERE ticker IN (%s) AND date >= ? AND date <= ?
        ORDER BY date ASC, ticker ASC
    `, placeholders(len(tickers)))

	args := make([]interface{}, 0, len(tickers)+2)
	for _, t := range tickers {
		args = append(args, t)
	}
	args = append(args, from, to)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse get_prices query error", applogger.Error(err))
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceBar, 0, 4096)
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.Ticker, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan price bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse get_prices ok",
		applogger.Int("tickers", len(tickers)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHMarketStore) GetReturns(ctx context.Context, tickers []string, from, to time.Time) (*models.ReturnTable, error) {
	q := fmt.Sprintf(`
        SELECT date, ticker, ret
        FROM regimefolio.asset_returns
        WHERE ticker IN (%s) AND date >= ? AND date <= ?
        ORDER BY date ASC, ticker ASC
    `, placeholders(len(tickers)))

	args := make([]interface{}, 0, len(tickers)+2)
	for _, t := range tickers {
		args = append(args, t)
	}
	args = append(args, from, to)

	return s.queryReturnTable(ctx, q, args...)
}

func (s *CHMarketStore) GetBenchmarkReturns(ctx context.Context, ticker string, from, to time.Time) (*models.ReturnTable, error) {
	const q = `
        SELECT date, ticker, ret
        FROM regimefolio.benchmark_returns
        WHERE ticker = ? AND date >= ? AND date <= ?
        ORDER BY date ASC
    `
	return s.queryReturnTable(ctx, q, ticker, from, to)
}

func (s *CHMarketStore) GetFeatureMatrix(ctx context.Context, from, to time.Time) (*models.FeatureMatrix, error) {
	const q = `
        SELECT date, feature, value
        FROM regimefolio.market_features
        WHERE date >= ? AND date <= ?
        ORDER BY date ASC, feature ASC
    `
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("get feature matrix: %w", err)
	}
	defer rows.Close()

	type cell struct {
		date    time.Time
		feature string
		value   float64
	}
	var cells []cell
	featureSet := make(map[string]struct{})
	var dates []time.Time
	var lastDate time.Time
	for rows.Next() {
		var c cell
		if err := rows.Scan(&c.date, &c.feature, &c.value); err != nil {
			return nil, fmt.Errorf("scan feature cell: %w", err)
		}
		cells = append(cells, c)
		featureSet[c.feature] = struct{}{}
		if !c.date.Equal(lastDate) {
			dates = append(dates, c.date)
			lastDate = c.date
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("no feature rows in range: %w", models.ErrInsufficientData)
	}

	features := make([]string, 0, len(featureSet))
	for f := range featureSet {
		features = append(features, f)
	}
	// ORDER BY already sorts cells; keep feature columns sorted too
	sortStrings(features)
	colIdx := make(map[string]int, len(features))
	for i, f := range features {
		colIdx[f] = i
	}
	rowIdx := make(map[int64]int, len(dates))
	for i, d := range dates {
		rowIdx[d.Unix()] = i
	}

	m := &models.FeatureMatrix{
		Dates:    dates,
		Features: features,
		Data:     make([]float64, len(dates)*len(features)),
	}
	for _, c := range cells {
		m.Set(rowIdx[c.date.Unix()], colIdx[c.feature], c.value)
	}
	return m, nil
}

func (s *CHMarketStore) queryReturnTable(ctx context.Context, q string, args ...interface{}) (*models.ReturnTable, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse returns query error", applogger.Error(err))
		return nil, fmt.Errorf("get returns: %w", err)
	}
	defer rows.Close()

	type obs struct {
		date   time.Time
		ticker string
		ret    float64
	}
	var all []obs
	tickerSet := make(map[string]struct{})
	dateSet := make(map[int64]time.Time)
	for rows.Next() {
		var o obs
		if err := rows.Scan(&o.date, &o.ticker, &o.ret); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		all = append(all, o)
		tickerSet[o.ticker] = struct{}{}
		dateSet[o.date.Unix()] = o.date
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	tickers := make([]string, 0, len(tickerSet))
	for t := range tickerSet {
		tickers = append(tickers, t)
	}
	sortStrings(tickers)
	dates := make([]time.Time, 0, len(dateSet))
	for _, d := range dateSet {
		dates = append(dates, d)
	}
	sortDates(dates)

	table := &models.ReturnTable{
		Dates:   dates,
		Tickers: tickers,
		Data:    make([]float64, len(dates)*len(tickers)),
	}
	for i := range table.Data {
		table.Data[i] = models.Missing()
	}

	rowIdx := make(map[int64]int, len(dates))
	for i, d := range dates {
		rowIdx[d.Unix()] = i
	}
	colIdx := make(map[string]int, len(tickers))
	for i, t := range tickers {
		colIdx[t] = i
	}
	for _, o := range all {
		table.Set(rowIdx[o.date.Unix()], colIdx[o.ticker], o.ret)
	}
	return table, nil
}

func (s *CHMarketStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHMarketStore) Close() error { return s.db.Close() }

func placeholders(n int) string {
	if n == 0 {
		return "''"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func sortStrings(s []string) { sort.Strings(s) }

func sortDates(d []time.Time) {
	sort.Slice(d, func(i, j int) bool { return d[i].Before(d[j]) })
}
