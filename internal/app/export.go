package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"spotwatch/internal/domain"
)

// Export renders price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if err := validateSeries(opts.Family, opts.Region); err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Sampler.ReferenceWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	points, err := store.ListPricePoints(ctx, opts.Family, from, to, opts.Region)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Str("family", opts.Family).Msg("no price points found for export window")
		return nil
	}

	series := groupByZone(points)
	perSeries := opts.MaxPoints / len(series)
	if perSeries < 2 {
		perSeries = 2
	}
	exported := 0
	for i := range series {
		series[i].points = downsamplePoints(series[i].points, perSeries)
		exported += len(series[i].points)
	}
	a.Logger.Info().Int("total", len(points)).Int("exported", exported).Int("series", len(series)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, series); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, opts.Family, series); err != nil {
			return err
		}
	}

	return nil
}

type zoneSeries struct {
	region string
	zone   string
	points []domain.PricePoint
}

func (z zoneSeries) name() string {
	return z.region + "/" + z.zone
}

func groupByZone(points []domain.PricePoint) []zoneSeries {
	index := make(map[string]int)
	var out []zoneSeries
	for _, p := range points {
		key := p.Region + "/" + p.Zone
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, zoneSeries{region: p.Region, zone: p.Zone})
		}
		out[i].points = append(out[i].points, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name() < out[j].name() })
	for i := range out {
		pts := out[i].points
		sort.Slice(pts, func(a, b int) bool { return pts[a].ObservedAt.Before(pts[b].ObservedAt) })
	}
	return out
}

func downsamplePoints(points []domain.PricePoint, max int) []domain.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]domain.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, series []zoneSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "instance_family", "region", "zone", "price_usd_per_hour"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range series {
		for _, p := range s.points {
			record := []string{
				p.ObservedAt.UTC().Format(time.RFC3339),
				p.InstanceFamily,
				p.Region,
				p.Zone,
				p.Price.String(),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writePointsPNG(path, family string, series []zoneSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	chartSeries := make([]chart.Series, 0, len(series))
	for _, s := range series {
		// go-chart cannot draw a line through a single point
		if len(s.points) < 2 {
			continue
		}
		x := make([]time.Time, len(s.points))
		y := make([]float64, len(s.points))
		for i, p := range s.points {
			x[i] = p.ObservedAt
			y[i] = p.Price.InexactFloat64()
		}
		chartSeries = append(chartSeries, chart.TimeSeries{
			Name:    s.name(),
			XValues: x,
			YValues: y,
		})
	}
	if len(chartSeries) == 0 {
		return errors.New("not enough points to render a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  family + " spot price",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD/h)",
			ValueFormatter: priceFormatter,
		},
		Series: chartSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
