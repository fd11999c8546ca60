package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const defaultScrapeTimeout = 10 * time.Second

// Processor metric names read after a run.
const (
	metricMessagesReceived  = "pitwall_messages_received_total"
	metricAnomaliesDetected = "pitwall_anomalies_detected_total"
	metricDecodeErrors      = "pitwall_decode_errors_total"
)

// Result holds the counters scraped from the processor.
type Result struct {
	MessagesReceived float64
	DecodeErrors     float64

	// Anomalies is the anomaly counter summed per category label.
	Anomalies map[string]float64
}

// TotalAnomalies returns the sum over every category.
func (r *Result) TotalAnomalies() float64 {
	var total float64
	for _, v := range r.Anomalies {
		total += v
	}
	return total
}

// Scraper fetches one metrics endpoint.
type Scraper struct {
	url    string
	client *http.Client
}

// New returns a Scraper for url.
func New(url string) *Scraper {
	return &Scraper{url: url, client: &http.Client{Timeout: defaultScrapeTimeout}}
}

// Scrape fetches and parses the endpoint.
func (s *Scraper) Scrape(ctx context.Context) (*Result, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.url)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	res := &Result{
		MessagesReceived: sumFamily(mfs[metricMessagesReceived]),
		DecodeErrors:     sumFamily(mfs[metricDecodeErrors]),
		Anomalies:        sumByLabel(mfs[metricAnomaliesDetected], "category"),
	}
	return res, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric
// families keyed by name. Any parse error fails the whole scrape.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// sumByLabel adds up the values of mf grouped by the named label. Series
// without the label are grouped under "".
func sumByLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		key := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
				break
			}
		}
		out[key] += value(m)
	}
	return out
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
