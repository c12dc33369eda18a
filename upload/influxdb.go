package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/parser"
)

func init() {
	Register("influxdb", newInfluxSink)
}

// InfluxOptions configures the influxdb transport.
type InfluxOptions struct {
	URL         string        `mapstructure:"url"`
	Org         string        `mapstructure:"org"`
	Bucket      string        `mapstructure:"bucket"`
	Token       string        `mapstructure:"token"`
	Measurement string        `mapstructure:"measurement"`
	Meter       string        `mapstructure:"meter"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// InfluxSink writes readings as line protocol to an InfluxDB v2 write endpoint.
type InfluxSink struct {
	opts       InfluxOptions
	httpClient *http.Client
}

func newInfluxSink(options map[string]any) (Sink, error) {
	var opts InfluxOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return NewInfluxSink(opts, nil)
}

// NewInfluxSink validates opts. A nil httpClient uses a client with opts.Timeout.
func NewInfluxSink(opts InfluxOptions, httpClient *http.Client) (*InfluxSink, error) {
	if opts.URL == "" || opts.Bucket == "" {
		return nil, errors.New("influxdb transport needs url and bucket")
	}
	if opts.Measurement == "" {
		opts.Measurement = "electricity_usage"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &InfluxSink{opts: opts, httpClient: httpClient}, nil
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}

func (s *InfluxSink) Send(ctx context.Context, day calendar.Date, samples parser.SampleSet) error {
	body := s.lineProtocol(samples)
	if len(body) == 0 {
		return nil
	}

	query := url.Values{}
	query.Set("bucket", s.opts.Bucket)
	query.Set("precision", "s")
	if s.opts.Org != "" {
		query.Set("org", s.opts.Org)
	}

	endpoint := strings.TrimRight(s.opts.URL, "/") + "/api/v2/write?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "text/plain; charset=utf-8")
	if s.opts.Token != "" {
		req.Header.Set("authorization", "Token "+s.opts.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// lineProtocol renders one point per reading, timestamped at the interval start.
func (s *InfluxSink) lineProtocol(samples parser.SampleSet) []byte {
	var buf bytes.Buffer
	tags := ""
	if s.opts.Meter != "" {
		tags = ",meter=" + escapeTag(s.opts.Meter)
	}
	for _, r := range samples.Readings {
		seconds := int64(r.End.Sub(r.Start).Seconds())
		fmt.Fprintf(&buf, "%s%s kwh=%g,interval_seconds=%di %d\n",
			escapeMeasurement(s.opts.Measurement), tags, r.KWh, seconds, r.Start.Unix())
	}
	return buf.Bytes()
}

var (
	tagEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
)

func escapeTag(s string) string {
	return tagEscaper.Replace(s)
}

// escapeMeasurement escapes a measurement name, where = is literal.
func escapeMeasurement(s string) string {
	return measurementEscaper.Replace(s)
}
