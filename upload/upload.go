// Package upload forwards verified daily samples to a telemetry sink.
//
// Each supported sink is a Sink implementation registered under the name used
// in the configuration's transport field. Adding a sink means registering a
// new Factory; Adapter never branches on the name.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/roessland/wattwich/calendar"
	"github.com/roessland/wattwich/parser"
)

// TransportNone disables uploading.
const TransportNone = "none"

var ErrUnknownTransport = errors.New("unknown transport")

// Sink delivers one day's samples to a telemetry backend.
type Sink interface {
	Name() string
	Send(ctx context.Context, day calendar.Date, samples parser.SampleSet) error
}

// Factory builds a sink from the opaque transport_config map.
type Factory func(options map[string]any) (Sink, error)

var registry = map[string]Factory{}

// Register makes a sink available under name.
func Register(name string, factory Factory) {
	registry[strings.ToLower(name)] = factory
}

// Transports lists registered sink names.
func Transports() []string {
	names := make([]string, 0, len(registry)+1)
	names = append(names, TransportNone)
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// New builds the sink named by transport. An empty or "none" transport
// returns a nil sink.
func New(transport string, options map[string]any) (Sink, error) {
	name := strings.ToLower(strings.TrimSpace(transport))
	if name == "" || name == TransportNone {
		return nil, nil
	}
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownTransport, transport, strings.Join(Transports(), ", "))
	}
	sink, err := factory(options)
	if err != nil {
		return nil, fmt.Errorf("failed to configure %s transport: %w", name, err)
	}
	return sink, nil
}

// decodeOptions maps transport_config onto a typed options struct.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// Adapter dispatches uploads to the configured sink.
type Adapter struct {
	sink   Sink
	logger *slog.Logger
}

// NewAdapter wraps sink. A nil sink makes every upload a no-op.
func NewAdapter(sink Sink, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{sink: sink, logger: logger}
}

// Transport returns the active sink name.
func (a *Adapter) Transport() string {
	if a.sink == nil {
		return TransportNone
	}
	return a.sink.Name()
}

// Upload sends samples and reports whether the sink accepted them. Failures
// are logged here; callers treat uploads as best effort.
func (a *Adapter) Upload(ctx context.Context, day calendar.Date, samples parser.SampleSet) bool {
	if a.sink == nil {
		a.logger.Debug("no transport configured, skipping upload", "day", day.String())
		return true
	}

	if err := a.sink.Send(ctx, day, samples); err != nil {
		a.logger.Error("upload failed", "transport", a.sink.Name(), "day", day.String(), "error", err)
		return false
	}

	a.logger.Info("uploaded samples", "transport", a.sink.Name(), "day", day.String(), "readings", samples.Len(), "kwh", samples.Total())
	return true
}
