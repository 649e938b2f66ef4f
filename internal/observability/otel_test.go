package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/visitproof/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   config.OTELConfig
		want config.OTELConfig
	}{
		{config.OTELConfig{}, config.OTELConfig{ServiceName: "visitproof", Endpoint: "localhost:4317"}},
		{config.OTELConfig{ServiceName: "gate-a", Endpoint: "otel:4317", SampleRatio: 0.5},
			config.OTELConfig{ServiceName: "gate-a", Endpoint: "otel:4317", SampleRatio: 0.5}},
		{config.OTELConfig{ServiceName: " ", SampleRatio: 7}, config.OTELConfig{ServiceName: "visitproof", Endpoint: "localhost:4317", SampleRatio: 1}},
		{config.OTELConfig{SampleRatio: -1}, config.OTELConfig{ServiceName: "visitproof", Endpoint: "localhost:4317"}},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Fatalf("normalize(%+v) = %+v; want %+v", tc.in, got, tc.want)
		}
	}
}

func TestSetup_Disabled_NoOp(t *testing.T) {
	preserveOTelGlobals(t)
	prev := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: false, Endpoint: "ignored:4317"}, "v0.0.0")
	if err != nil || shutdown == nil {
		t.Fatalf("Setup disabled: shutdown=%v err=%v", shutdown != nil, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown returned error: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("disabled setup must not replace the provider")
	}
}

func TestSetup_InstallsProviderWithDefaultName(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		preserveOTelGlobals(t)

		orig := newServiceResourceFn
		var gotName, gotVersion string
		newServiceResourceFn = func(ctx context.Context, name, version string) (*resource.Resource, error) {
			gotName, gotVersion = name, version
			return orig(ctx, name, version)
		}

		shutdown, err := Setup(context.Background(), config.OTELConfig{Enabled: true, Insecure: insecure, SampleRatio: 1}, "v1.2.3")
		newServiceResourceFn = orig
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		if gotName != "visitproof" || gotVersion != "v1.2.3" {
			t.Fatalf("resource got %q %q", gotName, gotVersion)
		}
		if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
			t.Fatalf("expected *sdktrace.TracerProvider")
		}

		carrier := propagation.MapCarrier{}
		ctx, span := otel.Tracer("test").Start(context.Background(), "span")
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		span.End()
		if carrier.Get("traceparent") == "" {
			t.Fatalf("trace context propagator not installed")
		}

		ct, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = shutdown(ct)
		cancel()
	}
}

func TestSetup_Errors_LeaveGlobalsIntact(t *testing.T) {
	cases := []struct {
		name  string
		apply func() func()
	}{
		{"exporter", func() func() {
			orig := newOTLPExporterFn
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("boom-exporter")
			}
			return func() { newOTLPExporterFn = orig }
		}},
		{"resource", func() func() {
			orig := newServiceResourceFn
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
			return func() { newServiceResourceFn = orig }
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			preserveOTelGlobals(t)
			t.Cleanup(tc.apply())

			prevTP := otel.GetTracerProvider()
			if _, err := Setup(context.Background(), config.OTELConfig{Enabled: true, Insecure: true}, "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != prevTP {
				t.Fatalf("tracer provider changed on failure")
			}
		})
	}
}
