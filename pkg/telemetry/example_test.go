package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudmoor/cloudmoor/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Entity-scoped logger
	logger := tel.Logger.WithEntity("bucket", "photos").WithOp("create")

	logger.Debug("Issuing create call")
	logger.Info("Bucket created")

	// Log with error
	err := fmt.Errorf("vendor returned 503")
	logger.WithError(err).Warn("Readiness poll failed, retrying")

	// Output varies, no output specified
}

// Example_operationMetrics demonstrates recording reconciliation metrics.
func Example_operationMetrics() {
	cfg := telemetry.DefaultConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Operation counters, as the reconciler records them
	tel.Metrics.RecordOperation("bucket", "create", "success", 1.2)
	tel.Metrics.RecordVendorCall("bucket", "PUT", 300*time.Millisecond)
	tel.Metrics.RecordAdoption("cdn")
	tel.Metrics.RecordDriftSkipped("subscription")

	// Output varies, no output specified
}

// Example_entityOperation demonstrates instrumenting one entity operation.
func Example_entityOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartEntityOperation(ctx, "database", "orders", "update")
	err := func(ctx context.Context) error {
		// Vendor calls happen here
		return nil
	}(ic.Ctx)
	ic.End(err)

	// Output varies, no output specified
}

// Example_events demonstrates subscribing to lifecycle events.
func Example_events() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(ev telemetry.Event) {
		fmt.Printf("%s: %s\n", ev.Type, ev.Message)
	}, telemetry.FilterByType(telemetry.EventTypeEntityAdopted))

	_ = tel.Events.PublishEntityCreated("bucket", "photos", "b-1")
	_ = tel.Events.PublishEntityAdopted("bucket", "logs", "b-2")

	// Output: entity.adopted: Adopted pre-existing bucket logs (b-2); it will never be deleted here
}
