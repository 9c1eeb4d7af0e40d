// Package telemetry provides observability instrumentation for cloudmoor.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a
// single bundle initialized once at startup.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Components that need a plain zerolog.Logger take it from the wrapper:
//
//	rec := reconcile.New(tel.Logger.Zerolog())
//
// The Metrics type satisfies the reconcile package's Recorder interface,
// so per-operation counters and durations flow from the reconciler
// without extra wiring:
//
//	rec.Recorder = tel.Metrics
//
// Entity-scoped instrumentation wraps an operation in a span, a timer,
// and a logger that carries the entity identity:
//
//	ic := telemetry.StartEntityOperation(ctx, "bucket", "photos", "create")
//	err := doCreate(ic.Ctx)
//	ic.End(err)
package telemetry
