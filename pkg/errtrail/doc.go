// Package errtrail is an error-telemetry ingestion pipeline.
//
// It accepts raw errors, strings, or arbitrary values from application code,
// normalizes them into a canonical Event, enriches them with breadcrumbs,
// user/device context and tags, filters and transforms them according to
// policy, and delivers them to a pluggable backend adapter. Deliveries that
// fail while the backend is unreachable are queued durably and retried with
// backoff until they succeed or exhaust their retry budget.
//
// # Core Components
//
//   - Event: the canonical error representation with level, fingerprint,
//     breadcrumbs, and contextual metadata
//   - Normalizer: converts arbitrary inputs into Events and derives a stable
//     grouping fingerprint
//   - BreadcrumbLog: a bounded, time-ordered breadcrumb ring buffer
//   - Policy: the filter/transform chain (min level, ignore patterns, custom
//     filters, sampling, BeforeSend)
//   - Registry: adapter lifecycle management and enriched dispatch
//   - Queue: the durable offline retry queue
//   - Pipeline: the public surface tying everything together
//
// # Quick Start
//
//	p, err := errtrail.New(
//	    errtrail.WithAdapter("stderr", stderr.Factory()),
//	    errtrail.WithEnvironment("production"),
//	)
//	if err != nil { ... }
//	defer p.Close()
//
//	if err := p.UseAdapter(ctx, "stderr", errtrail.AdapterConfig{}); err != nil { ... }
//	p.CaptureError(ctx, err, nil)
//
// # Design Principles
//
//   - Captures never take the application down: panics in subscribers and
//     interceptors are contained, and adapter failures degrade to queueing
//   - Policy rejections are intentional discards, never retried and never
//     counted as failures
//   - An Event's timestamp and fingerprint are fixed at normalization time;
//     enrichment only adds fields
package errtrail
