// Package offline assembles the offline cache stack from a config.Config.
//
// Open wires the key-value backend, cache service, notification store,
// identity source, background refresh supervisor, health checks and
// telemetry. NewProvider builds read-through providers on top of it, and
// Run drives the periodic expiry sweep and notification ingest until the
// context ends.
//
//	cfg, _ := config.Load(ctx)
//	client, err := offline.Open(ctx, cfg)
//	if err != nil { ... }
//	defer client.Close(ctx)
//
//	detail, _ := offline.NewProvider(client, "registration-42", fetchDetail)
//	reg, err := detail.Get(ctx)
package offline
