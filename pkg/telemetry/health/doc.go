// Package health provides liveness, readiness and version endpoints.
//
// Components register readiness checks by name:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("journal", store.Ping)
//
// Liveness only reports that the process is up. Readiness runs every check
// concurrently, each bounded by the check timeout, and answers 503 while
// any check fails or after SetDraining(true) during shutdown.
package health
