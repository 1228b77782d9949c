// Package retention enforces the journal retention policy.
//
// A Pruner deletes records older than the configured number of days and
// then trims the oldest records above the record cap. A Scheduler runs the
// pruner on a standard cron expression.
package retention
