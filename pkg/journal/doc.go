// Package journal records the outcome of every callback delivery.
//
// A Record captures one flushed batch for one rule: when the window opened
// and closed, how many statements and changesets it carried, how many HTTP
// attempts were made and how the delivery ended. Records are written
// asynchronously by a Recorder so that the delivery path never waits on
// storage.
//
// Backends live in the storage subpackage (SQLite and in-memory). The
// retention subpackage prunes old records on a cron schedule.
package journal
