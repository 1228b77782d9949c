// Package delta defines the change records flowing through the notifier:
// terms, statements and changesets, plus decoders for the bodies upstream
// stores send.
//
// Two wire shapes are understood. The native shape carries one direction
// and an origin per changeset:
//
//	[{"origin": "...", "direction": "insert", "statements": [{"subject": {...}, ...}]}]
//
// The mu shape groups inserts and deletes together and takes its origin
// from a request header:
//
//	{"changeSets": [{"insert": [...], "delete": [...]}]}
package delta
