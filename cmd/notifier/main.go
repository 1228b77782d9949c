// Notifier watches changesets of triple statements and notifies HTTP
// subscribers about the statements they care about.
//
// Each rule pairs a statement pattern with a callback. Matching statements
// are collected per rule until the rule's grace period passes quietly, then
// delivered as one batch. Changesets the notifier caused itself can be
// skipped per rule.
//
// Usage:
//
//	# Start the notifier with default configuration
//	notifier run
//
//	# Start with custom configuration file
//	notifier run --config /path/to/config.yaml
//
//	# Validate a rule file
//	notifier rules validate --file rules.yaml
//
//	# Show which rules a changeset would fire
//	notifier match --rules rules.yaml --changeset changeset.json
//
//	# Inspect recent deliveries
//	notifier journal query --outcome failed --since 1h
package main

func main() {
	Execute()
}
