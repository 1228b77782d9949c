// Package rules holds the rule table: each rule pairs a match pattern over
// statement components with an HTTP callback and delivery options.
//
// A rule file looks like:
//
//	# rules.yaml
//	- id: jobs
//	  match:
//	    predicate: { type: uri, value: "http://www.w3.org/1999/02/22-rdf-syntax-ns#type" }
//	    object: { type: uri, value: "http://vocab.deri.ie/cogs#Job" }
//	  callback: { url: "http://vocab-fetch/delta", method: POST }
//	  options: { resourceFormat: v0.0.1, gracePeriod: 1000, ignoreFromSelf: true }
//
// Tables are built once and never mutated; a changed file produces a new
// table.
package rules
