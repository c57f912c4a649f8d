// Package catalog holds the model catalog: per-model token prices, quality
// scores, capability tags, lifecycle status and the static fallback chain.
//
// The catalog is read-mostly. A Catalog publishes immutable Snapshots
// through an atomic pointer, so selection reads never take a lock. New
// model sets arrive out-of-band, from a YAML file (Reload, optionally
// driven by a Watcher) or programmatically (Replace). Every model set is
// validated before it is installed: ids are unique, costs non-negative,
// every required quality dimension is scored in [0, 100], every fallback
// reference exists and following chains transitively never loops. A model
// set that fails validation leaves the current snapshot in place.
//
// Deprecated and preview models stay retrievable with Get and All but are
// left out of Active, which is what selection considers by default.
package catalog
