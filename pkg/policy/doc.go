// Package policy defines governance policies and resolves which one applies
// to a request.
//
// Policies are held in an immutable, versioned Snapshot. A Store swaps
// snapshots atomically after validating the complete resulting policy set, so
// readers never see a partially applied change and never take a lock.
//
// Resolution picks the enabled policy with the highest priority whose target
// matches the request. Ties go to the most recently updated policy, then to
// the lexically smaller id. When nothing matches, the default global policy
// applies; a snapshot cannot exist without one.
package policy
