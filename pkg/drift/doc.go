// Package drift detects when governance behaviour moves away from its
// baseline.
//
// Each run compares the current window (24h by default) against the rest of
// the baseline window (168h) per feature. A signal is raised only when the
// adverse deviation exceeds the type's threshold and both windows hold at
// least MinSamples observations. Severity grows with deviation/threshold:
// below 1.5 is low, below 2 medium, below 3 high, otherwise critical.
//
// Signals move from new to acknowledged and on to resolved or dismissed.
// While a signal of a type is open for a feature, later detections refresh
// it rather than adding another.
package drift
