// Package risk aggregates risk events and decision outcomes into a
// systemic risk score.
//
// The score is 100 * (1 - exp(-raw/saturation)) where raw is the weighted
// count of risk factors over the lookback window. It rises with every new
// factor and never reaches 100.
package risk
