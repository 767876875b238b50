// Package recommend proposes budget limits from observed consumption.
//
// The recommended cap is the peak per-period consumption plus a headroom
// margin, inflated by a safety margin when overrides or incidents are
// elevated. Recommendations backed by too little data or with low
// confidence are returned as withheld.
package recommend
