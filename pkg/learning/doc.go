// Package learning groups outcome-tagged decisions into advisory patterns.
//
// Decisions are grouped by a fingerprint of feature, action and context. A
// group becomes a Pattern once it has enough samples and its outcomes agree
// strongly enough. Patterns feed the recommender, the simulator's incident
// prediction and the explainer; they never alter a decision.
package learning
