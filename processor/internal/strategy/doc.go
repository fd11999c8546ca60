// Package strategy scores pit-stop urgency for each car.
//
// score.go provides the pure Config.Compute(Input) function that turns four
// unweighted factors into a composite 0–100 urgency score:
// tire wear(40%) + speed loss(30%) + brake degradation(20%) + anomaly
// penalty(10%). The score is classified into critical/high/medium/low tiers
// using configurable cutoffs.
//
// scorer.go provides the stateful Scorer that tracks, per car, the highest
// speed seen in the current lap so that speed loss can be expressed relative
// to it. Scorer accepts an injectable clock so eviction is deterministic in
// tests.
//
// Default tiers: Critical ≥90, High ≥75, Medium ≥50, Low otherwise.
package strategy
