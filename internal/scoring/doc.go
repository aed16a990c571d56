// Package scoring ranks candidate actions with a lightweight logistic
// regression model. Features are a frequency-pruned bag of tokens plus a few
// structural signals (lengths, bracket counts, JSON shape, step count).
// Training data comes from past runs joined with user feedback, labeled by
// keyword polarity. An untrained model scores every candidate at exactly 0.5
// so the beam degrades to planner order instead of failing.
package scoring
