package training

// DefaultThreshold is the unlocked-sample count at which a category becomes
// eligible for training.
const DefaultThreshold = 5

// ShouldTrigger reports whether a category with pendingCount unlocked samples
// should start a training run. A category already in progress never
// re-triggers; that is what makes a threshold crossing fire exactly once.
//
// This is a pure function shared by the automatic post-upload path and the
// manual "train now" path so both use identical semantics. threshold <= 0
// falls back to [DefaultThreshold].
func ShouldTrigger(pendingCount int, inProgress bool, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return !inProgress && pendingCount >= threshold
}
