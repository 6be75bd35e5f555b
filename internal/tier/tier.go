package tier

// Subscription tiers in ascending order of privilege.
const (
	Free       = "free"
	Starter    = "starter"
	Pro        = "pro"
	Enterprise = "enterprise"
)

var levels = map[string]int{
	Free:       0,
	Starter:    1,
	Pro:        2,
	Enterprise: 3,
}

// Level returns the privilege level of a tier. Unknown tiers map to the
// lowest level rather than failing, which matches treating a caller with no
// subscription as free for listing purposes.
func Level(t string) int {
	return levels[t]
}

// IsAuthorized reports whether a caller at callerTier may access content
// requiring requiredTier.
func IsAuthorized(callerTier, requiredTier string) bool {
	return Level(callerTier) >= Level(requiredTier)
}

// Order returns the tiers in ascending order of privilege.
func Order() []string {
	return []string{Free, Starter, Pro, Enterprise}
}
