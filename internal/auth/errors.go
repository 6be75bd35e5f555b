package auth

// AuthenticationError reports a missing, invalid, expired or revoked
// credential, or an inactive account. The message never distinguishes a
// wrong key from an unknown one.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

// AuthorizationError reports that the caller's tier does not cover the
// requested resource. The message names the required tier and the caller's
// current plan.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}
