package credential

import "errors"

var (
	ErrNotFound = errors.New("credential not found")
	// ErrAlreadyProcessed is the invalid-transition failure: the credential is
	// no longer ACTIVE (revoked, or past its natural expiry).
	ErrAlreadyProcessed = errors.New("credential already processed")
	ErrNotOwner         = errors.New("credential not owned by caller")
)
