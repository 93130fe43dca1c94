package session

import "errors"

var (
	// ErrNotFound means resolution was exhausted: the scan never existed,
	// expired, or (after an ownership violation) is being withheld.
	ErrNotFound = errors.New("scan not found")

	// ErrStillRunning distinguishes "exists but incomplete" from ErrNotFound
	// so clients never confuse an in-flight scan with an expired one.
	ErrStillRunning = errors.New("scan still running")

	// ErrNoStrategies means entitlement filtering left nothing to schedule.
	ErrNoStrategies = errors.New("no entitled strategies to run")
)
