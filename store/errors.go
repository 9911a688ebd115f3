package store

import "errors"

var (
	// ErrAlreadyExists is returned when a create targets an id that is taken.
	ErrAlreadyExists = errors.New("tally: entity already exists")

	// ErrGroupNotFound is returned when a referenced group doesn't exist.
	ErrGroupNotFound = errors.New("tally: group not found")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("tally: user not found")

	// ErrGroupNotEmpty is returned when deleting a group that still has members.
	ErrGroupNotEmpty = errors.New("tally: group still has members")

	// ErrConcurrentModification is returned when a user changed between the
	// snapshot read and the transaction submit. Safe to retry the whole
	// read-modify sequence; the store never retries internally.
	ErrConcurrentModification = errors.New("tally: user was modified concurrently")

	// ErrCounterUnderflow is returned when a decrement guard trips. It means
	// a member count no longer matches the true membership and must be
	// treated as an integrity alarm, not a routine failure.
	ErrCounterUnderflow = errors.New("tally: member count would go negative")

	// ErrTransient is returned when the store serialized this transaction
	// behind a conflicting one. No state changed; retry with backoff.
	ErrTransient = errors.New("tally: transaction conflict")

	// ErrUnknownOutcome wraps a transaction submission that was cancelled or
	// timed out in flight. The transaction may or may not have committed;
	// callers must not assume the counters are in their pre-call state.
	ErrUnknownOutcome = errors.New("tally: transaction outcome unknown")
)
