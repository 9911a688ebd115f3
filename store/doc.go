// Package store maintains group membership with a denormalized member
// count over two DynamoDB tables.
//
// Each user belongs to exactly one group, and each group carries a
// member_count that always equals the number of users referencing it.
// Every mutation is a single TransactWriteItems call whose per-item
// condition expressions enforce that invariant server-side: either all
// writes commit against one consistent snapshot, or none do. There are no
// in-process locks and no coordinator; DynamoDB is the sole arbiter of
// conflicting writes.
//
// # Operations
//
//   - [Store.CreateGroup] - insert an empty group
//   - [Store.CreateUser] - insert a user and increment its group's count
//   - [Store.MoveUser] - move a user between groups, or rename in place
//   - [Store.DeleteUser] - remove a user and decrement its group's count
//   - [Store.DeleteGroup] - remove a group, only while its count is zero
//
// MoveUser and DeleteUser read the user first and condition their
// transactions on the group id they saw. If another caller mutates the
// same user in the gap, the condition fails and the operation returns
// [ErrConcurrentModification] without touching any counter. That spurious
// rejection under contention is the accepted cost of never letting the
// count diverge; callers retry the whole call if they care.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrAlreadyExists] - create on a taken id
//   - [ErrGroupNotFound] / [ErrUserNotFound] - referenced entity absent
//   - [ErrGroupNotEmpty] - delete blocked by a nonzero member count
//   - [ErrConcurrentModification] - snapshot guard failed; retry the call
//   - [ErrCounterUnderflow] - integrity alarm, never expected in practice
//   - [ErrTransient] - transaction conflict; retry with backoff
//   - [ErrUnknownOutcome] - submission cancelled in flight; the
//     transaction may or may not have committed
//
// The store never retries internally and never logs; retry and backoff
// policy belong to the caller.
package store
