package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tally/internal/condition"
)

// Client is the subset of the DynamoDB API the store uses. Satisfied by
// *dynamodb.Client.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store executes membership mutations against DynamoDB. It holds no
// mutable state and is safe for concurrent use; all consistency comes from
// the per-item conditions DynamoDB evaluates inside each transaction.
type Store struct {
	client Client
	tables Tables
}

// New creates a new Store instance.
func New(client Client, tables Tables) *Store {
	tables.validate()
	return &Store{
		client: client,
		tables: tables,
	}
}

// Tables returns the table names the store operates on.
func (s *Store) Tables() Tables {
	return s.tables
}

// CreateGroup inserts an empty group. Returns ErrAlreadyExists if the id
// is taken.
func (s *Store) CreateGroup(ctx context.Context, id string) error {
	item, err := attributevalue.MarshalMap(Group{ID: id})
	if err != nil {
		return fmt.Errorf("marshal group: %w", err)
	}

	return s.transact(ctx,
		putOp(s.tables.Groups, item, condition.NotExists(AttrID), ErrAlreadyExists),
	)
}

// CreateUser inserts a user into a group and increments the group's member
// count, as one transaction. Returns ErrAlreadyExists if the user id is
// taken, ErrGroupNotFound if the group doesn't exist; on either failure
// nothing is written.
func (s *Store) CreateUser(ctx context.Context, id, groupID, name string) error {
	item, err := attributevalue.MarshalMap(User{ID: id, GroupID: groupID, Name: name})
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	return s.transact(ctx,
		putOp(s.tables.Users, item, condition.NotExists(AttrID), ErrAlreadyExists),
		s.addMemberCount(groupID, +1, condition.Exists(AttrID), ErrGroupNotFound),
	)
}

// MoveUser replaces a user's group and name. The replacement is guarded by
// the group id read just before the transaction, so an interleaved
// mutation of the same user surfaces as ErrConcurrentModification instead
// of corrupting the counters; callers may retry the whole call. A pure
// rename (same group) touches no counters.
func (s *Store) MoveUser(ctx context.Context, id, newGroupID, newName string) error {
	prev, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(User{ID: id, GroupID: newGroupID, Name: newName})
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	guard := condition.And(
		condition.Exists(AttrID),
		condition.StringEquals(AttrGroupID, prev.GroupID),
	)
	ops := []writeOp{
		putOp(s.tables.Users, item, guard, ErrConcurrentModification),
	}

	if newGroupID != prev.GroupID {
		ops = append(ops,
			s.addMemberCount(newGroupID, +1, condition.Exists(AttrID), ErrGroupNotFound),
			s.decrementGuarded(prev.GroupID),
		)
	}

	return s.transact(ctx, ops...)
}

// DeleteUser removes a user and decrements its group's member count, as
// one transaction. The delete is guarded by the group id read just before
// the transaction; see MoveUser.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	prev, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	guard := condition.And(
		condition.Exists(AttrID),
		condition.StringEquals(AttrGroupID, prev.GroupID),
	)

	return s.transact(ctx,
		deleteOp(s.tables.Users, Key(id), guard, ErrConcurrentModification),
		s.decrementGuarded(prev.GroupID),
	)
}

// DeleteGroup removes a group, conditioned on its member count being zero.
// Returns ErrGroupNotEmpty while users still reference it, ErrGroupNotFound
// if it doesn't exist.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	op := deleteOp(s.tables.Groups,
		Key(id),
		condition.And(condition.Exists(AttrID), condition.IsZero(AttrMemberCount)),
		ErrGroupNotEmpty,
	)
	// The single condition can't tell "absent" from "nonempty"; the prior
	// item attached to the cancellation reason can.
	op.returnOld = true
	op.absentErr = ErrGroupNotFound

	return s.transact(ctx, op)
}

// GetGroup reads a group by id.
func (s *Store) GetGroup(ctx context.Context, id string) (*Group, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Groups),
		Key:            Key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrGroupNotFound
	}

	var g Group
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal group: %w", err)
	}
	return &g, nil
}

// GetUser reads a user by id. The read is strongly consistent: MoveUser
// and DeleteUser condition their transactions on the snapshot it returns.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Users),
		Key:            Key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrUserNotFound
	}

	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// addMemberCount builds the group-counter mutation. delta is +1 or -1.
func (s *Store) addMemberCount(groupID string, delta int, cond condition.Cond, failErr error) writeOp {
	return updateOp(s.tables.Groups,
		Key(groupID),
		"ADD #member_count :delta",
		map[string]string{"#member_count": AttrMemberCount},
		map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
		},
		cond,
		failErr,
	)
}

// decrementGuarded decrements a group's member count, refusing to drive it
// negative. A trip of this guard means the invariant was already broken.
func (s *Store) decrementGuarded(groupID string) writeOp {
	return s.addMemberCount(groupID, -1,
		condition.And(condition.Exists(AttrID), condition.Positive(AttrMemberCount)),
		ErrCounterUnderflow,
	)
}
