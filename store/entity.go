package store

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names for the two tables. These strings are embedded in
// condition expressions sent to DynamoDB; changing them breaks existing
// tables.
const (
	AttrID          = "id"
	AttrGroupID     = "group_id"
	AttrName        = "name"
	AttrMemberCount = "member_count"
)

// Group is a group record. MemberCount is maintained exclusively by the
// store's mutations and always equals the number of users whose GroupID
// references this group.
type Group struct {
	ID          string `dynamodbav:"id"`
	MemberCount int64  `dynamodbav:"member_count"`
}

// User is a user record. GroupID references an existing group for as long
// as the record exists.
type User struct {
	ID      string `dynamodbav:"id"`
	GroupID string `dynamodbav:"group_id"`
	Name    string `dynamodbav:"name"`
}

// PK is a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Key returns the primary key for an id in either table.
func Key(id string) PK {
	return PK{
		AttrID: &types.AttributeValueMemberS{Value: id},
	}
}
