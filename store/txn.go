package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tally/internal/condition"
)

type opKind int

const (
	opPut opKind = iota
	opUpdate
	opDelete
)

// writeOp is one conditional mutation inside a transaction, tagged with
// the typed error to surface when its condition fails.
type writeOp struct {
	kind  opKind
	table string
	key   PK                             // update and delete
	item  map[string]types.AttributeValue // put
	cond  condition.Cond

	// updateExpr and its placeholder maps apply to update ops only. The
	// maps are merged with the condition's at compile time; both sets feed
	// the same transact item.
	updateExpr   string
	updateNames  map[string]string
	updateValues map[string]types.AttributeValue

	// failErr is surfaced when this op's condition fails.
	failErr error

	// absentErr, when set, is surfaced instead of failErr if the store
	// reports that no prior item existed. Requires returnOld.
	absentErr error

	// returnOld asks DynamoDB to attach the prior item to the cancellation
	// reason when the condition fails.
	returnOld bool
}

func putOp(table string, item map[string]types.AttributeValue, cond condition.Cond, failErr error) writeOp {
	return writeOp{
		kind:    opPut,
		table:   table,
		item:    item,
		cond:    cond,
		failErr: failErr,
	}
}

func updateOp(table string, key PK, updateExpr string, names map[string]string, values map[string]types.AttributeValue, cond condition.Cond, failErr error) writeOp {
	return writeOp{
		kind:         opUpdate,
		table:        table,
		key:          key,
		updateExpr:   updateExpr,
		updateNames:  names,
		updateValues: values,
		cond:         cond,
		failErr:      failErr,
	}
}

func deleteOp(table string, key PK, cond condition.Cond, failErr error) writeOp {
	return writeOp{
		kind:    opDelete,
		table:   table,
		key:     key,
		cond:    cond,
		failErr: failErr,
	}
}

// validate rejects malformed ops before they reach DynamoDB.
func (op writeOp) validate() error {
	if op.table == "" {
		return errors.New("tally: write op missing table")
	}
	if op.cond.Expr == "" {
		return errors.New("tally: write op missing condition")
	}
	if op.failErr == nil {
		return errors.New("tally: write op missing condition-failure error")
	}
	switch op.kind {
	case opPut:
		if op.item == nil {
			return errors.New("tally: put op missing item")
		}
	case opUpdate:
		if op.key == nil {
			return errors.New("tally: update op missing key")
		}
		if op.updateExpr == "" {
			return errors.New("tally: update op missing update expression")
		}
	case opDelete:
		if op.key == nil {
			return errors.New("tally: delete op missing key")
		}
	}
	if op.absentErr != nil && !op.returnOld {
		return errors.New("tally: absent mapping requires returning the old item")
	}
	return nil
}

func (op writeOp) compile() types.TransactWriteItem {
	returnValues := types.ReturnValuesOnConditionCheckFailureNone
	if op.returnOld {
		returnValues = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	switch op.kind {
	case opPut:
		return types.TransactWriteItem{
			Put: &types.Put{
				TableName:                           aws.String(op.table),
				Item:                                op.item,
				ConditionExpression:                 aws.String(op.cond.Expr),
				ExpressionAttributeNames:            op.cond.Names,
				ExpressionAttributeValues:           op.cond.Values,
				ReturnValuesOnConditionCheckFailure: returnValues,
			},
		}
	case opUpdate:
		return types.TransactWriteItem{
			Update: &types.Update{
				TableName:                           aws.String(op.table),
				Key:                                 op.key,
				UpdateExpression:                    aws.String(op.updateExpr),
				ConditionExpression:                 aws.String(op.cond.Expr),
				ExpressionAttributeNames:            condition.MergeNames(op.cond.Names, op.updateNames),
				ExpressionAttributeValues:           condition.MergeValues(op.cond.Values, op.updateValues),
				ReturnValuesOnConditionCheckFailure: returnValues,
			},
		}
	default:
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                           aws.String(op.table),
				Key:                                 op.key,
				ConditionExpression:                 aws.String(op.cond.Expr),
				ExpressionAttributeNames:            op.cond.Names,
				ExpressionAttributeValues:           op.cond.Values,
				ReturnValuesOnConditionCheckFailure: returnValues,
			},
		}
	}
}

// transact submits the ops as one all-or-nothing transaction and maps
// condition failures to each op's typed error.
func (s *Store) transact(ctx context.Context, ops ...writeOp) error {
	items := make([]types.TransactWriteItem, len(ops))
	for i, op := range ops {
		if err := op.validate(); err != nil {
			return err
		}
		items[i] = op.compile()
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})

	return mapTransactError(err, ops)
}

// mapTransactError translates a TransactWriteItems failure into the typed
// error of the first op whose condition failed. A cancellation caused only
// by conflicting concurrent transactions maps to ErrTransient. An error on
// a cancelled or expired context is wrapped as ErrUnknownOutcome, since
// the transaction may have committed anyway.
func mapTransactError(err error, ops []writeOp) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnknownOutcome, err)
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		sawConflict := false
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				if i >= len(ops) {
					return err
				}
				op := ops[i]
				if op.absentErr != nil && len(reason.Item) == 0 {
					return op.absentErr
				}
				return op.failErr
			case "TransactionConflict":
				sawConflict = true
			}
		}
		if sawConflict {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	return err
}
