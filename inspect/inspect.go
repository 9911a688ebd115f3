// Package inspect provides diagnostic scans over the membership tables:
// rendering table contents, recomputing the membership invariant, and
// clearing tables between test runs. It never mutates counters; all
// invariant maintenance lives in the store package.
package inspect

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/tally/store"
)

// Client is the subset of the DynamoDB API this package uses. Satisfied
// by *dynamodb.Client.
type Client interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// scanPageSize keeps scan pages small enough that each page's deletes fit
// in one BatchWriteItem call (limit 25).
const scanPageSize = 20

// Dump renders a table's full contents to w, key columns first. Intended
// for diagnostics only; it reads nothing but attribute metadata and the
// scanned items.
func Dump(ctx context.Context, client Client, table string, w io.Writer) error {
	desc, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return fmt.Errorf("describe %s: %w", table, err)
	}

	keyCols := make([]string, 0, 2)
	keyType := make(map[string]types.KeyType)
	for _, ks := range desc.Table.KeySchema {
		keyCols = append(keyCols, *ks.AttributeName)
		keyType[*ks.AttributeName] = ks.KeyType
	}

	var rows []map[string]interface{}
	seen := make(map[string]bool)
	var extraCols []string

	paginator := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName: aws.String(table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		for _, raw := range page.Items {
			row := make(map[string]interface{})
			if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
				return fmt.Errorf("unmarshal item: %w", err)
			}
			for attr := range row {
				if !seen[attr] && keyType[attr] == "" {
					seen[attr] = true
					extraCols = append(extraCols, attr)
				}
			}
			rows = append(rows, row)
		}
	}
	sort.Strings(extraCols)
	cols := append(keyCols, extraCols...)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", table)
	headers := make([]string, len(cols))
	for i, col := range cols {
		switch keyType[col] {
		case types.KeyTypeHash:
			headers[i] = col + " (PK)"
		case types.KeyTypeRange:
			headers[i] = col + " (SK)"
		default:
			headers[i] = col
		}
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			if v, ok := row[col]; ok {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// Drift reports one group whose recorded member count disagrees with the
// actual number of users referencing it.
type Drift struct {
	GroupID string

	// Recorded is the group's stored member_count. Zero when Missing.
	Recorded int64

	// Actual is the number of user records whose group_id references the
	// group.
	Actual int64

	// Missing reports that users reference the group but no group record
	// exists.
	Missing bool
}

// FindDrift scans both tables and recomputes true membership per group.
// A nil result means the invariant holds for every group. The two scans
// are not one consistent snapshot, so run it only against quiesced tables.
func FindDrift(ctx context.Context, client Client, tables store.Tables) ([]Drift, error) {
	actual := make(map[string]int64)
	userPages := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName: aws.String(tables.Users),
	})
	for userPages.HasMorePages() {
		page, err := userPages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", tables.Users, err)
		}
		for _, raw := range page.Items {
			var u store.User
			if err := attributevalue.UnmarshalMap(raw, &u); err != nil {
				return nil, fmt.Errorf("unmarshal user: %w", err)
			}
			actual[u.GroupID]++
		}
	}

	var drifts []Drift
	known := make(map[string]bool)
	groupPages := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName: aws.String(tables.Groups),
	})
	for groupPages.HasMorePages() {
		page, err := groupPages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", tables.Groups, err)
		}
		for _, raw := range page.Items {
			var g store.Group
			if err := attributevalue.UnmarshalMap(raw, &g); err != nil {
				return nil, fmt.Errorf("unmarshal group: %w", err)
			}
			known[g.ID] = true
			if g.MemberCount != actual[g.ID] {
				drifts = append(drifts, Drift{
					GroupID:  g.ID,
					Recorded: g.MemberCount,
					Actual:   actual[g.ID],
				})
			}
		}
	}

	for groupID, n := range actual {
		if !known[groupID] {
			drifts = append(drifts, Drift{
				GroupID: groupID,
				Actual:  n,
				Missing: true,
			})
		}
	}

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].GroupID < drifts[j].GroupID })
	return drifts, nil
}

// Clear deletes every item in a table via paged scans and batched
// deletes. Test setup only; it bypasses every invariant the store
// enforces.
func Clear(ctx context.Context, client Client, table string) error {
	desc, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return fmt.Errorf("describe %s: %w", table, err)
	}

	projection := make([]string, 0, 2)
	names := make(map[string]string)
	for i, ks := range desc.Table.KeySchema {
		placeholder := fmt.Sprintf("#k%d", i)
		projection = append(projection, placeholder)
		names[placeholder] = *ks.AttributeName
	}

	paginator := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName:                aws.String(table),
		Limit:                    aws.Int32(scanPageSize),
		ProjectionExpression:     aws.String(strings.Join(projection, ", ")),
		ExpressionAttributeNames: names,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if len(page.Items) == 0 {
			continue
		}

		requests := make([]types.WriteRequest, len(page.Items))
		for i, key := range page.Items {
			requests[i] = types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			}
		}

		pending := map[string][]types.WriteRequest{table: requests}
		for len(pending) > 0 {
			out, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch delete from %s: %w", table, err)
			}
			pending = out.UnprocessedItems
			if len(pending[table]) == 0 {
				break
			}
		}
	}
	return nil
}
