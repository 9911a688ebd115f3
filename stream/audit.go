// Package stream provides DynamoDB Streams handlers that watch the
// membership tables.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/tally/store"
)

// Auditor watches the group table's stream for committed images that
// violate the membership invariant. The conditional transactions should
// make a negative member count impossible; if one ever commits, the
// auditor treats it as a fatal integrity alarm rather than a routine
// failure.
type Auditor struct {
	logger *slog.Logger
}

// NewAuditor creates a new stream auditor.
func NewAuditor(logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger}
}

// HandleGroupRecords processes group-table stream records. It returns an
// error on the first record whose new image carries a negative member
// count, so a Lambda deployment retries the batch and eventually lands it
// in a DLQ where it cannot be missed. This function is designed to be used
// as an AWS Lambda handler.
func (a *Auditor) HandleGroupRecords(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := a.auditRecord(record); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) auditRecord(record events.DynamoDBEventRecord) error {
	// REMOVE leaves no image to audit; deletes are already guarded by the
	// member_count = 0 condition.
	if record.EventName != "INSERT" && record.EventName != "MODIFY" {
		return nil
	}

	groupID := getStringAttr(record.Change.Keys, store.AttrID)
	count, ok := getNumberAttr(record.Change.NewImage, store.AttrMemberCount)
	if !ok {
		a.logger.Warn("group image missing member count",
			"eventID", record.EventID,
			"groupID", groupID,
		)
		return nil
	}

	if count < 0 {
		a.logger.Error("member count went negative",
			"eventID", record.EventID,
			"groupID", groupID,
			"memberCount", count,
		)
		return fmt.Errorf("group %s: count %d: %w", groupID, count, store.ErrCounterUnderflow)
	}

	a.logger.Debug("member count changed",
		"groupID", groupID,
		"memberCount", count,
	)
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) (int64, bool) {
	v, ok := image[key]
	if !ok || v.DataType() != events.DataTypeNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Number(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
