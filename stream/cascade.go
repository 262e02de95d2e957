// Package stream provides DynamoDB Streams handlers for cascade operations.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/platformkit/entstore/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to delete the
// descendants of removed entities: when an entity with id "a/b" is removed,
// every entity under "a/b/" goes with it. Descendant removals feed back
// through the stream, so deep hierarchies unwind level by level.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only removals cascade. TTL reclamation also surfaces as REMOVE, so
	// expired ephemeral entities take down their descendants too.
	if record.EventName != "REMOVE" {
		return nil
	}

	pk := getStringAttr(record.Change.Keys, "pk")
	id := getStringAttr(record.Change.Keys, "sk")
	if pk == "" || id == "" {
		return nil
	}

	accountID, subscriptionID, entityType, ok := splitPartitionKey(pk)
	if !ok {
		h.logger.Warn("skipping record with malformed partition key", "pk", pk)
		return nil
	}

	removed, err := h.store.Delete(ctx, entityType, store.DeleteKey{
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		IDPrefix:       id + "/",
	})
	switch {
	case errors.Is(err, store.ErrUnknownEntityType):
		h.logger.Warn("skipping record with unregistered entity type", "entityType", entityType)
		return nil
	case errors.Is(err, store.ErrInvalidArgument):
		// The prefix is below the safety floor, which only happens for
		// single-character ids; such entities cannot anchor a cascade.
		h.logger.Warn("skipping cascade below prefix floor", "id", id)
		return nil
	case err != nil:
		return fmt.Errorf("cascade delete under %s: %w", id, err)
	}

	if removed {
		h.logger.Info("cascade delete completed",
			"entityType", entityType,
			"parentID", id,
		)
	}
	return nil
}

// splitPartitionKey decomposes the composite partition key back into its
// account, subscription, and entity type components.
func splitPartitionKey(pk string) (accountID, subscriptionID, entityType string, ok bool) {
	parts := strings.SplitN(pk, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
