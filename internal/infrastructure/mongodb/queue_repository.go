package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/returns-service/internal/domain"
	"github.com/wms-platform/returns-service/pkg/cloudevents"
	"github.com/wms-platform/returns-service/pkg/kafka"
	"github.com/wms-platform/returns-service/pkg/logging"
	"github.com/wms-platform/returns-service/pkg/metrics"
	pkgmongo "github.com/wms-platform/returns-service/pkg/mongodb"
	"github.com/wms-platform/returns-service/pkg/outbox"
	outboxMongo "github.com/wms-platform/returns-service/pkg/outbox/mongodb"
)

// DefaultQueueCollection holds returned-item queue entries
const DefaultQueueCollection = "return_queue"

const aggregateType = "SalesOrderReturn"

// QueueRepository implements domain.QueueRepository using MongoDB
type QueueRepository struct {
	collection   *mongo.Collection
	db           *mongo.Database
	outboxRepo   *outboxMongo.OutboxRepository
	eventFactory *cloudevents.EventFactory
	topic        string
	logger       *logging.Logger
	metrics      *metrics.Metrics
}

// NewQueueRepository creates a new QueueRepository and ensures its indexes
func NewQueueRepository(db *mongo.Database, collectionName string, eventFactory *cloudevents.EventFactory, logger *logging.Logger, m *metrics.Metrics) *QueueRepository {
	if collectionName == "" {
		collectionName = DefaultQueueCollection
	}
	collection := db.Collection(collectionName)
	outboxRepo := outboxMongo.NewOutboxRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "processedAt", Value: 1},
				{Key: "error", Value: 1},
				{Key: "createdAt", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "salesOrderNumber", Value: 1}},
		},
	}

	_, _ = collection.Indexes().CreateMany(ctx, indexes)
	_ = outboxRepo.EnsureIndexes(ctx)

	return &QueueRepository{
		collection:   collection,
		db:           db,
		outboxRepo:   outboxRepo,
		eventFactory: eventFactory,
		topic:        kafka.TopicReturnsEvents,
		logger:       logger,
		metrics:      m,
	}
}

// GetOutboxRepository returns the outbox written by Persist
func (r *QueueRepository) GetOutboxRepository() outbox.Repository {
	return r.outboxRepo
}

// FindUnprocessedReturns retrieves eligible entries, oldest first. limit caps
// the entries read but never splits a sales order: every eligible entry of a
// sales order already in the batch is included.
func (r *QueueRepository) FindUnprocessedReturns(ctx context.Context, limit int) ([]*domain.QueueEntry, error) {
	start := time.Now()

	opts := options.Find().SetSort(queueOrder)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	entries, err := r.find(ctx, eligibleFilter(), opts)
	if err == nil && limit > 0 && len(entries) == limit {
		var rest []*domain.QueueEntry
		rest, err = r.findRemainder(ctx, entries)
		entries = append(entries, rest...)
	}
	r.observe(ctx, "find", start, err, int64(len(entries)))
	if err != nil {
		return nil, err
	}
	return entries, nil
}

var queueOrder = bson.D{
	{Key: "createdAt", Value: 1},
	{Key: "_id", Value: 1},
}

// eligibleFilter matches entries neither processed nor failed. null matches
// both a missing field and an explicit null.
func eligibleFilter() bson.M {
	return bson.M{
		"processedAt": nil,
		"error":       nil,
	}
}

// findRemainder reads the eligible entries of the batch's sales orders that
// fell past the limit
func (r *QueueRepository) findRemainder(ctx context.Context, batch []*domain.QueueEntry) ([]*domain.QueueEntry, error) {
	ids := make([]string, 0, len(batch))
	seen := make(map[string]bool)
	var orders []string
	for _, e := range batch {
		ids = append(ids, e.ID)
		if !seen[e.SalesOrderNumber] {
			seen[e.SalesOrderNumber] = true
			orders = append(orders, e.SalesOrderNumber)
		}
	}

	filter := eligibleFilter()
	filter["salesOrderNumber"] = bson.M{"$in": orders}
	filter["_id"] = bson.M{"$nin": ids}
	return r.find(ctx, filter, options.Find().SetSort(queueOrder))
}

func (r *QueueRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.QueueEntry, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find queue entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.QueueEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode queue entries: %w", err)
	}
	return entries, nil
}

// Persist writes the processedAt or error mutation of every entry of the
// reconciliation and its outcome events in one transaction
func (r *QueueRepository) Persist(ctx context.Context, rec *domain.Reconciliation) error {
	start := time.Now()
	var modified int64

	session, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if models := entryUpdates(rec.Entries); len(models) > 0 {
			res, err := r.collection.BulkWrite(sessCtx, models, options.BulkWrite().SetOrdered(true))
			if err != nil {
				return nil, fmt.Errorf("failed to update queue entries: %w", err)
			}
			modified = res.ModifiedCount
		}

		domainEvents := rec.DomainEvents()
		if len(domainEvents) > 0 {
			correlationID := logging.CorrelationIDFromContext(sessCtx)
			outboxEvents := make([]*outbox.OutboxEvent, 0, len(domainEvents))

			for _, event := range domainEvents {
				var cloudEvent *cloudevents.ReturnsCloudEvent
				switch e := event.(type) {
				case *domain.OrderReconciledEvent:
					cloudEvent = r.eventFactory.CreateOrderReconciledEvent(sessCtx, correlationID, reconciledData(e))
				case *domain.OrderReconciliationFailedEvent:
					cloudEvent = r.eventFactory.CreateOrderFailedEvent(sessCtx, correlationID, cloudevents.OrderFailedData{
						SalesOrderNumber: e.SalesOrderNumber,
						OrderID:          e.OrderID,
						QueueIDs:         e.QueueIDs,
						Stage:            string(e.Stage),
						ErrorCode:        e.ErrorCode,
						Error:            e.Reason,
					})
				default:
					continue
				}

				outboxEvent, err := outbox.NewOutboxEventFromCloudEvent(
					rec.Request.SalesOrderNumber,
					aggregateType,
					r.topic,
					cloudEvent,
				)
				if err != nil {
					return nil, fmt.Errorf("failed to create outbox event: %w", err)
				}
				outboxEvents = append(outboxEvents, outboxEvent)
			}

			if len(outboxEvents) > 0 {
				if err := r.outboxRepo.SaveAll(sessCtx, outboxEvents); err != nil {
					return nil, fmt.Errorf("failed to save outbox events: %w", err)
				}
			}
		}

		rec.ClearDomainEvents()
		return nil, nil
	})

	r.observe(ctx, "persist", start, err, modified)
	return err
}

func entryUpdates(entries []*domain.QueueEntry) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		var update bson.M
		switch {
		case e.ProcessedAt != nil:
			update = bson.M{
				"$set":   bson.M{"processedAt": *e.ProcessedAt},
				"$unset": bson.M{"error": ""},
			}
		case e.Error != nil:
			update = pkgmongo.BuildUpdate(bson.M{"error": *e.Error})
		default:
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetUpdate(update))
	}
	return models
}

func reconciledData(e *domain.OrderReconciledEvent) cloudevents.OrderReconciledData {
	data := cloudevents.OrderReconciledData{
		SalesOrderNumber: e.SalesOrderNumber,
		OrderID:          e.OrderID,
		QueueIDs:         e.QueueIDs,
		ReturnedQuantity: e.ReturnedQuantity,
		ReturnSubmitted:  e.ReturnSubmitted,
		RefundSubmitted:  e.RefundSubmitted,
		RefundAmount:     e.RefundAmount,
		ShippingRefunded: e.ShippingRefunded,
		ReturnsClosed:    e.ReturnsClosed,
	}
	for _, sf := range e.Shortfalls {
		data.UnallocatedSKUs = append(data.UnallocatedSKUs, sf.SKU)
	}
	return data
}

func (r *QueueRepository) observe(ctx context.Context, operation string, start time.Time, err error, rows int64) {
	if r.metrics != nil {
		r.metrics.RecordMongoDBOperation(r.collection.Name(), operation, err == nil)
	}
	if r.logger != nil {
		r.logger.DatabaseQuery(ctx, r.collection.Name(), operation, time.Since(start), err == nil, rows)
	}
}
