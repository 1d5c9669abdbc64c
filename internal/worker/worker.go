package worker

import (
	"context"

	"storefront-service/internal/broker"
	"storefront-service/internal/catalog"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// CatalogSyncWorker reconciles the catalog store's denormalized copies
// from committed order events: sales counters move on every order, and
// products that cross the threshold get flagged as best sellers in the
// ledger. All of it is best-effort; the ledger never depends on it.
type CatalogSyncWorker struct {
	consumer            *broker.Consumer
	eventHandler        *broker.EventHandler
	catalog             *catalog.Client
	ledger              *store.Store
	bestSellerThreshold int64
	logger              *zap.Logger
}

// NewCatalogSyncWorker creates a new catalog sync worker
func NewCatalogSyncWorker(
	consumer *broker.Consumer,
	catalogClient *catalog.Client,
	ledger *store.Store,
	bestSellerThreshold int,
) *CatalogSyncWorker {
	w := &CatalogSyncWorker{
		consumer:            consumer,
		catalog:             catalogClient,
		ledger:              ledger,
		bestSellerThreshold: int64(bestSellerThreshold),
		logger:              util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(func(ctx context.Context, event *models.OrderPlacedEvent) error {
		return w.syncItems(ctx, event.Items)
	})
	eventHandler.OnOrderFulfilled(func(ctx context.Context, event *models.OrderFulfilledEvent) error {
		return w.syncItems(ctx, event.Items)
	})
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *CatalogSyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting catalog sync worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CatalogSyncWorker) Stop() error {
	w.logger.Info("Stopping catalog sync worker")
	return w.consumer.Close()
}

func (w *CatalogSyncWorker) syncItems(ctx context.Context, items []models.OrderItemData) error {
	for _, item := range items {
		salesCount, err := w.catalog.IncrementSales(ctx, item.ProductID, item.Quantity)
		if err != nil {
			w.logger.Error("Failed to bump catalog sales counter",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
			continue
		}

		if salesCount >= w.bestSellerThreshold {
			w.promoteBestSeller(ctx, item.ProductID)
		}
	}
	return nil
}

// promoteBestSeller flags a product once its ledger sales cross the
// threshold. The catalog counter is only a hint; the ledger count is
// checked before the flag is written anywhere.
func (w *CatalogSyncWorker) promoteBestSeller(ctx context.Context, productID int64) {
	ledgerCount, err := w.ledger.ProductSalesCount(ctx, productID)
	if err != nil {
		w.logger.Error("Failed to read ledger sales count",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return
	}
	if ledgerCount < w.bestSellerThreshold {
		return
	}

	if err := w.ledger.MarkBestSeller(ctx, productID); err != nil {
		w.logger.Error("Failed to flag best seller",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return
	}

	product, err := w.ledger.GetProductByID(ctx, productID)
	if err != nil {
		w.logger.Warn("Failed to load product for catalog refresh",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return
	}
	if err := w.catalog.UpsertProductCopy(ctx, product); err != nil {
		w.logger.Warn("Failed to refresh catalog product copy",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}
