package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
	"github.com/rs/zerolog/log"
)

// UpdateVariantStock sets the stock of a variant and appends a movement in
// one transaction. With syncExternal the new level is then pushed to every
// linked marketplace; push failures are logged and never undo the write.
func (s *Service) UpdateVariantStock(ctx context.Context, variantID int64, newStock int, movementType models.MovementType, reference string, syncExternal bool) (*StockChange, error) {
	if newStock < 0 {
		return nil, ErrNegativeStock
	}
	change, err := s.adjust(ctx, variantID, func(int) int { return newStock }, movementType, reference)
	if err != nil {
		return nil, err
	}
	if syncExternal {
		s.push(ctx, change)
	}
	return change, nil
}

// adjust locks the stock row, computes the new level from the current one
// and writes both the level and the movement.
func (s *Service) adjust(ctx context.Context, variantID int64, next func(current int) int, movementType models.MovementType, reference string) (*StockChange, error) {
	var change *StockChange
	err := s.store.Tx(ctx, func(tx *database.Store) error {
		c, err := applyChange(ctx, tx, variantID, next, movementType, reference)
		change = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func applyChange(ctx context.Context, tx *database.Store, variantID int64, next func(current int) int, movementType models.MovementType, reference string) (*StockChange, error) {
	// 1. --- Read current level (row lock) ---
	current := 0
	err := tx.Get(ctx, "SELECT stock FROM stocks WHERE variant_id = ? FOR UPDATE", []any{variantID}, &current)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("read stock of variant %d: %w", variantID, err)
	}

	updated := next(current)

	// 2. --- Upsert level ---
	_, err = tx.Execute(ctx,
		"INSERT INTO stocks (variant_id, stock) VALUES (?, ?) ON DUPLICATE KEY UPDATE stock = VALUES(stock)",
		variantID, updated)
	if err != nil {
		return nil, fmt.Errorf("write stock of variant %d: %w", variantID, err)
	}

	// 3. --- Append movement ---
	_, err = tx.Execute(ctx, `
		INSERT INTO stock_movements (variant_id, previous_stock, new_stock, quantity_change, movement_type, reference)
		VALUES (?, ?, ?, ?, ?, ?)`,
		variantID, current, updated, updated-current, string(movementType), nullable(reference))
	if err != nil {
		return nil, fmt.Errorf("record movement of variant %d: %w", variantID, err)
	}

	return &StockChange{VariantID: variantID, Previous: current, New: updated}, nil
}

// ApplyImportedStock reconciles a variant with an upstream level inside the
// caller's transaction. A differing number is written as an IMPORTACION_TN
// movement without propagation; nil (untracked upstream) only ensures the
// row exists. It returns the resulting local level.
func ApplyImportedStock(ctx context.Context, tx *database.Store, variantID int64, upstream *int, reference string) (level int, changed bool, err error) {
	if upstream == nil || *upstream < 0 {
		if _, err := tx.Execute(ctx, "INSERT IGNORE INTO stocks (variant_id, stock) VALUES (?, 0)", variantID); err != nil {
			return 0, false, fmt.Errorf("ensure stock of variant %d: %w", variantID, err)
		}
		err := tx.Get(ctx, "SELECT stock FROM stocks WHERE variant_id = ?", []any{variantID}, &level)
		return level, false, err
	}

	current := 0
	err = tx.Get(ctx, "SELECT stock FROM stocks WHERE variant_id = ? FOR UPDATE", []any{variantID}, &current)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, false, fmt.Errorf("read stock of variant %d: %w", variantID, err)
	}
	exists := err == nil
	if exists && current == *upstream {
		return current, false, nil
	}
	if !exists && *upstream == 0 {
		_, err := tx.Execute(ctx, "INSERT INTO stocks (variant_id, stock) VALUES (?, 0)", variantID)
		return 0, false, err
	}

	target := *upstream
	if _, err := applyChange(ctx, tx, variantID, func(int) int { return target }, models.MovementImport, reference); err != nil {
		return 0, false, err
	}
	return target, true, nil
}

func (s *Service) push(ctx context.Context, change *StockChange, skip ...models.Platform) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.PushVariantStock(ctx, change.VariantID, change.New, skip...); err != nil {
		log.Warn().Err(err).Int64("variant_id", change.VariantID).Int("stock", change.New).Msg("external stock push not queued")
	}
}

// CurrentStock returns the level of a variant, 0 when it has no row.
func (s *Service) CurrentStock(ctx context.Context, variantID int64) (int, error) {
	stock := 0
	err := s.store.Get(ctx, "SELECT stock FROM stocks WHERE variant_id = ?", []any{variantID}, &stock)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}
	return stock, nil
}

// SyncVariant pushes the current level of a variant to every marketplace.
func (s *Service) SyncVariant(ctx context.Context, variantID int64) (int, error) {
	if _, err := s.Resolve(ctx, VariantKey{VariantID: &variantID}); err != nil {
		return 0, err
	}
	stock, err := s.CurrentStock(ctx, variantID)
	if err != nil {
		return 0, err
	}
	if s.pusher == nil {
		return stock, nil
	}
	return stock, s.pusher.PushVariantStock(ctx, variantID, stock)
}

type orderLine struct {
	variantID int64
	quantity  int
}

func (s *Service) orderLines(ctx context.Context, orderID int64) ([]orderLine, error) {
	var lines []orderLine
	err := s.store.Query(ctx, "SELECT variant_id, quantity FROM order_items WHERE order_id = ? ORDER BY id", []any{orderID}, func(rows *sql.Rows) error {
		var l orderLine
		if err := rows.Scan(&l.variantID, &l.quantity); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	})
	return lines, err
}

// DeductStockForOrder subtracts every line of an order, clamping at zero.
// Errors are collected per line; the pass never stops early.
func (s *Service) DeductStockForOrder(ctx context.Context, orderID int64) []string {
	reference := fmt.Sprintf("Pedido #%d", orderID)
	return s.applyOrder(ctx, orderID, models.MovementWholesaleOrder, reference, func(current, qty int) int {
		return max(0, current-qty)
	})
}

// RestoreStockForOrder adds every line of an order back.
func (s *Service) RestoreStockForOrder(ctx context.Context, orderID int64) []string {
	reference := fmt.Sprintf("Cancelación pedido #%d", orderID)
	return s.applyOrder(ctx, orderID, models.MovementReturn, reference, func(current, qty int) int {
		return current + qty
	})
}

func (s *Service) applyOrder(ctx context.Context, orderID int64, movementType models.MovementType, reference string, next func(current, qty int) int) []string {
	errs := []string{}

	lines, err := s.orderLines(ctx, orderID)
	if err != nil {
		return append(errs, fmt.Sprintf("pedido %d: %v", orderID, err))
	}

	for _, line := range lines {
		qty := line.quantity
		change, err := s.adjust(ctx, line.variantID, func(current int) int { return next(current, qty) }, movementType, reference)
		if err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Int64("variant_id", line.variantID).Msg("order stock pass")
			errs = append(errs, fmt.Sprintf("variante %d: %v", line.variantID, err))
			continue
		}
		s.push(ctx, change)
	}
	return errs
}

// ApplyMarketplaceSale deducts a sale reported by origin, clamping at zero,
// and pushes the new level to every other marketplace. A (variant,
// reference) pair is applied at most once; applied is false for repeats.
func (s *Service) ApplyMarketplaceSale(ctx context.Context, origin models.Platform, variantID int64, qty int, reference string) (applied bool, err error) {
	movementType := models.MovementTiendaNubeSale
	if origin == models.PlatformMercadoLibre {
		movementType = models.MovementMercadoLibre
	}

	var change *StockChange
	err = s.store.Tx(ctx, func(tx *database.Store) error {
		// Lock first so concurrent deliveries of the same webhook serialize.
		var locked int
		lockErr := tx.Get(ctx, "SELECT stock FROM stocks WHERE variant_id = ? FOR UPDATE", []any{variantID}, &locked)
		if lockErr != nil && !errors.Is(lockErr, database.ErrNotFound) {
			return lockErr
		}

		var seen int
		if err := tx.Get(ctx, "SELECT COUNT(*) FROM stock_movements WHERE variant_id = ? AND reference = ?", []any{variantID, reference}, &seen); err != nil {
			return err
		}
		if seen > 0 {
			return nil
		}

		c, err := applyChange(ctx, tx, variantID, func(current int) int { return max(0, current-qty) }, movementType, reference)
		change = c
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply %s sale: %w", origin, err)
	}
	if change == nil {
		return false, nil
	}
	s.push(ctx, change, origin)
	return true, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
