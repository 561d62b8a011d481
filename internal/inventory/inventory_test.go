package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/models"
)

type pushCall struct {
	variantID int64
	stock     int
	skip      []models.Platform
}

type fakePusher struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (f *fakePusher) PushVariantStock(_ context.Context, variantID int64, stock int, skip ...models.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{variantID: variantID, stock: stock, skip: skip})
	return f.err
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakePusher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	pusher := &fakePusher{}
	return NewService(database.NewStore(db), pusher), mock, pusher
}

func expectChange(mock sqlmock.Sqlmock, variantID int64, current *int, next int, movementType models.MovementType, reference any) {
	rows := sqlmock.NewRows([]string{"stock"})
	prev := 0
	if current != nil {
		rows.AddRow(*current)
		prev = *current
	}
	mock.ExpectQuery(`SELECT stock FROM stocks WHERE variant_id = \? FOR UPDATE`).
		WithArgs(variantID).WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO stocks").
		WithArgs(variantID, next).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(variantID, prev, next, next-prev, string(movementType), reference).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func intp(v int) *int { return &v }

func TestUpdateVariantStock(t *testing.T) {
	svc, mock, pusher := newTestService(t)

	mock.ExpectBegin()
	expectChange(mock, 5, intp(10), 3, models.MovementManual, "ajuste")
	mock.ExpectCommit()

	change, err := svc.UpdateVariantStock(context.Background(), 5, 3, models.MovementManual, "ajuste", true)
	require.NoError(t, err)
	assert.Equal(t, StockChange{VariantID: 5, Previous: 10, New: 3}, *change)
	assert.Equal(t, -7, change.Delta())
	require.Len(t, pusher.calls, 1)
	assert.Equal(t, pushCall{variantID: 5, stock: 3}, pusher.calls[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVariantStock_NoSyncAndPushFailure(t *testing.T) {
	svc, mock, pusher := newTestService(t)
	pusher.err = errors.New("queue down")

	mock.ExpectBegin()
	expectChange(mock, 5, nil, 4, models.MovementImport, nil)
	mock.ExpectCommit()
	mock.ExpectBegin()
	expectChange(mock, 5, intp(4), 6, models.MovementManual, nil)
	mock.ExpectCommit()

	_, err := svc.UpdateVariantStock(context.Background(), 5, 4, models.MovementImport, "", false)
	require.NoError(t, err)
	assert.Empty(t, pusher.calls)

	change, err := svc.UpdateVariantStock(context.Background(), 5, 6, models.MovementManual, "", true)
	require.NoError(t, err, "push failures never fail the write")
	assert.Equal(t, 6, change.New)
	assert.Len(t, pusher.calls, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVariantStock_Negative(t *testing.T) {
	svc, mock, _ := newTestService(t)

	_, err := svc.UpdateVariantStock(context.Background(), 5, -1, models.MovementManual, "", true)
	assert.ErrorIs(t, err, ErrNegativeStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductStockForOrder(t *testing.T) {
	svc, mock, pusher := newTestService(t)

	mock.ExpectQuery("SELECT variant_id, quantity FROM order_items").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "quantity"}).AddRow(1, 5).AddRow(2, 1).AddRow(3, 2))

	// Clamped: 3 - 5 -> 0
	mock.ExpectBegin()
	expectChange(mock, 1, intp(3), 0, models.MovementWholesaleOrder, "Pedido #9")
	mock.ExpectCommit()

	// Fails, the pass continues.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stock FROM stocks WHERE variant_id = \? FOR UPDATE`).
		WithArgs(int64(2)).WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectChange(mock, 3, intp(10), 8, models.MovementWholesaleOrder, "Pedido #9")
	mock.ExpectCommit()

	errs := svc.DeductStockForOrder(context.Background(), 9)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "variante 2")

	require.Len(t, pusher.calls, 2)
	assert.Equal(t, pushCall{variantID: 1, stock: 0}, pusher.calls[0])
	assert.Equal(t, pushCall{variantID: 3, stock: 8}, pusher.calls[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeductStockForOrder_LinesFail(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery("SELECT variant_id, quantity FROM order_items").
		WillReturnError(errors.New("connection reset"))

	errs := svc.DeductStockForOrder(context.Background(), 9)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "pedido 9")
}

func TestRestoreStockForOrder(t *testing.T) {
	svc, mock, pusher := newTestService(t)

	mock.ExpectQuery("SELECT variant_id, quantity FROM order_items").
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "quantity"}).AddRow(7, 2))
	mock.ExpectBegin()
	expectChange(mock, 7, nil, 2, models.MovementReturn, "Cancelación pedido #4")
	mock.ExpectCommit()

	errs := svc.RestoreStockForOrder(context.Background(), 4)
	assert.Empty(t, errs)
	assert.NotNil(t, errs)
	require.Len(t, pusher.calls, 1)
	assert.Equal(t, 2, pusher.calls[0].stock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveVariant(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery("WHERE p.sku = \\? AND c.code = \\? AND s.size_code = \\?").
		WithArgs("REM-01", "NEG", "M").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("WHERE p.sku = \\?").
		WithArgs("REM-01", "NEG", "XXL").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := svc.ResolveVariant(context.Background(), "REM-01", "NEG", "M")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = svc.ResolveVariant(context.Background(), "REM-01", "NEG", "XXL")
	assert.ErrorIs(t, err, ErrVariantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve(t *testing.T) {
	svc, mock, _ := newTestService(t)

	_, err := svc.Resolve(context.Background(), VariantKey{SKU: "REM-01", ColorCode: "NEG"})
	assert.ErrorIs(t, err, ErrMissingVariantKey)
	assert.Equal(t, "missing variantId or sku+colorCode+sizeCode", err.Error())

	id := int64(3)
	mock.ExpectQuery("SELECT id FROM product_variants WHERE id = \\?").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = svc.Resolve(context.Background(), VariantKey{VariantID: &id, SKU: "REM-01", ColorCode: "NEG", SizeCode: "M"})
	assert.ErrorIs(t, err, ErrVariantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarketplaceSale(t *testing.T) {
	svc, mock, pusher := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(5))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stock_movements`).
		WithArgs(int64(3), "TN-ORDER-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectChange(mock, 3, intp(5), 3, models.MovementTiendaNubeSale, "TN-ORDER-1")
	mock.ExpectCommit()

	applied, err := svc.ApplyMarketplaceSale(context.Background(), models.PlatformTiendaNube, 3, 2, "TN-ORDER-1")
	require.NoError(t, err)
	assert.True(t, applied)
	require.Len(t, pusher.calls, 1)
	assert.Equal(t, []models.Platform{models.PlatformTiendaNube}, pusher.calls[0].skip)

	// Redelivery of the same webhook.
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stock_movements`).
		WithArgs(int64(3), "TN-ORDER-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	applied, err = svc.ApplyMarketplaceSale(context.Background(), models.PlatformTiendaNube, 3, 2, "TN-ORDER-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, pusher.calls, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMovements(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM stock_movements m WHERE m.variant_id = \? AND m.movement_type = \?`).
		WithArgs(int64(7), "DEVOLUCION").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY m.created_at DESC, m.id DESC LIMIT \? OFFSET \?`).
		WithArgs(int64(7), "DEVOLUCION", 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "variant_id", "previous_stock", "new_stock", "quantity_change",
			"movement_type", "reference", "created_at", "sku", "name", "size_code",
		}).AddRow(1, 7, 0, 2, 2, "DEVOLUCION", "Cancelación pedido #4", time.Now(), nil, nil, nil))

	movements, total, err := svc.ListMovements(context.Background(), MovementFilter{
		VariantID: 7, Type: models.MovementReturn, Page: 2, Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, movements, 1)
	assert.Nil(t, movements[0].SKU, "pruned variant keeps its history")
	assert.Equal(t, models.MovementReturn, movements[0].MovementType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMovementFilter_Normalize(t *testing.T) {
	f := MovementFilter{Limit: 10000}
	f.normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 500, f.Limit)
}

func TestApplyImportedStock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := database.NewStore(db)
	ctx := context.Background()

	// Differing level: IMPORTACION_TN movement.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT stock FROM stocks WHERE variant_id = \? FOR UPDATE`).
		WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(2))
	expectChange(mock, 4, intp(2), 9, models.MovementImport, "TN-100")
	mock.ExpectCommit()

	err = store.Tx(ctx, func(tx *database.Store) error {
		level, changed, err := ApplyImportedStock(ctx, tx, 4, intp(9), "TN-100")
		assert.Equal(t, 9, level)
		assert.True(t, changed)
		return err
	})
	require.NoError(t, err)

	// Untracked upstream: the row is only ensured.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT IGNORE INTO stocks").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT stock FROM stocks WHERE variant_id = \?`).
		WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(9))
	mock.ExpectCommit()

	err = store.Tx(ctx, func(tx *database.Store) error {
		level, changed, err := ApplyImportedStock(ctx, tx, 4, nil, "TN-100")
		assert.Equal(t, 9, level)
		assert.False(t, changed)
		return err
	})
	require.NoError(t, err)

	// Same level: nothing written.
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(9))
	mock.ExpectCommit()

	err = store.Tx(ctx, func(tx *database.Store) error {
		_, changed, err := ApplyImportedStock(ctx, tx, 4, intp(9), "TN-100")
		assert.False(t, changed)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
