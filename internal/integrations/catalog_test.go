package integrations

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupohub/lupohub/internal/database"
)

func newMockCatalog(t *testing.T) (*MySQLCatalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := NewMySQLCatalog(database.NewStore(db))
	c.randN = func(int) int { return 7 }
	return c, mock
}

var (
	errDuplicate     = &mysql.MySQLError{Number: database.ErrCodeDuplicateKey, Message: "Duplicate entry"}
	errUnknownColumn = &mysql.MySQLError{Number: database.ErrCodeUnknownColumn, Message: "Unknown column"}
)

func TestUpsertColor_CodeCollision(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM colors WHERE name = \\?").
		WithArgs("Negro").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO colors \(code, name, hex\)`).
		WithArgs("NEG", "Negro", "#000000").WillReturnError(errDuplicate)
	mock.ExpectExec(`INSERT INTO colors \(code, name, hex\)`).
		WithArgs("NEG07", "Negro", "#000000").WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	var id int64
	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		var err error
		id, err = tx.UpsertColor(context.Background(), "Negro")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertColor_RetriesExhausted(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM colors").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	for i := 0; i <= maxColorCodeRetries; i++ {
		mock.ExpectExec("INSERT INTO colors").WillReturnError(errDuplicate)
	}
	mock.ExpectRollback()

	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		_, err := tx.UpsertColor(context.Background(), "Negro")
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still taken")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertColor_WithoutHexColumn(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM colors").
		WithArgs("Fucsia").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO colors \(code, name, hex\)`).
		WithArgs("FUC", "Fucsia", nil).WillReturnError(errUnknownColumn)
	mock.ExpectExec(`INSERT INTO colors \(code, name\) VALUES`).
		WithArgs("FUC", "Fucsia").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	var id int64
	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		var err error
		id, err = tx.UpsertColor(context.Background(), "Fucsia")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSize_WithoutNameColumn(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM sizes WHERE size_code = \\?").
		WithArgs("XL").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO sizes \(size_code, name\)`).
		WithArgs("XL", "XL").WillReturnError(errUnknownColumn)
	mock.ExpectExec(`INSERT INTO sizes \(size_code\) VALUES`).
		WithArgs("XL").WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectCommit()

	var id int64
	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		var err error
		id, err = tx.UpsertSize(context.Background(), "XL", "XL")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneVariants(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT v.id FROM product_variants v").
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM order_items").
		WithArgs(int64(2)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM order_items").
		WithArgs(int64(3)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec("DELETE FROM stocks WHERE variant_id = \\?").
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM product_variants WHERE id = \\?").
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE pc FROM product_colors pc").
		WithArgs(int64(10)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var res PruneResult
	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		var err error
		res, err = tx.PruneVariants(context.Background(), 10, []int64{1})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []int64{2}, res.Referenced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductColor_ReturnsExistingID(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectBegin()
	mock.ExpectExec("ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID\\(id\\)").
		WithArgs(int64(10), int64(4)).WillReturnResult(sqlmock.NewResult(55, 0))
	mock.ExpectCommit()

	var id int64
	err := c.InTx(context.Background(), func(tx CatalogTx) error {
		var err error
		id, err = tx.UpsertProductColor(context.Background(), 10, 4)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
