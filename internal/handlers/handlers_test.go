package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lupohub/lupohub/internal/auth"
	"github.com/lupohub/lupohub/internal/database"
	"github.com/lupohub/lupohub/internal/inventory"
	"github.com/lupohub/lupohub/internal/middleware"
	"github.com/lupohub/lupohub/internal/models"
)

type recordingPusher struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (p *recordingPusher) PushVariantStock(_ context.Context, variantID int64, stock int, _ ...models.Platform) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[int64]int{}
	}
	p.calls[variantID] = stock
	return nil
}

type testEnv struct {
	h      *Handlers
	mock   sqlmock.Sqlmock
	pusher *recordingPusher
	tokens *auth.Tokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := database.NewStore(db)
	pusher := &recordingPusher{}
	tokens := auth.NewTokens("test-secret", 2*time.Hour)
	return &testEnv{
		h: &Handlers{
			Store:     store,
			Inventory: inventory.NewService(store, pusher),
			Tokens:    tokens,
		},
		mock:   mock,
		pusher: pusher,
		tokens: tokens,
	}
}

// withClaims stands in for AuthMiddleware.
func withClaims(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ClaimsKey, &auth.Claims{UserID: 1, Email: "ana@lupo.com", Role: role})
		c.Next()
	}
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- Login ---

var loginQuery = regexp.QuoteMeta("SELECT id, name, email, password_hash, role, created_at, updated_at FROM users WHERE email = ?")

func userRow(id int64, hash string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "role", "created_at", "updated_at"}).
		AddRow(id, "Ana", "ana@lupo.com", hash, models.RoleAdmin, now, now)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secreto123"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       string
		setup      func(mock sqlmock.Sqlmock)
		wantStatus int
		wantMsg    string
	}{
		{
			name: "valid credentials",
			body: `{"email":"ana@lupo.com","password":"secreto123"}`,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loginQuery).WithArgs("ana@lupo.com").WillReturnRows(userRow(7, string(hash)))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "wrong password",
			body: `{"email":"ana@lupo.com","password":"otra"}`,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loginQuery).WithArgs("ana@lupo.com").WillReturnRows(userRow(7, string(hash)))
			},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Contraseña incorrecta",
		},
		{
			name: "unknown email",
			body: `{"email":"nadie@lupo.com","password":"x"}`,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(loginQuery).WithArgs("nadie@lupo.com").
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "Usuario no encontrado",
		},
		{
			name:       "missing password",
			body:       `{"email":"ana@lupo.com"}`,
			setup:      func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Error de validación",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env.mock)
			r := gin.New()
			r.POST("/api/auth/login", env.h.Login)

			w := doJSON(r, http.MethodPost, "/api/auth/login", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
			if tt.wantStatus == http.StatusOK {
				claims, err := env.tokens.ValidateToken(body["token"].(string))
				require.NoError(t, err)
				assert.Equal(t, int64(7), claims.UserID)
				assert.Equal(t, models.RoleAdmin, claims.Role)
				assert.NotContains(t, body["user"], "password_hash")
			}
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestLogin_RehashesLegacyPassword(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery(loginQuery).WithArgs("ana@lupo.com").WillReturnRows(userRow(7, "lupo2024"))
	env.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = ? WHERE id = ?")).
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := gin.New()
	r.POST("/api/auth/login", env.h.Login)
	w := doJSON(r, http.MethodPost, "/api/auth/login", `{"email":"ana@lupo.com","password":"lupo2024"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

// --- Stock ---

func TestPatchStock_MissingKey(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.PATCH("/api/products/stock", withClaims(models.RoleWarehouse), env.h.PatchStock)

	for _, body := range []string{
		`{"stock":5}`,
		`{"sku":"LP-100","colorCode":"NEG","stock":5}`,
	} {
		w := doJSON(r, http.MethodPatch, "/api/products/stock", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "missing variantId or sku+colorCode+sizeCode", decode(t, w)["message"])
	}
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestPatchStock_ByNaturalKey(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("SELECT v.id").WithArgs("LP-100", "NEG", "M").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(31))
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT stock FROM stocks WHERE variant_id = \? FOR UPDATE`).WithArgs(int64(31)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(4))
	env.mock.ExpectExec("INSERT INTO stocks").WithArgs(int64(31), 12).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(31), 4, 12, 8, string(models.MovementManual), "Ajuste manual (ana@lupo.com)").
		WillReturnResult(sqlmock.NewResult(1, 1))
	env.mock.ExpectCommit()

	r := gin.New()
	r.PATCH("/api/products/stock", withClaims(models.RoleWarehouse), env.h.PatchStock)
	w := doJSON(r, http.MethodPatch, "/api/products/stock", `{"sku":"LP-100","colorCode":"NEG","sizeCode":"M","stock":12}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 31, body["variantId"])
	assert.EqualValues(t, 4, body["previousStock"])
	assert.EqualValues(t, 12, body["newStock"])
	assert.Equal(t, map[int64]int{31: 12}, env.pusher.calls)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestPatchStock_NegativeRejected(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.PATCH("/api/products/stock", env.h.PatchStock)

	w := doJSON(r, http.MethodPatch, "/api/products/stock", `{"variantId":3,"stock":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

// --- Order status ---

var lockStatus = regexp.QuoteMeta("SELECT status FROM orders WHERE id = ? FOR UPDATE")

func TestUpdateProduct_RejectsBlankRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"Empty SKU", `{"sku":""}`, "sku"},
		{"Whitespace name", `{"name":"   "}`, "name"},
		{"Empty category", `{"category":"","basePrice":"10"}`, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			r := gin.New()
			r.PUT("/api/products/:id", env.h.UpdateProduct)

			w := doJSON(r, http.MethodPut, "/api/products/3", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			fields, _ := decode(t, w)["fields"].(map[string]any)
			assert.Equal(t, "required", fields[tt.field])
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateProduct_BlankDescriptionClears(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.PUT("/api/products/:id", env.h.UpdateProduct)

	env.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM products WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	env.mock.ExpectExec(regexp.QuoteMeta("UPDATE products SET name = ?, description = ? WHERE id = ?")).
		WithArgs("Top Lupo", nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(r, http.MethodPut, "/api/products/3", `{"name":" Top Lupo ","description":""}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdateCustomer_RejectsBlankName(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.PUT("/api/customers/:id", env.h.UpdateCustomer)

	w := doJSON(r, http.MethodPut, "/api/customers/5", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_ConfirmDeductsOnce(t *testing.T) {
	env := newTestEnv(t)
	m := env.mock
	m.ExpectBegin()
	m.ExpectQuery(lockStatus).WithArgs(int64(42)).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Borrador"))
	m.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ? WHERE id = ?")).
		WithArgs("Confirmado", int64(42)).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	m.ExpectQuery("SELECT variant_id, quantity FROM order_items").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "quantity"}).AddRow(11, 2).AddRow(12, 5))
	// Line 1: 5 -> 3.
	m.ExpectBegin()
	m.ExpectQuery(`SELECT stock FROM stocks`).WithArgs(int64(11)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(5))
	m.ExpectExec("INSERT INTO stocks").WithArgs(int64(11), 3).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(11), 5, 3, -2, string(models.MovementWholesaleOrder), "Pedido #42").
		WillReturnResult(sqlmock.NewResult(1, 1))
	m.ExpectCommit()
	// Line 2: clamped at zero.
	m.ExpectBegin()
	m.ExpectQuery(`SELECT stock FROM stocks`).WithArgs(int64(12)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(1))
	m.ExpectExec("INSERT INTO stocks").WithArgs(int64(12), 0).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(12), 1, 0, -1, string(models.MovementWholesaleOrder), "Pedido #42").
		WillReturnResult(sqlmock.NewResult(2, 1))
	m.ExpectCommit()

	r := gin.New()
	r.PATCH("/api/orders/:id/status", env.h.UpdateOrderStatus)
	w := doJSON(r, http.MethodPatch, "/api/orders/42/status", `{"status":"Confirmado"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Borrador", body["previousStatus"])
	assert.Equal(t, "Confirmado", body["status"])
	assert.Empty(t, body["stockErrors"])
	assert.Equal(t, map[int64]int{11: 3, 12: 0}, env.pusher.calls)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestUpdateOrderStatus_SameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(lockStatus).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Confirmado"))
	env.mock.ExpectCommit()

	r := gin.New()
	r.PATCH("/api/orders/:id/status", env.h.UpdateOrderStatus)
	w := doJSON(r, http.MethodPatch, "/api/orders/42/status", `{"status":"Confirmado"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["stockErrors"])
	assert.Empty(t, env.pusher.calls)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_CancelRestores(t *testing.T) {
	env := newTestEnv(t)
	m := env.mock
	m.ExpectBegin()
	m.ExpectQuery(lockStatus).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Preparación"))
	m.ExpectExec("UPDATE orders SET status").WithArgs("Cancelado", int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()
	m.ExpectQuery("SELECT variant_id, quantity FROM order_items").WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"variant_id", "quantity"}).AddRow(11, 2))
	m.ExpectBegin()
	m.ExpectQuery(`SELECT stock FROM stocks`).WithArgs(int64(11)).WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(3))
	m.ExpectExec("INSERT INTO stocks").WithArgs(int64(11), 5).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(11), 3, 5, 2, string(models.MovementReturn), "Cancelación pedido #9").
		WillReturnResult(sqlmock.NewResult(1, 1))
	m.ExpectCommit()

	r := gin.New()
	r.PATCH("/api/orders/:id/status", env.h.UpdateOrderStatus)
	w := doJSON(r, http.MethodPatch, "/api/orders/9/status", `{"status":"Cancelado"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[int64]int{11: 5}, env.pusher.calls)
	assert.NoError(t, m.ExpectationsWereMet())
}

func TestUpdateOrderStatus_Invalid(t *testing.T) {
	env := newTestEnv(t)
	r := gin.New()
	r.PATCH("/api/orders/:id/status", env.h.UpdateOrderStatus)

	w := doJSON(r, http.MethodPatch, "/api/orders/42/status", `{"status":"Entregado"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPatch, "/api/orders/abc/status", `{"status":"Confirmado"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(lockStatus).WithArgs(int64(404)).WillReturnRows(sqlmock.NewRows([]string{"status"}))
	env.mock.ExpectRollback()

	r := gin.New()
	r.PATCH("/api/orders/:id/status", env.h.UpdateOrderStatus)
	w := doJSON(r, http.MethodPatch, "/api/orders/404/status", `{"status":"Confirmado"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

// --- Picking ---

func TestUpdatePicking_RequiresConfirmedOrder(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(lockStatus).WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Borrador"))
	env.mock.ExpectRollback()

	r := gin.New()
	r.PATCH("/api/orders/:id/picking", env.h.UpdatePicking)
	w := doJSON(r, http.MethodPatch, "/api/orders/5/picking", `{"pickedBy":"Juan","items":[{"itemId":1,"picked":1}]}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestUpdatePicking_ForeignItem(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(lockStatus).WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Confirmado"))
	env.mock.ExpectQuery("SELECT id, quantity, picked FROM order_items").WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "quantity", "picked"}).AddRow(1, 2, 0))
	env.mock.ExpectRollback()

	r := gin.New()
	r.PATCH("/api/orders/:id/picking", env.h.UpdatePicking)
	w := doJSON(r, http.MethodPatch, "/api/orders/5/picking", `{"pickedBy":"Juan","items":[{"itemId":99,"picked":1}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

// --- Helpers ---

func TestBuildUpdate(t *testing.T) {
	name := "Remera"
	empty := ""
	query, args, ok := buildUpdate("products", 3, []assignment{
		{"name", optional(&name)},
		{"description", optional(nil)},
		{"tienda_nube_id", optional(&empty)},
	})
	require.True(t, ok)
	assert.Equal(t, "UPDATE products SET name = ?, tienda_nube_id = ? WHERE id = ?", query)
	assert.Equal(t, []any{"Remera", nil, int64(3)}, args)

	_, _, ok = buildUpdate("products", 3, []assignment{{"name", skip}})
	assert.False(t, ok)
}

func TestGroupByColor(t *testing.T) {
	v := func(id, colorID int64, code string, stock int) models.VariantDetail {
		return models.VariantDetail{Variant: models.Variant{ID: id}, ColorID: colorID, ColorCode: code, Stock: stock}
	}
	groups := groupByColor([]models.VariantDetail{
		v(1, 20, "NEG", 3), v(2, 10, "BLA", 1), v(3, 20, "NEG", 4),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "NEG", groups[0].ColorCode)
	assert.Equal(t, 7, groups[0].TotalStock)
	assert.Len(t, groups[0].Sizes, 2)
	assert.Equal(t, "BLA", groups[1].ColorCode)
	assert.Equal(t, 1, groups[1].TotalStock)
	assert.Empty(t, groupByColor(nil))
}

func TestPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		query             string
		page, per, offset int
	}{
		{"", 1, 20, 0},
		{"?page=3&per_page=10", 3, 10, 20},
		{"?page=0&per_page=500", 1, 100, 0},
		{"?page=x&per_page=-4", 1, 20, 0},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/orders"+tt.query, nil)

		page, per, offset := pagination(c)
		assert.Equal(t, []int{tt.page, tt.per, tt.offset}, []int{page, per, offset}, tt.query)
	}
	assert.Equal(t, 3, newPage([]int{1}, 1, 20, 41).TotalPages)
}
