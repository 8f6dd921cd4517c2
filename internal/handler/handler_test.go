package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth"
	authConfig "github.com/iurnickita/ifgmart/internal/auth/config"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/notify"
	"github.com/iurnickita/ifgmart/internal/service"
	serviceConfig "github.com/iurnickita/ifgmart/internal/service/config"
	"github.com/iurnickita/ifgmart/internal/store/memstore"
	"github.com/iurnickita/ifgmart/internal/token"
)

const testSecret = "test-secret"

type testServer struct {
	router http.Handler
	tokens map[string]string
}

func newTestServer(t *testing.T, notifier notify.Notifier) *testServer {
	t.Helper()
	st := memstore.New()

	a, err := auth.NewAuth(authConfig.Config{JWTSecret: testSecret}, zap.NewNop())
	require.NoError(t, err)
	svc, err := service.NewService(serviceConfig.Config{
		StartingGrant: model.DefaultStartingGrant,
		PurchaseMode:  serviceConfig.PurchaseModeAtomic,
	}, st, notifier, zap.NewNop())
	require.NoError(t, err)

	ts := &testServer{
		router: newHandler(a, svc, zap.NewNop()).newRouter(),
		tokens: make(map[string]string),
	}
	for _, user := range []model.User{
		{ID: "seller"},
		{ID: "buyer"},
		{ID: "poor"},
		{ID: "admin", Role: model.UserRoleAdmin},
	} {
		tokenString, err := token.BuildJWTString(user, testSecret, time.Hour)
		require.NoError(t, err)
		ts.tokens[user.ID] = tokenString
	}
	return ts
}

func (ts *testServer) do(t *testing.T, user string, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != "" {
		r.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) createProduct(t *testing.T, owner string, title string, price int) ProductJSON {
	t.Helper()
	w := ts.do(t, owner, http.MethodPost, "/api/user/products", map[string]any{
		"title":       title,
		"description": "Ready to use",
		"price":       price,
		"category":    "Design",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[ProductJSON](t, w)
}

func TestPurchaseFlow(t *testing.T) {
	ts := newTestServer(t, notify.Nop{})

	// администратор выставляет балансы
	w := ts.do(t, "admin", http.MethodPut, "/api/admin/balance/buyer", map[string]int{"balance": 100})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, "admin", http.MethodPut, "/api/admin/balance/poor", map[string]int{"balance": 50})
	require.Equal(t, http.StatusOK, w.Code)

	p := ts.createProduct(t, "seller", "Logo pack", 60)
	assert.Equal(t, model.ProductStatusActive, p.Status)
	assert.Equal(t, "seller", p.SellerID)
	assert.Equal(t, model.UnknownSellerName, p.SellerName)

	// продавец заполняет профиль, витрина показывает его имя
	w = ts.do(t, "seller", http.MethodPut, "/api/user/profile", map[string]string{"full_name": "Ada Lovelace"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ada Lovelace", decode[ProfileJSON](t, w).FullName)

	// витрина доступна без токена
	w = ts.do(t, "", http.MethodGet, "/api/products?category=Design&q=logo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decode[[]ProductJSON](t, w)
	require.Len(t, products, 1)
	assert.Equal(t, "Ada Lovelace", products[0].SellerName)

	// свой товар купить нельзя
	w = ts.do(t, "seller", http.MethodPost, "/api/products/"+p.ID+"/purchase", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// не хватает токенов
	w = ts.do(t, "poor", http.MethodPost, "/api/products/"+p.ID+"/purchase", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	errJSON := decode[PurchaseErrorJSON](t, w)
	assert.Equal(t, model.ErrInsufficientFunds.Error(), errJSON.Error)
	assert.Empty(t, errJSON.Step)

	w = ts.do(t, "buyer", http.MethodPost, "/api/products/"+p.ID+"/purchase", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	transaction := decode[TransactionJSON](t, w)
	assert.Equal(t, 60, transaction.Amount)
	assert.Equal(t, model.TransactionStatusCompleted, transaction.Status)

	// повторная покупка
	w = ts.do(t, "poor", http.MethodPost, "/api/products/"+p.ID+"/purchase", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "buyer", http.MethodGet, "/api/user/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 40, decode[BalanceJSON](t, w).Balance)

	// продавец без записи получил стартовый баланс плюс цену
	w = ts.do(t, "seller", http.MethodGet, "/api/user/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.DefaultStartingGrant+60, decode[BalanceJSON](t, w).Balance)

	w = ts.do(t, "seller", http.MethodGet, "/api/user/transactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]TransactionJSON](t, w), 1)

	w = ts.do(t, "poor", http.MethodGet, "/api/user/transactions", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// проданный товар нельзя вернуть на витрину
	w = ts.do(t, "seller", http.MethodPut, "/api/user/products/"+p.ID, map[string]any{"status": "active"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// витрина больше не показывает проданный товар
	w = ts.do(t, "", http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]ProductJSON](t, w))

	// поиск по номеру чека
	w = ts.do(t, "admin", http.MethodGet, "/api/admin/transactions/"+transaction.Receipt, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, transaction.ID, decode[TransactionJSON](t, w).ID)

	w = ts.do(t, "admin", http.MethodGet, "/api/admin/transactions/1000008", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "admin", http.MethodGet, "/api/admin/transactions?status=completed&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]TransactionJSON](t, w), 1)

	w = ts.do(t, "admin", http.MethodGet, "/api/admin/products?status=sold", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]ProductJSON](t, w), 1)
}

func TestProductManagement(t *testing.T) {
	ts := newTestServer(t, notify.Nop{})
	p := ts.createProduct(t, "seller", "Business plan", 120)

	w := ts.do(t, "seller", http.MethodPost, "/api/user/products", map[string]any{"title": "No price"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "", http.MethodPost, "/api/user/products", map[string]any{"title": "Anonymous"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "buyer", http.MethodPut, "/api/user/products/"+p.ID, map[string]any{"price": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "seller", http.MethodPut, "/api/user/products/missing", map[string]any{"price": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "seller", http.MethodPut, "/api/user/products/"+p.ID, map[string]any{"price": 90, "status": "inactive"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[ProductJSON](t, w)
	assert.Equal(t, 90, updated.Price)
	assert.Equal(t, "Business plan", updated.Title)
	assert.Equal(t, model.ProductStatusInactive, updated.Status)

	// снятый товар купить нельзя
	w = ts.do(t, "buyer", http.MethodPost, "/api/products/"+p.ID+"/purchase", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "seller", http.MethodGet, "/api/user/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]ProductJSON](t, w), 1)

	w = ts.do(t, "buyer", http.MethodDelete, "/api/user/products/"+p.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, "seller", http.MethodDelete, "/api/user/products/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, "seller", http.MethodGet, "/api/user/products", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestProfile(t *testing.T) {
	ts := newTestServer(t, notify.Nop{})

	w := ts.do(t, "buyer", http.MethodGet, "/api/user/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[ProfileJSON](t, w)
	assert.Equal(t, "buyer", profile.UserID)
	assert.Empty(t, profile.FullName)

	w = ts.do(t, "buyer", http.MethodPut, "/api/user/profile", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, "buyer", http.MethodPut, "/api/user/profile", map[string]string{"full_name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, "", http.MethodPut, "/api/user/profile", map[string]string{"full_name": "Anonymous"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "buyer", http.MethodPut, "/api/user/profile", map[string]string{"full_name": "Grace Hopper"})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, "buyer", http.MethodGet, "/api/user/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Grace Hopper", decode[ProfileJSON](t, w).FullName)
}

func TestAdminOnly(t *testing.T) {
	ts := newTestServer(t, notify.Nop{})

	w := ts.do(t, "buyer", http.MethodPut, "/api/admin/balance/buyer", map[string]int{"balance": 1_000_000})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "", http.MethodGet, "/api/admin/transactions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "admin", http.MethodPut, "/api/admin/balance/buyer", map[string]int{"balance": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "admin", http.MethodPut, "/api/admin/balance/buyer", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "admin", http.MethodGet, "/api/admin/transactions?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	notifier := notify.NewRedisNotifier(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", zap.NewNop())
	defer notifier.Close()

	ts := newTestServer(t, notifier)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/admin/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.tokens["admin"])

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// подписка уже подтверждена: заголовки отправляются после нее
	w := ts.do(t, "admin", http.MethodPut, "/api/admin/balance/buyer", map[string]int{"balance": 100})
	require.Equal(t, http.StatusOK, w.Code)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var event model.Event
	timeout := time.After(2 * time.Second)
	for event.Type == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed")
			if data, found := strings.CutPrefix(line, "data: "); found {
				require.NoError(t, json.Unmarshal([]byte(data), &event))
			}
		case <-timeout:
			t.Fatal("event not received")
		}
	}
	assert.Equal(t, model.EventBalanceSet, event.Type)
	assert.Equal(t, "buyer", event.Customer)
	assert.Equal(t, 100, event.Amount)
}
