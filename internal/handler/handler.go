package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/ifgmart/internal/auth"
	"github.com/iurnickita/ifgmart/internal/gzip"
	"github.com/iurnickita/ifgmart/internal/handler/config"
	"github.com/iurnickita/ifgmart/internal/logger"
	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/purchase"
	"github.com/iurnickita/ifgmart/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Serve обслуживает запросы до отмены ctx
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zaplog.Info("server stopped")
	return nil
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	public := func(f http.HandlerFunc) http.HandlerFunc {
		return gzip.GzipMiddleware(logger.RequestLogMdlw(f, h.zaplog))
	}
	user := func(f http.HandlerFunc) http.HandlerFunc {
		return public(h.auth.Middleware(f))
	}
	admin := func(f http.HandlerFunc) http.HandlerFunc {
		return user(h.auth.AdminOnly(f))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products", public(h.GetProducts))
	mux.HandleFunc("POST /api/products/{id}/purchase", user(h.PostPurchase))

	mux.HandleFunc("GET /api/user/balance", user(h.GetBalance))
	mux.HandleFunc("GET /api/user/products", user(h.GetMyProducts))
	mux.HandleFunc("POST /api/user/products", user(h.PostProduct))
	mux.HandleFunc("PUT /api/user/products/{id}", user(h.PutProduct))
	mux.HandleFunc("DELETE /api/user/products/{id}", user(h.DeleteProduct))
	mux.HandleFunc("GET /api/user/transactions", user(h.GetMyTransactions))
	mux.HandleFunc("GET /api/user/profile", user(h.GetProfile))
	mux.HandleFunc("PUT /api/user/profile", user(h.PutProfile))

	mux.HandleFunc("PUT /api/admin/balance/{user}", admin(h.PutBalance))
	mux.HandleFunc("GET /api/admin/products", admin(h.GetAllProducts))
	mux.HandleFunc("GET /api/admin/transactions", admin(h.GetTransactions))
	mux.HandleFunc("GET /api/admin/transactions/{receipt}", admin(h.GetTransaction))
	// поток событий не сжимаем
	mux.HandleFunc("GET /api/admin/events",
		logger.RequestLogMdlw(h.auth.Middleware(h.auth.AdminOnly(h.GetEvents)), h.zaplog))

	return mux
}

// JSON представления

type ProductJSON struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"seller_id"`
	SellerName  string    `json:"seller_name"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	ProductLink string    `json:"product_link,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func productJSON(p model.Product) ProductJSON {
	return ProductJSON{
		ID:          p.ID,
		SellerID:    p.Data.Owner,
		SellerName:  p.Data.OwnerName,
		Title:       p.Data.Title,
		Description: p.Data.Description,
		Price:       p.Data.Price,
		Category:    p.Data.Category,
		ImageURL:    p.Data.ImageURL,
		ProductLink: p.Data.ProductLink,
		Status:      p.Data.Status,
		CreatedAt:   p.Data.CreatedAt,
		UpdatedAt:   p.Data.UpdatedAt,
	}
}

func productsJSON(products []model.Product) []ProductJSON {
	productsJSON := make([]ProductJSON, 0, len(products))
	for _, p := range products {
		productsJSON = append(productsJSON, productJSON(p))
	}
	return productsJSON
}

// Поля товара. Отсутствующее поле не меняется
type ProductJSONRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int    `json:"price"`
	Category    *string `json:"category"`
	ImageURL    *string `json:"image_url"`
	ProductLink *string `json:"product_link"`
	Status      *string `json:"status"`
}

func (req ProductJSONRequest) fields() model.ProductFields {
	return model.ProductFields{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		ProductLink: req.ProductLink,
		Status:      req.Status,
	}
}

type TransactionJSON struct {
	ID        string    `json:"id"`
	Receipt   string    `json:"receipt"`
	BuyerID   string    `json:"buyer_id"`
	SellerID  string    `json:"seller_id"`
	ProductID string    `json:"product_id"`
	Amount    int       `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func transactionJSON(t model.Transaction) TransactionJSON {
	return TransactionJSON{
		ID:        t.ID,
		Receipt:   t.Data.Receipt,
		BuyerID:   t.Data.Buyer,
		SellerID:  t.Data.Seller,
		ProductID: t.Data.Product,
		Amount:    t.Data.Amount,
		Status:    t.Data.Status,
		CreatedAt: t.Data.CreatedAt,
	}
}

func transactionsJSON(transactions []model.Transaction) []TransactionJSON {
	transactionsJSON := make([]TransactionJSON, 0, len(transactions))
	for _, t := range transactions {
		transactionsJSON = append(transactionsJSON, transactionJSON(t))
	}
	return transactionsJSON
}

type ProfileJSON struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
}

type ProfileJSONRequest struct {
	FullName *string `json:"full_name"`
}

func profileJSON(p model.Profile) ProfileJSON {
	return ProfileJSON{
		UserID:   p.Customer,
		FullName: p.FullName,
	}
}

type BalanceJSON struct {
	UserID    string     `json:"user_id"`
	Balance   int        `json:"balance"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func balanceJSON(b model.Balance) BalanceJSON {
	balanceJSON := BalanceJSON{UserID: b.Customer, Balance: b.Balance}
	if !b.UpdatedAt.IsZero() {
		balanceJSON.UpdatedAt = &b.UpdatedAt
	}
	return balanceJSON
}

type PurchaseErrorJSON struct {
	Error     string   `json:"error"`
	Step      string   `json:"step,omitempty"`
	Committed []string `json:"committed,omitempty"`
	Receipt   string   `json:"receipt,omitempty"`
}

// Ответы

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrPartialFailure):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden), errors.Is(err, model.ErrSelfPurchase):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrProductUnavailable), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, err)
	}
	return nil
}

func currentUser(r *http.Request) model.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// Витрина

func (h *handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	products, err := h.service.ListProducts(r.Context(), model.ProductFilter{
		Category: query.Get("category"),
		Search:   query.Get("q"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productsJSON(products))
}

func (h *handler) PostPurchase(w http.ResponseWriter, r *http.Request) {
	transaction, err := h.service.Purchase(r.Context(), r.PathValue("id"))
	if err != nil {
		var purchaseErr *purchase.Error
		if !errors.As(err, &purchaseErr) {
			h.writeError(w, err)
			return
		}
		code := statusCode(err)
		if code == http.StatusInternalServerError {
			h.zaplog.Error("purchase failed", zap.Error(err))
		}
		errJSON := PurchaseErrorJSON{Error: purchaseErr.Kind.Error()}
		if purchaseErr.Step != purchase.StepPrecondition {
			errJSON.Step = string(purchaseErr.Step)
		}
		for _, step := range purchaseErr.Committed {
			errJSON.Committed = append(errJSON.Committed, string(step))
		}
		if purchaseErr.Transaction != nil {
			errJSON.Receipt = purchaseErr.Transaction.Data.Receipt
		}
		h.writeJSON(w, code, errJSON)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionJSON(transaction))
}

// Кабинет пользователя

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceJSON(balance))
}

func (h *handler) GetMyProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.GetMyProducts(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, productsJSON(products))
}

func (h *handler) PostProduct(w http.ResponseWriter, r *http.Request) {
	var productReq ProductJSONRequest
	if err := decodeJSON(r, &productReq); err != nil {
		h.writeError(w, err)
		return
	}

	newProduct, err := h.service.PostProduct(r.Context(), currentUser(r).ID, productReq.fields())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, productJSON(newProduct))
}

func (h *handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var productReq ProductJSONRequest
	if err := decodeJSON(r, &productReq); err != nil {
		h.writeError(w, err)
		return
	}

	updated, err := h.service.PutProduct(r.Context(), currentUser(r).ID, r.PathValue("id"), productReq.fields())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productJSON(updated))
}

func (h *handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteProduct(r.Context(), currentUser(r).ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.service.GetMyTransactions(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionsJSON(transactions))
}

func (h *handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), currentUser(r).ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profileJSON(profile))
}

func (h *handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var profileReq ProfileJSONRequest
	if err := decodeJSON(r, &profileReq); err != nil {
		h.writeError(w, err)
		return
	}
	if profileReq.FullName == nil {
		h.writeError(w, fmt.Errorf("%w: full_name is required", model.ErrValidation))
		return
	}

	profile, err := h.service.PutProfile(r.Context(), currentUser(r).ID, *profileReq.FullName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profileJSON(profile))
}

// Администрирование

type PutBalanceJSONRequest struct {
	Balance *int `json:"balance"`
}

func (h *handler) PutBalance(w http.ResponseWriter, r *http.Request) {
	var balanceReq PutBalanceJSONRequest
	if err := decodeJSON(r, &balanceReq); err != nil {
		h.writeError(w, err)
		return
	}
	if balanceReq.Balance == nil {
		h.writeError(w, fmt.Errorf("%w: balance is required", model.ErrValidation))
		return
	}

	balance, err := h.service.SetBalance(r.Context(), r.PathValue("user"), *balanceReq.Balance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balanceJSON(balance))
}

func (h *handler) GetAllProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.GetAllProducts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, productsJSON(products))
}

func (h *handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.TransactionFilter{
		Customer: query.Get("customer"),
		Status:   query.Get("status"),
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: limit must be a number", model.ErrValidation))
			return
		}
		filter.Limit = n
	}

	transactions, err := h.service.GetTransactions(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionsJSON(transactions))
}

func (h *handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transaction, err := h.service.GetTransaction(r.Context(), r.PathValue("receipt"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionJSON(transaction))
}

// GetEvents - поток событий в формате Server-Sent Events
func (h *handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.service.Events(r.Context())
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %w", model.ErrStore, err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}
