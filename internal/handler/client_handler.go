package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/crmdesk/internal/client"
	"github.com/hitoshi/crmdesk/internal/metrics"
	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
)

// ClientServiceInterface は顧客ハンドラーが必要とするサービスインターフェース。
type ClientServiceInterface interface {
	List(ctx context.Context) ([]*model.Client, error)
	Get(ctx context.Context, id string) (*model.Client, error)
	Create(ctx context.Context, in client.Input) (*model.Client, error)
	Update(ctx context.Context, id string, in client.Input) (*model.Client, error)
	Delete(ctx context.Context, id string) error
}

// MutationRecorder は顧客変更の成功を記録するインターフェース。
type MutationRecorder interface {
	RecordClientMutation(op string)
}

// ClientHandler は顧客管理のHTTPハンドラー。
type ClientHandler struct {
	service  ClientServiceInterface
	recorder MutationRecorder
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(service ClientServiceInterface, recorder MutationRecorder) *ClientHandler {
	if recorder == nil {
		recorder = metrics.NopCollector{}
	}
	return &ClientHandler{
		service:  service,
		recorder: recorder,
	}
}

// clientResponse は顧客情報のAPIレスポンス。
// phoneとcompanyは未設定の場合nullを返す。
type clientResponse struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone"`
	Company   *string   `json:"company"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toClientResponse(c *model.Client) clientResponse {
	return clientResponse{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     optional(c.Phone),
		Company:   optional(c.Company),
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// List は全顧客を姓の昇順で返す。
// GET /clients
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]clientResponse, 0, len(clients))
	for _, c := range clients {
		resp = append(resp, toClientResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は顧客詳細を返す。
// GET /clients/{id}
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientResponse(c))
}

// Create は顧客を登録する。
// POST /clients
func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in client.Input
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError())
		return
	}

	c, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.recorder.RecordClientMutation(metrics.OpCreate)
	writeJSON(w, http.StatusCreated, toClientResponse(c))
}

// Update は顧客情報を部分更新する。
// PUT /clients/{id}
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in client.Input
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError())
		return
	}

	c, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.recorder.RecordClientMutation(metrics.OpUpdate)
	writeJSON(w, http.StatusOK, toClientResponse(c))
}

// Delete は顧客を削除する。
// DELETE /clients/{id}
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.recorder.RecordClientMutation(metrics.OpDelete)
	w.WriteHeader(http.StatusNoContent)
}
