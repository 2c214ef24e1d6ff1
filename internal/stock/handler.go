package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/quota"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.createAdjustment)
	r.Post("/adjustments/batch", h.createBatch)
	r.Get("/adjustments", h.listAdjustments)
	r.Get("/adjustments/{adjustmentID}", h.getAdjustment)
	r.Post("/transfers", h.createTransfer)
	r.Put("/levels", h.upsertLevel)
	r.Get("/levels", h.listLevels)
	r.Get("/levels/{itemID}/{locationID}", h.getLevel)
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	tenantID, operatorID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var payload adjustmentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		h.respondError(w, err)
		return
	}
	adj, err := h.engine.CreateAdjustment(r.Context(), tenantID, operatorID, req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAdjustmentResponse(adj))
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, operatorID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var payload batchPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date := time.Now().UTC()
	if payload.Date != "" {
		parsed, err := time.Parse(time.RFC3339, payload.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be RFC3339")
			return
		}
		date = parsed
	}
	reqs := make([]AdjustmentRequest, 0, len(payload.Adjustments))
	for _, item := range payload.Adjustments {
		req, err := item.toRequest()
		if err != nil {
			h.respondError(w, err)
			return
		}
		reqs = append(reqs, req)
	}
	result, err := h.engine.BatchCreateAdjustments(r.Context(), tenantID, operatorID, reqs, date, r.Header.Get("Idempotency-Key"))
	if err != nil && result.SuccessCount == 0 {
		h.respondError(w, err)
		return
	}
	resp := batchResponse{
		Adjustments:  make([]adjustmentResponse, 0, len(result.Adjustments)),
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
	}
	for _, adj := range result.Adjustments {
		resp.Adjustments = append(resp.Adjustments, toAdjustmentResponse(adj))
	}
	for _, failure := range result.Skipped {
		resp.Failures = append(resp.Failures, batchFailure{Offset: failure.Offset, Reason: failure.Reason})
	}
	status := http.StatusCreated
	if result.FailureCount > 0 {
		// Partial success: committed chunks stay committed.
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	tenantID, operatorID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var payload transferPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	opts := TransferOptions{Reason: payload.Reason}
	if payload.Date != "" {
		parsed, err := time.Parse(time.RFC3339, payload.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be RFC3339")
			return
		}
		opts.Date = parsed
	}
	result, err := h.engine.CreateTransfer(r.Context(), tenantID, operatorID, payload.ItemID, payload.SourceLocationID, payload.TargetLocationID, payload.Quantity, opts, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transferResponse{
		Source: toAdjustmentResponse(result.SourceAdjustment),
		Target: toAdjustmentResponse(result.TargetAdjustment),
	})
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "adjustmentID")
	adj, err := h.engine.GetAdjustment(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdjustmentResponse(adj))
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		ItemID:     parseInt64(q.Get("itemId")),
		LocationID: parseInt64(q.Get("locationId")),
		Type:       AdjustmentType(q.Get("type")),
	}
	if filter.Type != "" && !filter.Type.Known() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown adjustment type")
		return
	}
	var err error
	if filter.From, err = parseDate(q.Get("from"), false); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
		return
	}
	if filter.To, err = parseDate(q.Get("to"), true); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
		return
	}
	page, pageSize := paging(q.Get("page"), q.Get("perPage"))
	result, err := h.engine.ListAdjustments(r.Context(), tenantID, filter, page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := adjustmentListResponse{
		Adjustments: make([]adjustmentResponse, 0, len(result.Adjustments)),
		Meta: pageMeta{
			Page:       result.Pagination.Page,
			PerPage:    result.Pagination.PerPage,
			Total:      result.Pagination.Total,
			TotalPages: result.Pagination.TotalPages,
		},
	}
	for _, adj := range result.Adjustments {
		resp.Adjustments = append(resp.Adjustments, toAdjustmentResponse(adj))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) upsertLevel(w http.ResponseWriter, r *http.Request) {
	tenantID, operatorID, ok := h.identity(w, r)
	if !ok {
		return
	}
	var payload upsertLevelPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := h.engine.UpsertStockLevel(r.Context(), tenantID, operatorID, payload.ItemID, payload.LocationID, payload.Quantity, payload.LowStockThreshold)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelResponse(level))
}

func (h *Handler) getLevel(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	itemID := parseInt64(chi.URLParam(r, "itemID"))
	locationID := parseInt64(chi.URLParam(r, "locationID"))
	if itemID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item and location ids must be positive integers")
		return
	}
	level, err := h.engine.GetStockLevel(r.Context(), tenantID, itemID, locationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelResponse(level))
}

func (h *Handler) listLevels(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := h.identity(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := LevelFilter{
		ItemID:       parseInt64(q.Get("itemId")),
		LocationID:   parseInt64(q.Get("locationId")),
		LowStockOnly: q.Get("lowStock") == "true",
	}
	page, pageSize := paging(q.Get("page"), q.Get("perPage"))
	result, err := h.engine.ListStockLevels(r.Context(), tenantID, filter, page, pageSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := levelListResponse{
		Levels: make([]levelResponse, 0, len(result.Levels)),
		Meta: pageMeta{
			Page:       result.Pagination.Page,
			PerPage:    result.Pagination.PerPage,
			Total:      result.Pagination.Total,
			TotalPages: result.Pagination.TotalPages,
		},
	}
	for _, level := range result.Levels {
		resp.Levels = append(resp.Levels, toLevelResponse(level))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		h.respondError(w, shared.ErrTenantMissing)
		return 0, 0, false
	}
	operatorID, ok := shared.OperatorFromContext(r.Context())
	if !ok {
		h.respondError(w, shared.ErrOperatorMissing)
		return 0, 0, false
	}
	return tenantID, operatorID, true
}

// respondError maps stock domain errors onto problem responses. Conflicts
// carry structured meta so clients can react programmatically.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var negative *NegativeStockError
	var validation *ValidationError
	var notFound *catalog.ItemNotFoundError
	var exceeded *quota.ExceededError
	switch {
	case errors.As(err, &negative):
		httpx.ProblemWithMeta(w, http.StatusConflict, "Insufficient Stock", negative.Error(), map[string]any{
			"itemId":     negative.ItemID,
			"locationId": negative.LocationID,
			"current":    negative.Current,
			"requested":  negative.Requested,
		})
	case errors.As(err, &validation):
		httpx.ProblemWithMeta(w, http.StatusBadRequest, "Validation Failed", validation.Message, map[string]any{
			"field": validation.Field,
		})
	case errors.As(err, &notFound):
		httpx.Problem(w, http.StatusNotFound, "Item Not Found", notFound.Error())
	case errors.As(err, &exceeded):
		httpx.ProblemWithMeta(w, http.StatusTooManyRequests, "Quota Exceeded", exceeded.Error(), map[string]any{
			"quotaType":    string(exceeded.Type),
			"currentUsage": exceeded.CurrentUsage,
			"limit":        exceeded.Limit,
			"resetAt":      exceeded.ResetAt.Format(time.RFC3339),
		})
	case errors.Is(err, shared.ErrTenantMissing):
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "X-Tenant-ID header is required")
	case errors.Is(err, shared.ErrOperatorMissing):
		httpx.Problem(w, http.StatusBadRequest, "Missing Operator", "X-Operator-ID header is required")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "this idempotency key was already used")
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, ErrStockLevelNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "the requested resource does not exist")
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseInt64(raw string) int64 {
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func paging(pageRaw, perPageRaw string) (int, int) {
	page := int(parseInt64(pageRaw))
	if page < 1 {
		page = 1
	}
	perPage := int(parseInt64(perPageRaw))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}
