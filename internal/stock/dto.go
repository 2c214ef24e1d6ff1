package stock

import (
	"time"
)

type adjustmentPayload struct {
	ItemID           int64  `json:"itemId" validate:"required,gt=0"`
	LocationID       int64  `json:"locationId" validate:"required,gt=0"`
	Type             string `json:"type" validate:"required"`
	Delta            int64  `json:"delta" validate:"required"`
	Reason           string `json:"reason,omitempty" validate:"max=500"`
	TargetLocationID int64  `json:"targetLocationId,omitempty" validate:"gte=0"`
	AdjustmentDate   string `json:"adjustmentDate,omitempty"`
}

type batchPayload struct {
	Adjustments []adjustmentPayload `json:"adjustments" validate:"required,min=1,dive"`
	Date        string              `json:"date,omitempty"`
}

type transferPayload struct {
	ItemID           int64  `json:"itemId" validate:"required,gt=0"`
	SourceLocationID int64  `json:"sourceLocationId" validate:"required,gt=0"`
	TargetLocationID int64  `json:"targetLocationId" validate:"required,gt=0"`
	Quantity         int64  `json:"quantity" validate:"required,gt=0"`
	Reason           string `json:"reason,omitempty" validate:"max=500"`
	Date             string `json:"date,omitempty"`
}

type upsertLevelPayload struct {
	ItemID            int64  `json:"itemId" validate:"required,gt=0"`
	LocationID        int64  `json:"locationId" validate:"required,gt=0"`
	Quantity          int64  `json:"quantity" validate:"gte=0"`
	LowStockThreshold *int64 `json:"lowStockThreshold,omitempty"`
}

type adjustmentResponse struct {
	ID                   string    `json:"id"`
	ItemID               int64     `json:"itemId"`
	LocationID           int64     `json:"locationId"`
	Type                 string    `json:"type"`
	QuantityAdjusted     int64     `json:"quantityAdjusted"`
	BeforeQuantity       int64     `json:"beforeQuantity"`
	AfterQuantity        int64     `json:"afterQuantity"`
	Reason               string    `json:"reason,omitempty"`
	TargetLocationID     int64     `json:"targetLocationId,omitempty"`
	AdjustmentDate       time.Time `json:"adjustmentDate"`
	OperatorID           int64     `json:"operatorId"`
	CreatedAt            time.Time `json:"createdAt"`
}

type levelResponse struct {
	ItemID            int64     `json:"itemId"`
	LocationID        int64     `json:"locationId"`
	Quantity          int64     `json:"quantity"`
	LowStockThreshold int64     `json:"lowStockThreshold"`
	LastUpdated       time.Time `json:"lastUpdated"`
	LastUpdatedBy     int64     `json:"lastUpdatedBy,omitempty"`
}

type transferResponse struct {
	Source adjustmentResponse `json:"source"`
	Target adjustmentResponse `json:"target"`
}

type batchResponse struct {
	Adjustments  []adjustmentResponse `json:"adjustments"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Failures     []batchFailure       `json:"failures,omitempty"`
}

type batchFailure struct {
	Offset int    `json:"offset"`
	Reason string `json:"reason"`
}

type pageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type adjustmentListResponse struct {
	Adjustments []adjustmentResponse `json:"adjustments"`
	Meta        pageMeta             `json:"meta"`
}

type levelListResponse struct {
	Levels []levelResponse `json:"levels"`
	Meta   pageMeta        `json:"meta"`
}

func toAdjustmentResponse(adj Adjustment) adjustmentResponse {
	return adjustmentResponse{
		ID:               adj.ID,
		ItemID:           adj.ItemID,
		LocationID:       adj.LocationID,
		Type:             string(adj.Type),
		QuantityAdjusted: adj.QuantityAdjusted,
		BeforeQuantity:   adj.BeforeQuantity,
		AfterQuantity:    adj.AfterQuantity,
		Reason:           adj.Reason,
		TargetLocationID: adj.TransferToLocationID,
		AdjustmentDate:   adj.AdjustmentDate,
		OperatorID:       adj.OperatorID,
		CreatedAt:        adj.CreatedAt,
	}
}

func toLevelResponse(level StockLevel) levelResponse {
	return levelResponse{
		ItemID:            level.ItemID,
		LocationID:        level.LocationID,
		Quantity:          level.Quantity,
		LowStockThreshold: level.LowStockThreshold,
		LastUpdated:       level.LastUpdated,
		LastUpdatedBy:     level.LastUpdatedBy,
	}
}

func (p adjustmentPayload) toRequest() (AdjustmentRequest, error) {
	req := AdjustmentRequest{
		ItemID:     p.ItemID,
		LocationID: p.LocationID,
		Type:       AdjustmentType(p.Type),
		Delta:      p.Delta,
		Reason:     p.Reason,
		Kind:       RegularKind(),
	}
	if p.TargetLocationID != 0 {
		req.Kind = TransferKind(p.TargetLocationID)
	}
	if p.AdjustmentDate != "" {
		at, err := time.Parse(time.RFC3339, p.AdjustmentDate)
		if err != nil {
			return AdjustmentRequest{}, &ValidationError{Field: "adjustmentDate", Message: "must be RFC3339"}
		}
		req.Date = at
	}
	return req, nil
}
