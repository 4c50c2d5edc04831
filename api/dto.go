/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

ENVELOPE:
  Every response is {"success": bool, "message": string, "data": any}.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts, rates and percentages are decimal strings ("60000", "0.5").

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// =============================================================================
// ENVELOPE
// =============================================================================

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateProfileRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	SponsorID string `json:"sponsorId,omitempty"`
	UplineID  string `json:"uplineId,omitempty"`
}

type CreatePlotRequest struct {
	ID          string          `json:"id,omitempty"`
	ProjectName string          `json:"projectName"`
	PlotNumber  string          `json:"plotNumber"`
	Area        decimal.Decimal `json:"area"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Status      string          `json:"status,omitempty"`
	BrokerID    string          `json:"brokerId,omitempty"`
}

// UpdatePlotRequest corrects the sale terms of a plot. Omitted fields are
// kept. Recalculate applies the new terms to wallets when commission has
// already been paid.
type UpdatePlotRequest struct {
	TotalPrice  *decimal.Decimal `json:"totalPrice,omitempty"`
	Area        *decimal.Decimal `json:"area,omitempty"`
	BrokerID    *string          `json:"brokerId,omitempty"`
	Recalculate bool             `json:"recalculate,omitempty"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PaidAt *time.Time      `json:"paidAt,omitempty"`
	Note   string          `json:"note,omitempty"`
}

type RecalculateRequest struct {
	PlotID string `json:"plotId"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ProfileDTO struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	SponsorID string     `json:"sponsorId,omitempty"`
	UplineID  string     `json:"uplineId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

type ChainLinkDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

type PlotDTO struct {
	ID               string          `json:"id"`
	ProjectName      string          `json:"projectName"`
	PlotNumber       string          `json:"plotNumber"`
	Area             decimal.Decimal `json:"area"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	Status           string          `json:"status"`
	PaidPercentage   decimal.Decimal `json:"paidPercentage"`
	BrokerID         string          `json:"brokerId,omitempty"`
	CommissionStatus string          `json:"commissionStatus"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type PlotUpdateDTO struct {
	Plot         PlotDTO                `json:"plot"`
	Distribution *DistributionResultDTO `json:"distribution,omitempty"`
}

type PaymentDTO struct {
	ID     string          `json:"id"`
	PlotID string          `json:"plotId"`
	Amount decimal.Decimal `json:"amount"`
	PaidAt time.Time       `json:"paidAt"`
	Note   string          `json:"note,omitempty"`
}

type PaymentOutcomeDTO struct {
	Payment          PaymentDTO             `json:"payment"`
	PaidPercentage   decimal.Decimal        `json:"paidPercentage"`
	PreviousStatus   string                 `json:"previousStatus"`
	Status           string                 `json:"status"`
	CommissionStatus string                 `json:"commissionStatus"`
	Distributed      bool                   `json:"distributed"`
	BecameSold       bool                   `json:"becameSold"`
	Distribution     *DistributionResultDTO `json:"distribution,omitempty"`
}

type CommissionDTO struct {
	ID           string          `json:"id"`
	PlotID       string          `json:"plotId"`
	SellerID     string          `json:"sellerId"`
	SellerName   string          `json:"sellerName"`
	ReceiverID   string          `json:"receiverId"`
	ReceiverName string          `json:"receiverName"`
	Level        int             `json:"level"`
	Percentage   decimal.Decimal `json:"percentage"`
	SaleAmount   decimal.Decimal `json:"saleAmount"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type TransactionDTO struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Type        string          `json:"type"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	PlotID      string          `json:"plotId,omitempty"`
	Level       int             `json:"level"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type WalletDTO struct {
	OwnerID             string          `json:"ownerId"`
	DirectSaleBalance   decimal.Decimal `json:"directSaleBalance"`
	DownlineSaleBalance decimal.Decimal `json:"downlineSaleBalance"`
	TotalBalance        decimal.Decimal `json:"totalBalance"`
	UpdatedAt           *time.Time      `json:"updatedAt,omitempty"`
}

type ProjectedLineDTO struct {
	PlotID         string          `json:"plotId"`
	Label          string          `json:"label"`
	Level          int             `json:"level"`
	Category       string          `json:"category"`
	Area           decimal.Decimal `json:"area"`
	Rate           decimal.Decimal `json:"rate"`
	PaidPercentage decimal.Decimal `json:"paidPercentage"`
	Amount         decimal.Decimal `json:"amount"`
}

type ProjectionDTO struct {
	OwnerID             string             `json:"ownerId"`
	DirectSaleBalance   decimal.Decimal    `json:"directSaleBalance"`
	DownlineSaleBalance decimal.Decimal    `json:"downlineSaleBalance"`
	TotalBalance        decimal.Decimal    `json:"totalBalance"`
	Plots               []ProjectedLineDTO `json:"plots"`
}

type CreditDTO struct {
	ReceiverID   string          `json:"receiverId"`
	ReceiverName string          `json:"receiverName"`
	Level        int             `json:"level"`
	Category     string          `json:"category"`
	Previous     decimal.Decimal `json:"previous"`
	Amount       decimal.Decimal `json:"amount"`
}

type SkippedDTO struct {
	ReceiverID string `json:"receiverId"`
	Level      int    `json:"level"`
	Reason     string `json:"reason"`
}

type DistributionResultDTO struct {
	PlotID        string          `json:"plotId"`
	Outcome       string          `json:"outcome"`
	Reason        string          `json:"reason,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	CreditedTotal decimal.Decimal `json:"creditedTotal"`
	ReversedTotal decimal.Decimal `json:"reversedTotal"`
	Credits       []CreditDTO     `json:"credits,omitempty"`
	Skipped       []SkippedDTO    `json:"skipped,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

type BatchSummaryDTO struct {
	Mode             string                   `json:"mode"`
	Processed        int                      `json:"processed"`
	Succeeded        int                      `json:"succeeded"`
	Skipped          int                      `json:"skipped"`
	Failed           int                      `json:"failed"`
	TotalDistributed decimal.Decimal          `json:"totalDistributed"`
	Errors           []commission.PlotFailure `json:"errors"`
	Canceled         bool                     `json:"canceled,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProfileDTO(p commission.Profile) ProfileDTO {
	return ProfileDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		SponsorID: string(p.SponsorID),
		UplineID:  string(p.UplineID),
		CreatedAt: p.CreatedAt,
		DeletedAt: p.DeletedAt,
	}
}

// displayPercent truncates so a plot short of a boundary never reads as
// having reached it.
func displayPercent(p decimal.Decimal) decimal.Decimal { return p.Truncate(2) }

func toPlotDTO(p commission.Plot) PlotDTO {
	return PlotDTO{
		ID:               string(p.ID),
		ProjectName:      p.ProjectName,
		PlotNumber:       p.PlotNumber,
		Area:             p.Area,
		TotalPrice:       p.TotalPrice,
		Status:           string(p.Status),
		PaidPercentage:   displayPercent(p.PaidPercentage),
		BrokerID:         string(p.BrokerID),
		CommissionStatus: string(p.CommissionStatus),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toPaymentDTO(p commission.Payment) PaymentDTO {
	return PaymentDTO{
		ID:     string(p.ID),
		PlotID: string(p.PlotID),
		Amount: p.Amount,
		PaidAt: p.PaidAt,
		Note:   p.Note,
	}
}

func toCommissionDTO(c commission.CommissionRecord) CommissionDTO {
	return CommissionDTO{
		ID:           string(c.ID),
		PlotID:       string(c.PlotID),
		SellerID:     string(c.SellerID),
		SellerName:   c.SellerName,
		ReceiverID:   string(c.ReceiverID),
		ReceiverName: c.ReceiverName,
		Level:        c.Level,
		Percentage:   c.Percentage,
		SaleAmount:   c.SaleAmount,
		Amount:       c.Amount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toTransactionDTO(t commission.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(t.ID),
		OwnerID:     string(t.OwnerID),
		Type:        string(t.Type),
		Category:    string(t.Category),
		Amount:      t.Amount,
		Description: t.Description,
		PlotID:      string(t.PlotID),
		Level:       t.Level,
		CreatedAt:   t.CreatedAt,
	}
}

func toWalletDTO(w commission.Wallet) WalletDTO {
	dto := WalletDTO{
		OwnerID:             string(w.OwnerID),
		DirectSaleBalance:   w.DirectSaleBalance,
		DownlineSaleBalance: w.DownlineSaleBalance,
		TotalBalance:        w.TotalBalance,
	}
	if !w.UpdatedAt.IsZero() {
		t := w.UpdatedAt
		dto.UpdatedAt = &t
	}
	return dto
}

func toProjectionDTO(p *commission.Projection) ProjectionDTO {
	dto := ProjectionDTO{
		OwnerID:             string(p.OwnerID),
		DirectSaleBalance:   p.DirectSaleBalance,
		DownlineSaleBalance: p.DownlineSaleBalance,
		TotalBalance:        p.TotalBalance,
		Plots:               make([]ProjectedLineDTO, 0, len(p.Lines)),
	}
	for _, l := range p.Lines {
		dto.Plots = append(dto.Plots, ProjectedLineDTO{
			PlotID:         string(l.PlotID),
			Label:          l.Label,
			Level:          l.Level,
			Category:       string(l.Category),
			Area:           l.Area,
			Rate:           l.Rate,
			PaidPercentage: displayPercent(l.PaidPercentage),
			Amount:         l.Amount,
		})
	}
	return dto
}

func toDistributionDTO(r *commission.DistributionResult) *DistributionResultDTO {
	if r == nil {
		return nil
	}
	dto := &DistributionResultDTO{
		PlotID:        string(r.PlotID),
		Outcome:       string(r.Outcome),
		Reason:        r.Reason,
		CreditedTotal: decimal.Zero,
		ReversedTotal: decimal.Zero,
	}
	if a := r.Apply; a != nil {
		dto.Mode = string(a.Mode)
		dto.CreditedTotal = a.CreditedTotal
		dto.ReversedTotal = a.ReversedTotal
		for _, c := range a.Credits {
			dto.Credits = append(dto.Credits, CreditDTO{
				ReceiverID:   string(c.ReceiverID),
				ReceiverName: c.ReceiverName,
				Level:        c.Level,
				Category:     string(c.Category),
				Previous:     c.Previous,
				Amount:       c.Amount,
			})
		}
		for _, s := range a.Skipped {
			dto.Skipped = append(dto.Skipped, SkippedDTO{ReceiverID: string(s.ReceiverID), Level: s.Level, Reason: s.Reason})
		}
		for _, w := range a.Warnings {
			dto.Warnings = append(dto.Warnings, w.String())
		}
	}
	return dto
}

func toBatchSummaryDTO(s *commission.BatchSummary) BatchSummaryDTO {
	errs := s.Failures
	if errs == nil {
		errs = []commission.PlotFailure{}
	}
	return BatchSummaryDTO{
		Mode:             string(s.Mode),
		Processed:        s.Processed,
		Succeeded:        s.Succeeded,
		Skipped:          s.Skipped,
		Failed:           s.Failed,
		TotalDistributed: s.TotalDistributed,
		Errors:           errs,
		Canceled:         s.Canceled,
	}
}
