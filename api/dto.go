/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the client API. Ledger types never leave the package
  directly; every response goes through a *DTO so field names stay stable.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags; handlers call
  h.validate.Struct before touching the ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse
*/
package api

import (
	"time"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/reclaimer"
	"github.com/earnly/credit-engine/redemption"
)

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemRequest is the body of POST /api/redeem.
type RedeemRequest struct {
	RewardID string `json:"rewardId" validate:"required,max=128"`
}

// RedeemResponse is returned on a successful redemption.
type RedeemResponse struct {
	Success      bool       `json:"success"`
	RedemptionID string     `json:"redemptionId"`
	Code         string     `json:"code"`
	Title        string     `json:"title"`
	Instructions string     `json:"instructions"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func toRedeemResponse(r redemption.Result) RedeemResponse {
	return RedeemResponse{
		Success:      true,
		RedemptionID: r.RedemptionID,
		Code:         r.Code,
		Title:        r.Title,
		Instructions: r.Instructions,
		ExpiresAt:    r.ExpiresAt,
	}
}

// =============================================================================
// PROFILE
// =============================================================================

// CreateProfileRequest is the body of POST /api/me.
type CreateProfileRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Name    string `json:"name" validate:"max=128"`
	Country string `json:"country" validate:"omitempty,len=2,alpha"`
}

// ProfileDTO is the caller's profile and balance.
type ProfileDTO struct {
	ID            string       `json:"uid"`
	Email         string       `json:"email"`
	Name          string       `json:"name"`
	Country       string       `json:"country"`
	Balance       int64        `json:"balance"`
	TotalEarned   int64        `json:"totalEarned"`
	TotalRedeemed int64        `json:"totalRedeemed"`
	Flags         ledger.Flags `json:"flags"`
	JoinedAt      time.Time    `json:"joinedAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func toProfileDTO(u ledger.User) ProfileDTO {
	return ProfileDTO{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Country:       u.Country,
		Balance:       int64(u.Balance),
		TotalEarned:   int64(u.TotalEarned),
		TotalRedeemed: int64(u.TotalRedeemed),
		Flags:         u.Flags,
		JoinedAt:      u.JoinedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// =============================================================================
// HISTORY
// =============================================================================

type EarningDTO struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	TransactionID string    `json:"transactionId"`
	Credits       int64     `json:"credits"`
	At            time.Time `json:"timestamp"`
}

type RedemptionDTO struct {
	ID           string     `json:"id"`
	RewardID     string     `json:"rewardId"`
	Title        string     `json:"rewardTitle"`
	Credits      int64      `json:"creditsSpent"`
	Code         string     `json:"code"`
	Status       string     `json:"status"`
	Instructions string     `json:"instructions"`
	RedeemedAt   time.Time  `json:"redeemedAt"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

type NotificationDTO struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	ReadAt    *time.Time        `json:"readAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func toEarningDTOs(in []ledger.EarningEntry) []EarningDTO {
	out := make([]EarningDTO, len(in))
	for i, e := range in {
		out[i] = EarningDTO{ID: e.ID, Source: e.Source, TransactionID: e.TxID, Credits: int64(e.Credits), At: e.At}
	}
	return out
}

func toRedemptionDTOs(in []ledger.Redemption) []RedemptionDTO {
	out := make([]RedemptionDTO, len(in))
	for i, r := range in {
		out[i] = RedemptionDTO{
			ID:           r.ID,
			RewardID:     r.RewardID,
			Title:        r.Title,
			Credits:      int64(r.Price),
			Code:         r.Code,
			Status:       string(r.Status),
			Instructions: r.Instructions,
			RedeemedAt:   r.RedeemedAt,
			DeliveredAt:  r.DeliveredAt,
			ExpiresAt:    r.ExpiresAt,
		}
	}
	return out
}

func toNotificationDTOs(in []ledger.Notification) []NotificationDTO {
	out := make([]NotificationDTO, len(in))
	for i, n := range in {
		out[i] = NotificationDTO{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Data:      n.Data,
			Read:      n.Read,
			ReadAt:    n.ReadAt,
			CreatedAt: n.CreatedAt,
		}
	}
	return out
}

// =============================================================================
// CATALOG
// =============================================================================

// RewardDTO is a catalog entry as shown in the rewards screen.
type RewardDTO struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Provider          string   `json:"provider"`
	Price             int64    `json:"creditsRequired"`
	Value             string   `json:"value"`
	Currency          string   `json:"currency"`
	Region            []string `json:"region"`
	Category          string   `json:"category"`
	Stock             int64    `json:"stock"`
	Image             string   `json:"image,omitempty"`
	Terms             string   `json:"terms,omitempty"`
	EstimatedDelivery string   `json:"estimatedDelivery,omitempty"`
}

func toRewardDTOs(in []ledger.Reward) []RewardDTO {
	out := make([]RewardDTO, len(in))
	for i, r := range in {
		region := r.Region
		if region == nil {
			region = []string{}
		}
		out[i] = RewardDTO{
			ID:                r.ID,
			Title:             r.Title,
			Description:       r.Description,
			Provider:          r.Provider,
			Price:             int64(r.Price),
			Value:             r.Value.StringFixed(2),
			Currency:          r.Currency,
			Region:            region,
			Category:          string(r.Category),
			Stock:             r.Stock,
			Image:             r.Image,
			Terms:             r.Terms,
			EstimatedDelivery: r.EstimatedDelivery,
		}
	}
	return out
}

// AddCodesRequest is the body of POST /api/admin/rewards/{id}/codes.
type AddCodesRequest struct {
	Codes     []string   `json:"codes" validate:"required,min=1,max=1000,dive,required,max=64"`
	Batch     string     `json:"batch" validate:"max=64"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// AddCodesResponse reports the pool after an import.
type AddCodesResponse struct {
	RewardID string `json:"rewardId"`
	Added    int    `json:"added"`
	Stock    int64  `json:"stock"`
}

// =============================================================================
// RECLAIM
// =============================================================================

// ReclaimResponse is the outcome of a manual sweep.
type ReclaimResponse struct {
	At       time.Time         `json:"at"`
	Cutoff   time.Time         `json:"cutoff"`
	Rewards  int               `json:"rewards"`
	Released map[string]int    `json:"released"`
	Total    int               `json:"total"`
	Failed   map[string]string `json:"failed,omitempty"`
}

func toReclaimResponse(r reclaimer.Report) ReclaimResponse {
	resp := ReclaimResponse{
		At:       r.At,
		Cutoff:   r.Cutoff,
		Rewards:  r.Rewards,
		Released: r.Released,
		Total:    r.Total(),
	}
	if resp.Released == nil {
		resp.Released = map[string]int{}
	}
	if len(r.Failed) > 0 {
		resp.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			resp.Failed[id] = err.Error()
		}
	}
	return resp
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/admin/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}
