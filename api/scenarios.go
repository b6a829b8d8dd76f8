/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the ledger with realistic data for demos and manual QA.
	Each scenario seeds rewards and users and credits balances through
	the same webhook ingestion path real partner callbacks use.

AVAILABLE SCENARIOS:

	launch:     default catalog, three users in US, RO and DE with balances
	last-code:  one reward with a single code, two funded users racing for it
	restricted: a locked user with plenty of credits

HOW SCENARIOS WORK:
 1. Save rewards and add codes (catalog.Seed)
 2. Create users with zero totals (CreateUser)
 3. Credit balances with webhook.Ingestor, transaction id
    "scenario:<scenario>:<user>", so loading twice credits once

USAGE VIA API:

	POST /api/admin/scenarios/load
	{"scenario_id": "last-code"}

NOTE:

	Scenarios add to whatever is in the store. Catalog seeding is additive,
	so loading "launch" twice doubles the code pools.

SEE ALSO:
  - handlers.go: Admin routes
  - catalog/catalog.go: Seed
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/earnly/credit-engine/catalog"
	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/webhook"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "launch",
		Name:        "Launch",
		Description: "Default catalog with funded users in three countries",
	},
	{
		ID:          "last-code",
		Name:        "Last Code",
		Description: "One code left, two users who can both afford it",
	},
	{
		ID:          "restricted",
		Name:        "Restricted Account",
		Description: "Locked user with enough credits for everything",
	},
}

type scenarioUser struct {
	user    ledger.User
	credits ledger.Credits
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario by id.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "launch":
		err = h.loadLaunchScenario(r.Context())
	case "last-code":
		err = h.loadLastCodeScenario(r.Context())
	case "restricted":
		err = h.loadRestrictedScenario(r.Context())
	default:
		err = fmt.Errorf("%w: unknown scenario %q", ledger.ErrInvalidArgument, req.ScenarioID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("scenario", req.ScenarioID).Msg("Scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadLaunchScenario(ctx context.Context) error {
	if _, err := catalog.Seed(ctx, h.store, catalog.Default(), h.store.Now()); err != nil {
		return err
	}
	return h.fundUsers(ctx, "launch",
		scenarioUser{ledger.User{ID: "demo-us", Name: "Dana", Email: "dana@example.com", Country: "US"}, 1500},
		scenarioUser{ledger.User{ID: "demo-ro", Name: "Radu", Email: "radu@example.com", Country: "RO"}, 600},
		scenarioUser{ledger.User{ID: "demo-de", Name: "Jonas", Email: "jonas@example.com", Country: "DE"}, 2200},
	)
}

func (h *Handler) loadLastCodeScenario(ctx context.Context) error {
	f := catalog.File{
		Batch:          "scenario_last_code",
		CodesPerReward: 1,
		Rewards: []catalog.Entry{{
			ID: "demo-last-code", Title: "Demo Gift Card $5", Provider: "demo",
			Price: 500, Value: "5", Currency: "USD", Category: "giftcard", Active: true,
		}},
	}
	if _, err := catalog.Seed(ctx, h.store, f, h.store.Now()); err != nil {
		return err
	}
	return h.fundUsers(ctx, "last-code",
		scenarioUser{ledger.User{ID: "demo-racer-1", Name: "Racer One", Country: "US"}, 1000},
		scenarioUser{ledger.User{ID: "demo-racer-2", Name: "Racer Two", Country: "US"}, 1000},
	)
}

func (h *Handler) loadRestrictedScenario(ctx context.Context) error {
	return h.fundUsers(ctx, "restricted",
		scenarioUser{ledger.User{
			ID: "demo-locked", Name: "Locked Out", Country: "US",
			Flags: ledger.Flags{Locked: true},
		}, 10000},
	)
}

// fundUsers creates each user and credits them once per scenario.
func (h *Handler) fundUsers(ctx context.Context, scenario string, users ...scenarioUser) error {
	for _, su := range users {
		if _, err := h.store.CreateUser(ctx, su.user); err != nil {
			return fmt.Errorf("creating %s: %w", su.user.ID, err)
		}
		if su.credits == 0 {
			continue
		}
		_, err := h.ingestor.Apply(ctx, webhook.CreditEvent{
			UserID:  su.user.ID,
			TxID:    fmt.Sprintf("scenario:%s:%s", scenario, su.user.ID),
			Credits: su.credits,
			Source:  "scenario",
		})
		if err != nil {
			return fmt.Errorf("crediting %s: %w", su.user.ID, err)
		}
	}
	return nil
}
