/*
Package catalog defines reward catalogs and seeds them into the ledger.

PURPOSE:
  Loads reward definitions (built in or from YAML), generates gift codes
  for them and writes both through ledger.CatalogStore. Stock is never set
  directly: each seeded code raises it by one.

CATALOG FILE:
  batch: spring_2026
  codes_per_reward: 5
  rewards:
    - id: amazon-5
      title: Amazon Gift Card $5
      provider: amazon
      price: 500
      value: "5"
      currency: USD
      region: [US, CA, RO]
      category: giftcard
      active: true
      codes: 10            # overrides codes_per_reward

CODES:
  PROVIDER-VALUE-XXXXXX, e.g. AMAZON-5-7KQ2ZD, expiring one year after
  seeding. Seeding is additive: running it twice doubles the pool.

SEE ALSO:
  - ledger/store.go: CatalogStore
  - api/handlers.go: POST /api/admin/catalog/seed
*/
package catalog

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
)

// DefaultBatch labels codes seeded without an explicit batch.
const DefaultBatch = "initial_batch"

// DefaultCodesPerReward is used when neither the file nor the entry says.
const DefaultCodesPerReward = 5

// Entry is one reward definition.
type Entry struct {
	ID                string   `yaml:"id" validate:"required"`
	Title             string   `yaml:"title" validate:"required"`
	Description       string   `yaml:"description"`
	Provider          string   `yaml:"provider" validate:"required"`
	Price             int64    `yaml:"price" validate:"gt=0"`
	Value             string   `yaml:"value" validate:"required,numeric"`
	Currency          string   `yaml:"currency" validate:"omitempty,len=3"`
	Region            []string `yaml:"region" validate:"dive,len=2"`
	Category          string   `yaml:"category" validate:"oneof=giftcard paypal crypto cashout"`
	Active            bool     `yaml:"active"`
	Image             string   `yaml:"image" validate:"omitempty,url"`
	Terms             string   `yaml:"terms"`
	EstimatedDelivery string   `yaml:"estimated_delivery"`
	Instructions      string   `yaml:"instructions"`
	Codes             int      `yaml:"codes" validate:"gte=0"`
}

// File is a whole catalog.
type File struct {
	Batch          string  `yaml:"batch"`
	CodesPerReward int     `yaml:"codes_per_reward" validate:"gte=0"`
	Rewards        []Entry `yaml:"rewards" validate:"required,min=1,dive"`
}

var validate = validator.New()

// Validate checks every entry and rejects duplicate ids.
func (f File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: catalog: %v", ledger.ErrInvalidArgument, err)
	}
	seen := make(map[string]bool, len(f.Rewards))
	for _, e := range f.Rewards {
		if seen[e.ID] {
			return fmt.Errorf("%w: catalog: duplicate reward id %q", ledger.ErrInvalidArgument, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: parsing catalog: %v", ledger.ErrInvalidArgument, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads a YAML catalog from path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Reward converts the entry into a ledger reward with zero stock.
func (e Entry) Reward() (ledger.Reward, error) {
	value, err := decimal.NewFromString(e.Value)
	if err != nil {
		return ledger.Reward{}, fmt.Errorf("%w: reward %s value %q", ledger.ErrInvalidArgument, e.ID, e.Value)
	}
	currency := e.Currency
	if currency == "" {
		currency = "USD"
	}
	return ledger.Reward{
		ID:                e.ID,
		Title:             e.Title,
		Description:       e.Description,
		Provider:          e.Provider,
		Price:             ledger.Credits(e.Price),
		Value:             value,
		Currency:          currency,
		Region:            e.Region,
		Category:          ledger.Category(e.Category),
		Active:            e.Active,
		Image:             e.Image,
		Terms:             e.Terms,
		EstimatedDelivery: e.EstimatedDelivery,
		Instructions:      e.Instructions,
	}, nil
}

// =============================================================================
// CODE GENERATION
// =============================================================================

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCode returns PROVIDER-VALUE-XXXXXX with a random base-36 suffix.
func GenerateCode(provider string, value decimal.Decimal) (string, error) {
	suffix := make([]byte, 6)
	base := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(provider), value.String(), suffix), nil
}

// GenerateCodes returns n unique free codes for reward, expiring one year
// after now.
func GenerateCodes(reward ledger.Reward, n int, batch string, now time.Time) ([]ledger.GiftCode, error) {
	expires := now.AddDate(1, 0, 0)
	seen := make(map[string]bool, n)
	codes := make([]ledger.GiftCode, 0, n)
	for len(codes) < n {
		code, err := GenerateCode(reward.Provider, reward.Value)
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, ledger.GiftCode{
			RewardID:  reward.ID,
			Code:      code,
			Status:    ledger.CodeFree,
			Batch:     batch,
			ExpiresAt: &expires,
			CreatedAt: now,
		})
	}
	return codes, nil
}

// =============================================================================
// SEEDING
// =============================================================================

// Report lists what a seed run wrote.
type Report struct {
	Rewards int            `json:"rewards"`
	Codes   map[string]int `json:"codes"` // reward id -> codes added
}

// Seed upserts every reward of f and adds its codes.
func Seed(ctx context.Context, store ledger.CatalogStore, f File, now time.Time) (Report, error) {
	if err := f.Validate(); err != nil {
		return Report{}, err
	}
	batch := f.Batch
	if batch == "" {
		batch = DefaultBatch
	}
	perReward := f.CodesPerReward
	if perReward == 0 {
		perReward = DefaultCodesPerReward
	}

	log := logging.Component("catalog")
	report := Report{Codes: make(map[string]int)}
	for _, e := range f.Rewards {
		reward, err := e.Reward()
		if err != nil {
			return report, err
		}
		if err := store.SaveReward(ctx, reward); err != nil {
			return report, fmt.Errorf("saving reward %s: %w", reward.ID, err)
		}
		report.Rewards++

		n := perReward
		if e.Codes > 0 {
			n = e.Codes
		}
		codes, err := GenerateCodes(reward, n, batch, now)
		if err != nil {
			return report, err
		}
		if err := store.AddCodes(ctx, reward.ID, codes); err != nil {
			return report, fmt.Errorf("adding codes to %s: %w", reward.ID, err)
		}
		report.Codes[reward.ID] = n
		log.Info().Str("reward", reward.ID).Int("codes", n).Str("batch", batch).Msg("Reward seeded")
	}
	return report, nil
}
