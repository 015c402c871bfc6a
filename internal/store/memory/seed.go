package memory

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"kasirledger/backend/internal/domain"
)

//go:embed seed.yaml
var seedYAML []byte

type Seed struct {
	TenantID string        `yaml:"tenant_id"`
	Products []seedProduct `yaml:"products"`
	Users    []seedUser    `yaml:"users"`
}

type seedProduct struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name"`
	Barcode           string          `yaml:"barcode"`
	SaleType          domain.SaleType `yaml:"sale_type"`
	UnitSalePrice     string          `yaml:"unit_sale_price"`
	UnitCost          string          `yaml:"unit_cost"`
	StockUnits        int64           `yaml:"stock_units"`
	BulkUnitSizeGrams int64           `yaml:"bulk_unit_size_grams"`
}

// seedUser passwords come from PasswordEnv when set. DefaultPassword is only
// meant for dev/demo mode.
type seedUser struct {
	Username        string      `yaml:"username"`
	DisplayName     string      `yaml:"display_name"`
	Role            domain.Role `yaml:"role"`
	PasswordEnv     string      `yaml:"password_env"`
	DefaultPassword string      `yaml:"default_password"`
}

// ParseSeed decodes a YAML fixture. It is exported so tests can build small catalogs.
func ParseSeed(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	if strings.TrimSpace(seed.TenantID) == "" {
		return Seed{}, fmt.Errorf("parse seed: tenant_id is required")
	}
	return seed, nil
}

func (s Seed) products(now time.Time) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(s.Products))
	for _, p := range s.Products {
		price, err := decimal.NewFromString(p.UnitSalePrice)
		if err != nil {
			return nil, fmt.Errorf("product %s: unit_sale_price: %w", p.ID, err)
		}
		cost, err := decimal.NewFromString(p.UnitCost)
		if err != nil {
			return nil, fmt.Errorf("product %s: unit_cost: %w", p.ID, err)
		}
		size := p.BulkUnitSizeGrams
		if size < 1 {
			size = 1
		}
		out = append(out, domain.Product{
			ID:                p.ID,
			TenantID:          s.TenantID,
			Name:              p.Name,
			Barcode:           p.Barcode,
			UnitSalePrice:     price,
			UnitCost:          cost,
			StockUnits:        p.StockUnits,
			SaleType:          p.SaleType,
			BulkUnitSizeGrams: size,
			UpdatedAt:         now,
		})
	}
	return out, nil
}

func (s Seed) users(now time.Time) (map[string]domain.UserAccount, error) {
	users := make(map[string]domain.UserAccount, len(s.Users))
	warned := false
	for _, u := range s.Users {
		password := ""
		if u.PasswordEnv != "" {
			password = os.Getenv(u.PasswordEnv)
		}
		if password == "" {
			password = u.DefaultPassword
			if !warned {
				log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override")
				warned = true
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.Username, err)
		}
		username := strings.ToLower(strings.TrimSpace(u.Username))
		users[username] = domain.UserAccount{
			Username:    username,
			Password:    string(hash),
			Role:        u.Role,
			TenantID:    s.TenantID,
			DisplayName: u.DisplayName,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users, nil
}
