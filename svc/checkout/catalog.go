package checkout

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Yashkondane/soulhome-official/svc/billing"
	"github.com/Yashkondane/soulhome-official/svc/membership"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrInvalidCatalog      = errors.New("invalid product catalog")
	ErrFailedToLoadCatalog = errors.New("failed to load product catalog")
)

type ProductType string

const (
	TypeSubscription ProductType = "subscription"
	TypeOneTime      ProductType = "one_time"
)

// Product is a purchasable plan or one-time offering. Price is in minor
// currency units.
type Product struct {
	ID            string      `yaml:"id" json:"id"`
	Name          string      `yaml:"name" json:"name"`
	Description   string      `yaml:"description" json:"description,omitempty"`
	Type          ProductType `yaml:"type" json:"type"`
	Price         int64       `yaml:"price" json:"price"`
	Currency      string      `yaml:"currency" json:"currency"`
	Interval      string      `yaml:"interval" json:"interval,omitempty"`
	PriceID       string      `yaml:"price_id" json:"-"`
	DownloadLimit int         `yaml:"download_limit" json:"download_limit,omitempty"`
	Features      []string    `yaml:"features" json:"features,omitempty"`
}

// Mode returns the checkout mode that sells p.
func (p Product) Mode() billing.CheckoutMode {
	if p.Type == TypeSubscription {
		return billing.ModeSubscription
	}
	return billing.ModePayment
}

// LineItem describes p to the billing provider.
func (p Product) LineItem() billing.LineItem {
	item := billing.LineItem{
		PriceID:     p.PriceID,
		Name:        p.Name,
		Description: p.Description,
		UnitAmount:  p.Price,
		Currency:    p.Currency,
	}
	if p.Type == TypeSubscription {
		item.Interval = p.Interval
	}
	return item
}

type catalogFile struct {
	Currency string    `yaml:"currency"`
	Products []Product `yaml:"products"`
}

// Catalog is an immutable set of products.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

// DefaultCatalog returns the built-in membership plans.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("checkout: built-in catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates YAML catalog content.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("%w: no products", ErrInvalidCatalog)
	}

	c := &Catalog{byID: make(map[string]Product, len(f.Products))}
	for _, p := range f.Products {
		if p.Currency == "" {
			p.Currency = f.Currency
		}
		p.Currency = strings.ToLower(p.Currency)
		if p.Type == TypeSubscription && p.DownloadLimit <= 0 {
			p.DownloadLimit = membership.DefaultDownloadLimit
		}
		if err := validateProduct(p); err != nil {
			return nil, err
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidCatalog, p.ID)
		}
		c.byID[p.ID] = p
		c.products = append(c.products, p)
	}
	return c, nil
}

func validateProduct(p Product) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: product without id", ErrInvalidCatalog)
	case p.Name == "":
		return fmt.Errorf("%w: product %q has no name", ErrInvalidCatalog, p.ID)
	case p.Type != TypeSubscription && p.Type != TypeOneTime:
		return fmt.Errorf("%w: product %q has unknown type %q", ErrInvalidCatalog, p.ID, p.Type)
	case p.PriceID == "" && p.Price <= 0:
		return fmt.Errorf("%w: product %q needs a price or a provider price id", ErrInvalidCatalog, p.ID)
	case p.PriceID == "" && p.Currency == "":
		return fmt.Errorf("%w: product %q has no currency", ErrInvalidCatalog, p.ID)
	case p.Type == TypeSubscription && p.Interval != "month" && p.Interval != "year":
		return fmt.Errorf("%w: subscription %q needs interval month or year", ErrInvalidCatalog, p.ID)
	}
	return nil
}

// Product looks up a product by id.
func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Products returns all products in file order.
func (c *Catalog) Products() []Product {
	return slices.Clone(c.products)
}

// DownloadLimit returns the per-period download limit of planID, falling
// back to membership.DefaultDownloadLimit for unknown plans.
func (c *Catalog) DownloadLimit(planID string) int {
	if p, ok := c.byID[planID]; ok && p.DownloadLimit > 0 {
		return p.DownloadLimit
	}
	return membership.DefaultDownloadLimit
}
