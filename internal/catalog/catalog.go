package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yvesmarin/beach_orders/internal/models"
)

// Catalog exposes the read-only product/beach lookups the fulfillment core
// consumes. Catalog maintenance lives elsewhere.
type Catalog struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{DB: db}
}

func (c *Catalog) ProductOwner(ctx context.Context, productID uint) (uint, error) {
	var product models.Product
	if err := c.DB.WithContext(ctx).Select("id", "restaurant_id").First(&product, productID).Error; err != nil {
		return 0, err
	}
	return product.RestaurantID, nil
}

func (c *Catalog) BeachExists(ctx context.Context, beachID uint) (bool, error) {
	var count int64
	err := c.DB.WithContext(ctx).Model(&models.Beach{}).Where("id = ?", beachID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// BeachSellsProduct reports whether the beach publishes a price listing for
// the product.
func (c *Catalog) BeachSellsProduct(ctx context.Context, beachID, productID uint) (bool, error) {
	var count int64
	err := c.DB.WithContext(ctx).Model(&models.BeachProduct{}).
		Where("beach_id = ? AND product_id = ?", beachID, productID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type Listing struct {
	Product models.Product `json:"product"`
	Price   float64        `json:"price"`
}

// BeachListing returns the beach's published products with their prices.
func (c *Catalog) BeachListing(ctx context.Context, beachID uint) ([]Listing, error) {
	var rows []models.BeachProduct
	err := c.DB.WithContext(ctx).
		Where("beach_id = ?", beachID).
		Order("product_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	listings := make([]Listing, 0, len(rows))
	for _, row := range rows {
		var product models.Product
		if err := c.DB.WithContext(ctx).First(&product, row.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		listings = append(listings, Listing{Product: product, Price: row.Price})
	}
	return listings, nil
}

// Products resolves a set of product ids in one query.
func (c *Catalog) Products(ctx context.Context, ids []uint) (map[uint]models.Product, error) {
	if len(ids) == 0 {
		return map[uint]models.Product{}, nil
	}
	var products []models.Product
	if err := c.DB.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}
