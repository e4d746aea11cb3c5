package models

import "time"

// Product is a catalog item indexed for product search. The embedding is
// computed over the concatenated searchable fields (title, description,
// vendor, product type, variant titles).
type Product struct {
	ID               string           `bson:"_id" json:"product_id"`
	KBID             string           `bson:"kb_id" json:"kb_id"`
	ShopifyProductID string           `bson:"shopify_product_id,omitempty" json:"shopify_product_id,omitempty"`
	Title            string           `bson:"title" json:"title"`
	Description      string           `bson:"description,omitempty" json:"description,omitempty"`
	Vendor           string           `bson:"vendor,omitempty" json:"vendor,omitempty"`
	ProductType      string           `bson:"product_type,omitempty" json:"product_type,omitempty"`
	Price            float64          `bson:"price" json:"price"`
	Inventory        int              `bson:"inventory" json:"inventory"`
	Variants         []ProductVariant `bson:"variants,omitempty" json:"variants,omitempty"`
	Handle           string           `bson:"handle,omitempty" json:"handle,omitempty"`
	ShopDomain       string           `bson:"shop_domain,omitempty" json:"shop_domain,omitempty"`
	ImageURL         string           `bson:"image_url,omitempty" json:"image_url,omitempty"`
	CreatedAt        time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at" json:"updated_at"`
}

// ProductVariant carries per-size/option availability.
type ProductVariant struct {
	Title     string  `bson:"title" json:"title"`
	Price     float64 `bson:"price" json:"price"`
	Inventory int     `bson:"inventory" json:"inventory"`
	Available bool    `bson:"available" json:"available"`
}
