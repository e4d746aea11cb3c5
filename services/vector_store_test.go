package services

import (
	"math"
	"testing"

	"knowledge-retrieval-service/models"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0.0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
			if math.IsNaN(got) {
				t.Error("similarity must never be NaN")
			}
		})
	}
}

func TestCosineSimilarityUnnormalized(t *testing.T) {
	// scaling either vector must not change the similarity
	a := []float32{3, 4}
	b := []float32{30, 40}
	if got := CosineSimilarity(a, b); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("scaled identical direction = %v, want 1.0", got)
	}
}

func TestPurchaseURL(t *testing.T) {
	p := &models.Product{
		Title:      "Blue Widget",
		Handle:     "blue-widget",
		ShopDomain: "shop.example.com",
	}
	if got := purchaseURL(p); got != "https://shop.example.com/products/blue-widget" {
		t.Errorf("purchaseURL = %q", got)
	}

	p.Handle = ""
	if got := purchaseURL(p); got != "https://shop.example.com/products/blue-widget" {
		t.Errorf("slugified purchaseURL = %q", got)
	}

	p.ShopDomain = ""
	if got := purchaseURL(p); got != "" {
		t.Errorf("expected empty URL without shop domain, got %q", got)
	}
}

func TestProductFilters(t *testing.T) {
	price := func(v float64) *float64 { return &v }
	p := &models.Product{
		Price:       25,
		Vendor:      "Acme",
		ProductType: "tools",
		Inventory:   3,
		Variants:    []models.ProductVariant{{Title: "M", Available: true}},
	}

	if !productPassesFilters(p, nil) {
		t.Error("nil filters must pass")
	}
	if !productPassesFilters(p, &models.ProductFilters{PriceMin: price(10), PriceMax: price(30)}) {
		t.Error("in-range price must pass")
	}
	if productPassesFilters(p, &models.ProductFilters{PriceMax: price(20)}) {
		t.Error("over-priced product must be filtered")
	}
	if !productPassesFilters(p, &models.ProductFilters{Vendor: "acme"}) {
		t.Error("vendor match is case-insensitive")
	}
	if productPassesFilters(p, &models.ProductFilters{Vendor: "Other"}) {
		t.Error("wrong vendor must be filtered")
	}
	p.Inventory = 0
	if productPassesFilters(p, &models.ProductFilters{InStockOnly: true}) {
		t.Error("out-of-stock must be filtered with InStockOnly")
	}
}
