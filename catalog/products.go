package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bt-bridge/voice-shop/functions"
)

const FilterProductsName = "filter_products"

type Product struct {
	ID       int     `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Category string  `json:"category" yaml:"category"`
	Color    string  `json:"color" yaml:"color"`
	Price    float64 `json:"price" yaml:"price"`
	Image    string  `json:"image" yaml:"image"`
}

// Products is the demo store inventory.
var Products = []Product{
	{ID: 1, Name: "Sporty Sneaker", Category: "sneakers", Color: "red", Price: 79.99, Image: "placeholder_red_sneaker.jpg"},
	{ID: 2, Name: "Casual Canvas Shoe", Category: "sneakers", Color: "red", Price: 59.00, Image: "placeholder_red_canvas.jpg"},
	{ID: 3, Name: "Pro Running Sneaker", Category: "sneakers", Color: "red", Price: 95.50, Image: "placeholder_red_running.jpg"},
	{ID: 4, Name: "Elegant High Heels", Category: "shoes", Color: "black", Price: 120.00, Image: "placeholder_black_heels.jpg"},
	{ID: 5, Name: "Summer Sandals", Category: "shoes", Color: "brown", Price: 45.00, Image: "placeholder_brown_sandals.jpg"},
	{ID: 6, Name: "Classic T-Shirt", Category: "shirts", Color: "blue", Price: 25.00, Image: "placeholder_blue_tshirt.jpg"},
	{ID: 7, Name: "V-Neck T-Shirt", Category: "shirts", Color: "blue", Price: 22.00, Image: "placeholder_blue_vneck.jpg"},
	{ID: 8, Name: "Formal Shirt", Category: "shirts", Color: "white", Price: 60.00, Image: "placeholder_white_shirt.jpg"},
	{ID: 9, Name: "Comfy Hoodie", Category: "shirts", Color: "grey", Price: 55.00, Image: "placeholder_grey_hoodie.jpg"},
	{ID: 10, Name: "Leather Boots", Category: "shoes", Color: "black", Price: 150.00, Image: "placeholder_black_boots.jpg"},
}

// Filter narrows a product list. Zero fields do not constrain.
type Filter struct {
	Category string
	Color    string
	MaxPrice *float64
}

func (f Filter) Match(p Product) bool {
	if f.Category != "" {
		want := strings.ToLower(f.Category)
		got := strings.ToLower(p.Category)
		if !strings.Contains(want, got) && !strings.Contains(got, want) {
			return false
		}
	}
	if f.Color != "" && !strings.EqualFold(f.Color, p.Color) {
		return false
	}
	if f.MaxPrice != nil && p.Price > *f.MaxPrice {
		return false
	}
	return true
}

func (f Filter) Apply(products []Product) []Product {
	matched := make([]Product, 0, len(products))
	for _, p := range products {
		if f.Match(p) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Result is what the assistant receives for a filter_products call.
type Result struct {
	Products []Product `json:"products"`
	Message  string    `json:"message"`
}

func (r Result) Summary() string { return r.Message }

func NewResult(products []Product) Result {
	if len(products) == 0 {
		return Result{Products: []Product{}, Message: "No products found matching your criteria."}
	}
	return Result{
		Products: products,
		Message:  fmt.Sprintf("Found %d product(s) matching your criteria", len(products)),
	}
}

func Schema() functions.Schema {
	return functions.Schema{
		Name:        FilterProductsName,
		Description: "Filters products in an online store.",
		Properties: map[string]functions.Property{
			"category":  {Type: "string", Description: "Product category, e.g. shoes, shirts"},
			"color":     {Type: "string", Description: "Color of the product"},
			"max_price": {Type: "number", Description: "Maximum price in USD"},
		},
		Required: []string{"category"},
	}
}

// ParseFilter reads call arguments. Values of the wrong type are ignored.
func ParseFilter(args map[string]any) Filter {
	var f Filter
	if v, ok := args["category"].(string); ok {
		f.Category = strings.TrimSpace(v)
	}
	if v, ok := args["color"].(string); ok {
		f.Color = strings.TrimSpace(v)
	}
	switch v := args["max_price"].(type) {
	case float64:
		f.MaxPrice = &v
	case int:
		p := float64(v)
		f.MaxPrice = &p
	case string:
		if p, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64); err == nil {
			f.MaxPrice = &p
		}
	}
	return f
}

// Handler serves filter_products over products.
func Handler(products []Product) functions.Handler {
	return func(args map[string]any) (any, error) {
		return NewResult(ParseFilter(args).Apply(products)), nil
	}
}

// Register adds filter_products over the demo inventory to r.
func Register(r *functions.Registry) error {
	return r.Register(Schema(), Handler(Products))
}
