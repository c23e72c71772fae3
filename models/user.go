package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

// Principal is the authenticated caller as carried by the bearer token.
type Principal struct {
	UserID int64
	Role   Role
}

// CanManageOrders reports the seller-side capability to move orders along
// their lifecycle.
func (p Principal) CanManageOrders() bool {
	return p.Role == RoleVendor || p.Role == RoleAdmin
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CartItem is one line of a buyer's cart.
type CartItem struct {
	ProductID  string          `json:"product_id"`
	Title      string          `json:"title"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	VendorName string          `json:"vendor_name"`
}

func (c CartItem) Subtotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// Placeholder reports sample listings that cannot be purchased.
func (c CartItem) Placeholder() bool {
	return strings.HasPrefix(c.ProductID, "demo")
}
