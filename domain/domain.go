// Package domain holds the value objects the fiscal core operates on:
// the finalized order/closing snapshots it receives from upstream systems,
// and the tagged Entity variant the queue worker dispatches on.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Category is the kind of fiscal transaction an order snapshot represents.
type Category string

const (
	CategorySale         Category = "sale"
	CategoryCancellation Category = "cancellation"
	CategoryCorrection   Category = "correction"
)

// LineItem is one priced line of an order.
type LineItem struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	LineTotal   float64
}

// TaxComponent is one named tax applied to an order (GST, QST, ...).
type TaxComponent struct {
	Code   string
	Amount float64
}

// OrderSnapshot is the immutable, finalized order passed into the core.
// The core never recomputes prices or taxes — this is what it receives.
type OrderSnapshot struct {
	OrderID       string
	TenantID      string
	BranchID      string
	DeviceID      string
	Category      Category
	Timestamp     time.Time
	Lines         []LineItem
	Subtotal      float64
	TaxComponents []TaxComponent
	Tip           float64
	GrandTotal    float64
	PaymentMethod string
	ServiceType   string
}

// ClosingSnapshot is the immutable end-of-day closing passed into the core.
type ClosingSnapshot struct {
	ClosingID  string
	TenantID   string
	BranchID   string
	DeviceID   string
	Timestamp  time.Time
	GrandTotal float64
}

// Entity is the common interface the queue worker dispatches on after
// resolving which underlying business object a queue item refers to: it
// resolves once and then operates on a common interface exposing
// (entity_id, timestamp, total_cents, branch_id, device_id).
type Entity interface {
	EntityID() string
	EntityTimestamp() time.Time
	TotalCents() int64
	Branch() string
	Device() string
}

// OrderEntity adapts an OrderSnapshot to the Entity interface.
type OrderEntity struct{ *OrderSnapshot }

func (o OrderEntity) EntityID() string           { return o.OrderID }
func (o OrderEntity) EntityTimestamp() time.Time { return o.Timestamp }
func (o OrderEntity) TotalCents() int64          { return ToCents(o.GrandTotal) }
func (o OrderEntity) Branch() string             { return o.BranchID }
func (o OrderEntity) Device() string             { return o.DeviceID }

// ClosingEntity adapts a ClosingSnapshot to the Entity interface.
type ClosingEntity struct{ *ClosingSnapshot }

func (c ClosingEntity) EntityID() string           { return c.ClosingID }
func (c ClosingEntity) EntityTimestamp() time.Time { return c.Timestamp }
func (c ClosingEntity) TotalCents() int64          { return ToCents(c.GrandTotal) }
func (c ClosingEntity) Branch() string             { return c.BranchID }
func (c ClosingEntity) Device() string             { return c.DeviceID }

// ToCents converts a decimal monetary amount (at most two fractional
// digits) to integer cents.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FormatCents renders integer cents back to a two-decimal string, used
// when building the regulator payload.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ValidateOrder checks the required fields an order snapshot must carry.
// It does not recompute totals — the core trusts the snapshot.
func ValidateOrder(o *OrderSnapshot) error {
	var missing []string
	if o.OrderID == "" {
		missing = append(missing, "order_id")
	}
	if o.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if o.BranchID == "" {
		missing = append(missing, "branch_id")
	}
	if o.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	switch o.Category {
	case CategorySale, CategoryCancellation, CategoryCorrection:
	default:
		missing = append(missing, "category")
	}
	if o.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("domain: order snapshot missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
