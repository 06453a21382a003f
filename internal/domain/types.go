package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CartOwner identifies who a cart belongs to. Guest carts are keyed by a
// client-held session identifier; authenticated carts by the user id.
type CartOwner struct {
	UserID    string
	SessionID string
}

// Key returns the storage key for the owner. User identity wins when both
// are present so a merged cart never splits back into two documents.
func (o CartOwner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}

// Authenticated reports whether the owner is a signed-in user.
func (o CartOwner) Authenticated() bool {
	return o.UserID != ""
}

// Cart aggregates the mutable shopping cart state for one owner.
type Cart struct {
	ID        string
	OwnerKey  string
	UserID    string
	Currency  string
	Coupon    *CartCoupon
	Items     []CartItem
	Estimate  *CartEstimate
	Metadata  map[string]any
	UpdatedAt time.Time
}

// CartCoupon captures the applied coupon snapshot on a cart.
type CartCoupon struct {
	Code           string
	DiscountAmount int64
	Applied        bool
}

// CartItem stores a single product variant entry within a cart.
type CartItem struct {
	ID        string
	ProductID string
	SellerID  string
	Name      string
	Size      string
	Color     string
	Quantity  int
	UnitPrice int64
	Currency  string
	Metadata  map[string]any
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// LineKey returns the identity of a cart line. Two additions of the same
// product and variant always collapse to one line.
func (i CartItem) LineKey() string {
	return LineKey(i.ProductID, i.Size, i.Color)
}

// LineKey builds the composite identity for a product variant.
func LineKey(productID, size, color string) string {
	return fmt.Sprintf("%s|%s|%s", productID, strings.ToLower(size), strings.ToLower(color))
}

// CartEstimate summarizes totals calculated for the cart.
type CartEstimate struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Fees     int64
	Total    int64
}

// CartNotice surfaces a non-fatal adjustment made during revalidation,
// such as a clamped quantity or a removed line.
type CartNotice struct {
	LineKey   string
	ProductID string
	Code      string
	Message   string
}

// Cart notice codes.
const (
	CartNoticeClamped        = "quantity_clamped"
	CartNoticeRemoved        = "item_removed"
	CartNoticePriceChanged   = "price_changed"
	CartNoticeCouponDetached = "coupon_detached"
)

// CartSnapshot is an immutable copy of cart lines used for merge-on-login
// and for restoring a cart after an abandoned checkout.
type CartSnapshot struct {
	OwnerKey string
	Items    []CartItem
	Coupon   *CartCoupon
	TakenAt  time.Time
}

// CouponType enumerates supported discount shapes.
type CouponType string

const (
	// CouponTypeFlat deducts a fixed amount, capped at the cart subtotal.
	CouponTypeFlat CouponType = "flat"
	// CouponTypePercentage deducts a percentage of the subtotal.
	CouponTypePercentage CouponType = "percentage"
)

// Coupon describes a discount rule persisted by admin services. Codes are
// stored uppercase and matched case-insensitively.
type Coupon struct {
	ID          string
	Code        string
	Type        CouponType
	Value       int64
	MinPurchase int64
	ExpiresAt   *time.Time
	Active      bool
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodCOD indicates cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodPrepaid indicates payment collected online at checkout.
	PaymentMethodPrepaid PaymentMethod = "prepaid"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusProcessing indicates the order is placed and being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order captures an immutable purchase record. After placement only the
// status and its timestamps may change; items are snapshots taken at
// checkout and never follow later product edits.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	Currency      string
	Totals        OrderTotals
	Coupon        *CartCoupon
	Items         []OrderLineItem
	ShippingAddr  *Address
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PlacedAt      time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal       int64
	CouponDiscount int64
	Tax            int64
	PlatformFee    int64
	Shipping       int64
	Total          int64
}

// OrderLineItem mirrors a cart line at the time of checkout, including the
// seller attribution used by revenue recognition.
type OrderLineItem struct {
	ID        string
	ProductID string
	SellerID  string
	Name      string
	Size      string
	Color     string
	Quantity  int
	UnitPrice int64
	Total     int64
	// ReturnWindowDays overrides the platform return window for this line
	// when positive. Snapshotted from the product at placement.
	ReturnWindowDays int
	Metadata         map[string]any
}

// ReturnStatus enumerates states of a return request.
type ReturnStatus string

const (
	// ReturnStatusPending indicates the request awaits review.
	ReturnStatusPending ReturnStatus = "pending"
	// ReturnStatusApproved indicates the request was approved and the value deducts from revenue.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected indicates the request was rejected.
	ReturnStatusRejected ReturnStatus = "rejected"
)

// ReturnRequest records a buyer's post-delivery return of one order line.
type ReturnRequest struct {
	ID          string
	OrderID     string
	UserID      string
	SellerID    string
	LineItemID  string
	ProductID   string
	Quantity    int
	UnitPrice   int64
	Reason      string
	Status      ReturnStatus
	ReviewedBy  *string
	ReviewedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Value returns the gross monetary value of the returned units.
func (r ReturnRequest) Value() int64 {
	return r.UnitPrice * int64(r.Quantity)
}

// StockLevel represents current availability tracked per product variant.
type StockLevel struct {
	ProductID string
	Size      string
	Color     string
	Available int
	UnitPrice int64
	Currency  string
	SellerID  string
	Name      string
	Active    bool
	// ReturnWindowDays is a per-product return window; zero means the
	// platform default applies.
	ReturnWindowDays int
	UpdatedAt        time.Time
}

// SellerRevenueSummary aggregates recognized revenue for one seller as of
// a point in time. Amounts carry coupon proration and return deductions.
type SellerRevenueSummary struct {
	SellerID         string
	GrossSales       int64
	DiscountShare    int64
	ReturnDeductions int64
	NetRevenue       int64
	OrderCount       int
	ReturnCount      int
	GeneratedAt      time.Time
}

// OrderEvent describes a ledger change published to the notification feed.
// Consumers treat it purely as an invalidation signal and reload state.
type OrderEvent struct {
	Type       string
	OrderID    string
	ReturnID   string
	UserID     string
	SellerIDs  []string
	Status     string
	OccurredAt time.Time
}

// Order event types.
const (
	OrderEventPlaced        = "order.placed"
	OrderEventStatusChanged = "order.status_changed"
	OrderEventReturnCreated = "return.created"
	OrderEventReturnUpdated = "return.updated"
)

// Address represents a postal address shared by checkout and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
