package domain

// FeeSchedule carries the marketplace-wide charges applied to every order.
// All monetary fields are in the smallest currency unit; rates are whole
// percentage points.
type FeeSchedule struct {
	Currency          string
	TaxRatePercent    int64
	PlatformFee       int64
	ShippingBase      int64
	ShippingDiscount  int64
	CODSurcharge      int64
	FreeShippingAbove int64
}

// PricingBreakdown captures the aggregated monetary results of pricing a cart.
type PricingBreakdown struct {
	Currency       string
	Subtotal       int64
	CouponDiscount int64
	Tax            int64
	PlatformFee    int64
	Shipping       int64
	Total          int64
	Items          []ItemPricingBreakdown
	Notices        []CartNotice
}

// ItemPricingBreakdown stores the per-line pricing outputs.
type ItemPricingBreakdown struct {
	LineKey   string
	ProductID string
	SellerID  string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
	Discount  int64
}
