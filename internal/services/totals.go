package services

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	domain "github.com/bazaarhub/api/internal/domain"
)

// ErrPricingInvalidInput indicates a negative amount or malformed fee schedule.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// ErrPricingOverflow indicates an intermediate amount exceeded int64 range.
var ErrPricingOverflow = errors.New("pricing: amount overflow")

// PricingEngine derives order totals from the marketplace fee schedule.
// All methods are pure; the engine holds no mutable state.
type PricingEngine struct {
	fees domain.FeeSchedule
}

// NewPricingEngine validates the fee schedule and returns an engine.
func NewPricingEngine(fees domain.FeeSchedule) (*PricingEngine, error) {
	if fees.TaxRatePercent < 0 || fees.TaxRatePercent > 100 {
		return nil, fmt.Errorf("%w: tax rate must be between 0 and 100", ErrPricingInvalidInput)
	}
	if fees.PlatformFee < 0 || fees.ShippingBase < 0 || fees.CODSurcharge < 0 {
		return nil, fmt.Errorf("%w: fees must be non-negative", ErrPricingInvalidInput)
	}
	if fees.ShippingDiscount < 0 || fees.ShippingDiscount > 100 {
		return nil, fmt.Errorf("%w: shipping discount must be between 0 and 100", ErrPricingInvalidInput)
	}
	if strings.TrimSpace(fees.Currency) == "" {
		fees.Currency = "INR"
	}
	return &PricingEngine{fees: fees}, nil
}

// Fees returns the schedule the engine was built with.
func (e *PricingEngine) Fees() domain.FeeSchedule {
	return e.fees
}

// Subtotal sums line totals, skipping non-positive quantities and prices.
func Subtotal(items []domain.CartItem) (int64, error) {
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		line, err := mulInt64(item.UnitPrice, int64(item.Quantity))
		if err != nil {
			return 0, err
		}
		subtotal, err = addInt64(subtotal, line)
		if err != nil {
			return 0, err
		}
	}
	return subtotal, nil
}

// ShippingFee computes the delivery charge for one order: the base fee less
// any global percentage discount, plus the cash-on-delivery surcharge.
// Orders above the free-shipping threshold still pay the COD surcharge.
func (e *PricingEngine) ShippingFee(subtotal int64, method domain.PaymentMethod) int64 {
	fee := e.fees.ShippingBase
	if e.fees.FreeShippingAbove > 0 && subtotal >= e.fees.FreeShippingAbove {
		fee = 0
	} else if e.fees.ShippingDiscount > 0 {
		fee -= fee * e.fees.ShippingDiscount / 100
	}
	if method == domain.PaymentMethodCOD {
		fee += e.fees.CODSurcharge
	}
	return fee
}

// ComputeTotal prices a cart given its subtotal and the already-validated
// coupon discount. The grand total never goes below zero even when the
// discount exceeds the sum of the other components.
func (e *PricingEngine) ComputeTotal(items []domain.CartItem, couponDiscount int64, method domain.PaymentMethod) (domain.PricingBreakdown, error) {
	if couponDiscount < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: coupon discount must be non-negative", ErrPricingInvalidInput)
	}

	subtotal, err := Subtotal(items)
	if err != nil {
		return domain.PricingBreakdown{}, err
	}

	tax := subtotal * e.fees.TaxRatePercent / 100
	shipping := e.ShippingFee(subtotal, method)

	total := subtotal + tax + e.fees.PlatformFee + shipping - couponDiscount
	if total < 0 {
		total = 0
	}

	breakdown := domain.PricingBreakdown{
		Currency:       e.fees.Currency,
		Subtotal:       subtotal,
		CouponDiscount: couponDiscount,
		Tax:            tax,
		PlatformFee:    e.fees.PlatformFee,
		Shipping:       shipping,
		Total:          total,
		Items:          buildItemBreakdowns(items, couponDiscount),
	}
	return breakdown, nil
}

// Estimate folds a breakdown into the compact form stored on the cart.
func (e *PricingEngine) Estimate(items []domain.CartItem, couponDiscount int64, method domain.PaymentMethod) (domain.CartEstimate, error) {
	breakdown, err := e.ComputeTotal(items, couponDiscount, method)
	if err != nil {
		return domain.CartEstimate{}, err
	}
	return domain.CartEstimate{
		Subtotal: breakdown.Subtotal,
		Discount: breakdown.CouponDiscount,
		Tax:      breakdown.Tax,
		Shipping: breakdown.Shipping,
		Fees:     breakdown.PlatformFee,
		Total:    breakdown.Total,
	}, nil
}

func buildItemBreakdowns(items []domain.CartItem, couponDiscount int64) []domain.ItemPricingBreakdown {
	if len(items) == 0 {
		return nil
	}
	breakdowns := make([]domain.ItemPricingBreakdown, 0, len(items))
	weights := make([]int64, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		line := item.UnitPrice * int64(item.Quantity)
		breakdowns = append(breakdowns, domain.ItemPricingBreakdown{
			LineKey:   item.LineKey(),
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  line,
		})
		weights = append(weights, line)
	}
	alloc := allocateByWeight(couponDiscount, weights)
	for i := range breakdowns {
		if i < len(alloc) {
			breakdowns[i].Discount = alloc[i]
		}
	}
	return breakdowns
}

// allocateByWeight splits an amount across weights proportionally, handing
// the integer remainder to the largest fractional shares first so the
// allocations always sum to the amount.
func allocateByWeight(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	allocations := make([]int64, len(weights))
	if amount == 0 {
		return allocations
	}
	totalWeight := int64(0)
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		// distribute evenly if all zero
		base := amount / int64(len(weights))
		remainder := amount % int64(len(weights))
		for i := range weights {
			allocations[i] = base
			if remainder > 0 {
				allocations[i]++
				remainder--
			}
		}
		return allocations
	}

	remainderPairs := make([]struct {
		idx       int
		remainder int64
	}, len(weights))

	distributed := int64(0)
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		share := (amount * w) / totalWeight
		allocations[i] = share
		distributed += share
		remainderPairs[i] = struct {
			idx       int
			remainder int64
		}{idx: i, remainder: (amount * w) % totalWeight}
	}

	remainder := amount - distributed
	if remainder <= 0 {
		return allocations
	}

	sort.SliceStable(remainderPairs, func(i, j int) bool {
		if remainderPairs[i].remainder == remainderPairs[j].remainder {
			return remainderPairs[i].idx < remainderPairs[j].idx
		}
		return remainderPairs[i].remainder > remainderPairs[j].remainder
	})

	for _, entry := range remainderPairs {
		if remainder == 0 {
			break
		}
		allocations[entry.idx]++
		remainder--
	}

	return allocations
}

func mulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrPricingOverflow
	}
	return a * b, nil
}

func addInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrPricingOverflow
	}
	return a + b, nil
}
