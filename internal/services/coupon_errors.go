package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponInactive indicates the coupon exists but has been deactivated.
	ErrCouponInactive = errors.New("coupon service: coupon inactive")
	// ErrCouponExpired indicates the coupon expiry date has passed.
	ErrCouponExpired = errors.New("coupon service: coupon expired")
	// ErrCouponBelowMinimum indicates the cart subtotal does not meet the coupon's minimum purchase.
	ErrCouponBelowMinimum = errors.New("coupon service: subtotal below minimum purchase")
	// ErrCouponAlreadyApplied indicates the cart already carries a coupon.
	ErrCouponAlreadyApplied = errors.New("coupon service: coupon already applied")
	// ErrCouponUnavailable indicates the coupon backend cannot be reached.
	ErrCouponUnavailable = errors.New("coupon service: unavailable")
)

// Detach reasons reported when a previously applied coupon stops qualifying.
const (
	CouponDetachInvalid      = "invalid"
	CouponDetachInactive     = "inactive"
	CouponDetachExpired      = "expired"
	CouponDetachBelowMinimum = "below_minimum"
)
