package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
	errCartStockRequired      = errors.New("cart service: stock checker is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartOutOfStock indicates the requested variant has no available stock at all.
var ErrCartOutOfStock = errors.New("cart service: out of stock")

// CartServiceDeps wires the repository, stock, coupon, and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Stock           StockChecker
	Coupons         CouponService
	Pricer          *PricingEngine
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	stock    StockChecker
	coupons  CouponService
	pricer   *PricingEngine
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
	locks    ownerLocks
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Stock == nil {
		return nil, errCartStockRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:     deps.Repository,
		stock:    deps.Stock,
		coupons:  deps.Coupons,
		pricer:   deps.Pricer,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}, nil
}

// ownerLocks serializes mutations per cart owner so concurrent requests
// from the same session apply one at a time. Distinct owners never block
// each other.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *ownerLocks) acquire(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetCart loads the owner's cart, revalidating every line against current
// price and stock before returning it. Adjustments are reported as notices
// and the corrected cart is persisted so every reader sees the same state.
func (s *cartService) GetCart(ctx context.Context, owner CartOwner) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return CartView{}, err
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.loadOrCreate(ctx, owner, key)
	if err != nil {
		return CartView{}, err
	}
	return s.revalidateAndPersist(ctx, cart)
}

// AddItem appends quantity to the matching cart line, creating the line if
// absent. The stock authority is consulted first: a variant with zero
// availability rejects the addition, and a shortfall clamps the resulting
// quantity rather than dropping the item.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return CartView{}, err
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product_id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.loadOrCreate(ctx, cmd.Owner, key)
	if err != nil {
		return CartView{}, err
	}

	stockKey := repositories.StockKey{ProductID: productID, Size: cmd.Size, Color: cmd.Color}
	levels, err := s.stock.Levels(ctx, []repositories.StockKey{stockKey})
	if err != nil {
		return CartView{}, err
	}
	level, ok := levels[domain.LineKey(productID, cmd.Size, cmd.Color)]
	if !ok || !level.Active {
		return CartView{}, fmt.Errorf("%w: product unavailable", ErrCartInvalidInput)
	}
	if level.Available <= 0 {
		return CartView{}, ErrCartOutOfStock
	}

	now := s.now()
	items := cloneCartItems(cart.Items)
	lineKey := domain.LineKey(productID, cmd.Size, cmd.Color)
	idx := indexOfCartLine(items, lineKey)

	desired := cmd.Quantity
	if idx >= 0 {
		desired += items[idx].Quantity
	}

	var notices []CartNotice
	if desired > level.Available {
		desired = level.Available
		notices = append(notices, CartNotice{
			LineKey:   lineKey,
			ProductID: productID,
			Code:      domain.CartNoticeClamped,
			Message:   fmt.Sprintf("only %d in stock", level.Available),
		})
		s.logger(ctx, "cart.quantity_clamped", map[string]any{
			"ownerKey":  key,
			"productID": productID,
			"available": level.Available,
		})
	}

	if idx >= 0 {
		items[idx].Quantity = desired
		items[idx].UnitPrice = level.UnitPrice
		ts := now
		items[idx].UpdatedAt = &ts
	} else {
		newID := strings.TrimSpace(s.newID())
		if newID == "" {
			newID = fmt.Sprintf("line-%d", now.UnixNano())
		}
		items = append(items, domain.CartItem{
			ID:        newID,
			ProductID: productID,
			SellerID:  level.SellerID,
			Name:      level.Name,
			Size:      strings.ToLower(strings.TrimSpace(cmd.Size)),
			Color:     strings.ToLower(strings.TrimSpace(cmd.Color)),
			Quantity:  desired,
			UnitPrice: level.UnitPrice,
			Currency:  cart.Currency,
			Metadata:  map[string]any{},
			AddedAt:   now,
		})
	}

	cart.Items = items
	cart.UpdatedAt = now
	view, err := s.persistItems(ctx, cart, key)
	if err != nil {
		return CartView{}, err
	}
	view.Notices = append(notices, view.Notices...)
	return view, nil
}

// SetQuantity replaces a line's quantity. Zero or negative removes the
// line; a quantity above current stock clamps to the available amount.
func (s *cartService) SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return CartView{}, err
	}
	lineKey := strings.TrimSpace(cmd.LineKey)
	if lineKey == "" {
		return CartView{}, fmt.Errorf("%w: line key is required", ErrCartInvalidInput)
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.load(ctx, key)
	if err != nil {
		return CartView{}, err
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartLine(items, lineKey)
	if idx < 0 {
		return CartView{}, ErrCartNotFound
	}

	now := s.now()
	var notices []CartNotice

	if cmd.Quantity <= 0 {
		items = append(items[:idx], items[idx+1:]...)
	} else {
		item := items[idx]
		stockKey := repositories.StockKey{ProductID: item.ProductID, Size: item.Size, Color: item.Color}
		levels, err := s.stock.Levels(ctx, []repositories.StockKey{stockKey})
		if err != nil {
			return CartView{}, err
		}
		level, ok := levels[lineKey]
		if !ok || !level.Active || level.Available <= 0 {
			return CartView{}, ErrCartOutOfStock
		}
		quantity := cmd.Quantity
		if quantity > level.Available {
			quantity = level.Available
			notices = append(notices, CartNotice{
				LineKey:   lineKey,
				ProductID: item.ProductID,
				Code:      domain.CartNoticeClamped,
				Message:   fmt.Sprintf("only %d in stock", level.Available),
			})
		}
		items[idx].Quantity = quantity
		items[idx].UnitPrice = level.UnitPrice
		ts := now
		items[idx].UpdatedAt = &ts
	}

	cart.Items = items
	cart.UpdatedAt = now
	view, err := s.persistItems(ctx, cart, key)
	if err != nil {
		return CartView{}, err
	}
	view.Notices = append(notices, view.Notices...)
	return view, nil
}

// RemoveItem deletes the line identified by its composite key.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return CartView{}, err
	}
	lineKey := strings.TrimSpace(cmd.LineKey)
	if lineKey == "" {
		return CartView{}, fmt.Errorf("%w: line key is required", ErrCartInvalidInput)
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.load(ctx, key)
	if err != nil {
		return CartView{}, err
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartLine(items, lineKey)
	if idx < 0 {
		return CartView{}, ErrCartNotFound
	}
	items = append(items[:idx], items[idx+1:]...)

	cart.Items = items
	cart.UpdatedAt = s.now()
	return s.persistItems(ctx, cart, key)
}

// MergeOnLogin folds the anonymous session cart into the user's persisted
// cart. Lines are unioned by composite key taking the larger quantity, the
// merged cart is revalidated against current price and stock, and the
// anonymous cart is discarded. Running the merge twice is a no-op.
func (s *cartService) MergeOnLogin(ctx context.Context, cmd MergeCartsCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user_id is required", ErrCartInvalidInput)
	}
	sessionID := strings.TrimSpace(cmd.SessionID)

	userOwner := CartOwner{UserID: userID}
	userKey := userOwner.Key()

	release := s.locks.acquire(userKey)
	defer release()

	cart, err := s.loadOrCreate(ctx, userOwner, userKey)
	if err != nil {
		return CartView{}, err
	}

	if sessionID == "" {
		return s.revalidateAndPersist(ctx, cart)
	}

	sessionKey := domain.CartOwner{SessionID: sessionID}.Key()
	anon, err := s.repo.GetCart(ctx, sessionKey)
	if err != nil {
		if isRepoNotFound(err) {
			// Already merged or never existed; the user cart stands.
			return s.revalidateAndPersist(ctx, cart)
		}
		return CartView{}, s.translateRepoError(err)
	}

	now := s.now()
	items := cloneCartItems(cart.Items)
	for _, anonItem := range anon.Items {
		if anonItem.Quantity <= 0 {
			continue
		}
		idx := indexOfCartLine(items, anonItem.LineKey())
		if idx >= 0 {
			if anonItem.Quantity > items[idx].Quantity {
				items[idx].Quantity = anonItem.Quantity
				ts := now
				items[idx].UpdatedAt = &ts
			}
			continue
		}
		merged := anonItem
		merged.ID = strings.TrimSpace(s.newID())
		if merged.ID == "" {
			merged.ID = fmt.Sprintf("line-%d", now.UnixNano())
		}
		merged.AddedAt = now
		merged.UpdatedAt = nil
		items = append(items, merged)
	}

	if cart.Coupon == nil && anon.Coupon != nil {
		coupon := *anon.Coupon
		cart.Coupon = &coupon
	}

	cart.Items = items
	cart.UpdatedAt = now

	view, err := s.revalidateAndPersist(ctx, cart)
	if err != nil {
		return CartView{}, err
	}

	if err := s.repo.Delete(ctx, sessionKey); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "cart.session_cart_delete_failed", map[string]any{
			"sessionKey": sessionKey,
			"error":      err.Error(),
		})
	}
	return view, nil
}

// ApplyCoupon validates the code against the revalidated subtotal and
// attaches it. The attach is optimistic: a failed write leaves the stored
// cart untouched and the request fails as a whole.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	if s.coupons == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(cmd.Owner)
	if err != nil {
		return CartView{}, err
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.load(ctx, key)
	if err != nil {
		return CartView{}, err
	}

	items, notices, err := s.refreshLines(ctx, cart.Items)
	if err != nil {
		return CartView{}, err
	}
	cart.Items = items

	subtotal, err := Subtotal(cart.Items)
	if err != nil {
		return CartView{}, ErrCartInvalidInput
	}

	appliedCode := ""
	if cart.Coupon != nil && cart.Coupon.Applied {
		appliedCode = cart.Coupon.Code
	}

	result, err := s.coupons.Validate(ctx, ValidateCouponCommand{
		Code:        cmd.Code,
		Subtotal:    subtotal,
		AppliedCode: appliedCode,
	})
	if err != nil {
		return CartView{}, err
	}

	previousUpdatedAt := cart.UpdatedAt
	cart.Coupon = &domain.CartCoupon{
		Code:           result.Code,
		DiscountAmount: result.Discount,
		Applied:        true,
	}
	cart.UpdatedAt = s.now()

	view, err := s.persistHeader(ctx, cart, previousUpdatedAt)
	if err != nil {
		return CartView{}, err
	}
	view.Notices = append(notices, view.Notices...)
	return view, nil
}

// RemoveCoupon detaches any applied coupon from the cart.
func (s *cartService) RemoveCoupon(ctx context.Context, owner CartOwner) (CartView, error) {
	if s == nil || s.repo == nil {
		return CartView{}, ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return CartView{}, err
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.load(ctx, key)
	if err != nil {
		return CartView{}, err
	}

	previousUpdatedAt := cart.UpdatedAt
	cart.Coupon = nil
	cart.UpdatedAt = s.now()
	return s.persistHeader(ctx, cart, previousUpdatedAt)
}

// ClearCart deletes the owner's cart entirely.
func (s *cartService) ClearCart(ctx context.Context, owner CartOwner) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}

	release := s.locks.acquire(key)
	defer release()

	if err := s.repo.Delete(ctx, key); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	return nil
}

// Snapshot captures an immutable copy of the cart for later restore.
func (s *cartService) Snapshot(ctx context.Context, owner CartOwner) (CartSnapshot, error) {
	if s == nil || s.repo == nil {
		return CartSnapshot{}, ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return CartSnapshot{}, err
	}

	cart, err := s.load(ctx, key)
	if err != nil {
		return CartSnapshot{}, err
	}

	snapshot := CartSnapshot{
		OwnerKey: key,
		Items:    cloneCartItems(cart.Items),
		TakenAt:  s.now(),
	}
	if cart.Coupon != nil {
		coupon := *cart.Coupon
		snapshot.Coupon = &coupon
	}
	return snapshot, nil
}

// Restore writes the snapshot back verbatim, recreating the cart when it
// was already cleared. Used to undo an abandoned checkout.
func (s *cartService) Restore(ctx context.Context, owner CartOwner, snapshot CartSnapshot) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}

	release := s.locks.acquire(key)
	defer release()

	cart, err := s.loadOrCreate(ctx, owner, key)
	if err != nil {
		return err
	}

	cart.Items = cloneCartItems(snapshot.Items)
	cart.Coupon = nil
	if snapshot.Coupon != nil {
		coupon := *snapshot.Coupon
		cart.Coupon = &coupon
	}
	cart.UpdatedAt = s.now()

	if _, err := s.repo.ReplaceItems(ctx, key, cart.Items); err != nil {
		return s.translateRepoError(err)
	}
	if _, err := s.repo.UpsertCart(ctx, cart, nil); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// Internals -----------------------------------------------------------------

func ownerKey(owner CartOwner) (string, error) {
	if strings.TrimSpace(owner.UserID) == "" && strings.TrimSpace(owner.SessionID) == "" {
		return "", fmt.Errorf("%w: cart owner is required", ErrCartInvalidInput)
	}
	return owner.Key(), nil
}

func (s *cartService) load(ctx context.Context, key string) (domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, key)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Cart{}, ErrCartNotFound
		}
		return domain.Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, key), nil
}

func (s *cartService) loadOrCreate(ctx context.Context, owner CartOwner, key string) (domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, key)
	if err != nil {
		if !isRepoNotFound(err) {
			return domain.Cart{}, s.translateRepoError(err)
		}
		cart = s.newCart(owner, key)
		saved, err := s.repo.UpsertCart(ctx, cart, nil)
		if err != nil {
			return domain.Cart{}, s.translateRepoError(err)
		}
		cart = saved
	}
	return s.normaliseCart(cart, key), nil
}

func (s *cartService) newCart(owner CartOwner, key string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        key,
		OwnerKey:  key,
		UserID:    strings.TrimSpace(owner.UserID),
		Currency:  s.currency,
		Items:     []domain.CartItem{},
		Metadata:  map[string]any{},
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, key string) domain.Cart {
	if strings.TrimSpace(cart.ID) == "" {
		cart.ID = key
	}
	if strings.TrimSpace(cart.OwnerKey) == "" {
		cart.OwnerKey = key
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

// refreshLines re-reads price and stock for every line. Unknown or retired
// variants are dropped, shortfalls clamp, and stale prices are refreshed.
// Zero-quantity lines never survive.
func (s *cartService) refreshLines(ctx context.Context, items []domain.CartItem) ([]domain.CartItem, []CartNotice, error) {
	if len(items) == 0 {
		return []domain.CartItem{}, nil, nil
	}

	keys := make([]repositories.StockKey, 0, len(items))
	for _, item := range items {
		keys = append(keys, repositories.StockKey{ProductID: item.ProductID, Size: item.Size, Color: item.Color})
	}
	levels, err := s.stock.Levels(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	refreshed := make([]domain.CartItem, 0, len(items))
	var notices []CartNotice

	for _, item := range cloneCartItems(items) {
		lineKey := item.LineKey()
		level, ok := levels[lineKey]
		if !ok || !level.Active {
			notices = append(notices, CartNotice{
				LineKey:   lineKey,
				ProductID: item.ProductID,
				Code:      domain.CartNoticeRemoved,
				Message:   "product no longer available",
			})
			continue
		}
		if item.Quantity <= 0 {
			continue
		}
		if level.Available <= 0 {
			notices = append(notices, CartNotice{
				LineKey:   lineKey,
				ProductID: item.ProductID,
				Code:      domain.CartNoticeRemoved,
				Message:   "out of stock",
			})
			continue
		}
		if item.Quantity > level.Available {
			item.Quantity = level.Available
			ts := now
			item.UpdatedAt = &ts
			notices = append(notices, CartNotice{
				LineKey:   lineKey,
				ProductID: item.ProductID,
				Code:      domain.CartNoticeClamped,
				Message:   fmt.Sprintf("only %d in stock", level.Available),
			})
		}
		if item.UnitPrice != level.UnitPrice {
			item.UnitPrice = level.UnitPrice
			ts := now
			item.UpdatedAt = &ts
			notices = append(notices, CartNotice{
				LineKey:   lineKey,
				ProductID: item.ProductID,
				Code:      domain.CartNoticePriceChanged,
				Message:   "price updated",
			})
		}
		refreshed = append(refreshed, item)
	}

	return refreshed, notices, nil
}

// revalidateCoupon recomputes any attached coupon against the new subtotal,
// detaching it with a notice when it stopped qualifying.
func (s *cartService) revalidateCoupon(ctx context.Context, cart *domain.Cart) ([]CartNotice, error) {
	if cart.Coupon == nil || s.coupons == nil {
		return nil, nil
	}

	subtotal, err := Subtotal(cart.Items)
	if err != nil {
		return nil, ErrCartInvalidInput
	}

	result, err := s.coupons.Revalidate(ctx, RevalidateCouponCommand{
		Code:     cart.Coupon.Code,
		Subtotal: subtotal,
	})
	if err != nil {
		return nil, ErrCartUnavailable
	}
	if result.Detached {
		code := cart.Coupon.Code
		cart.Coupon = nil
		return []CartNotice{{
			Code:    domain.CartNoticeCouponDetached,
			Message: fmt.Sprintf("coupon %s removed: %s", code, result.Reason),
		}}, nil
	}
	cart.Coupon.DiscountAmount = result.Discount
	return nil, nil
}

func (s *cartService) priceCart(cart *domain.Cart) error {
	if s.pricer == nil {
		subtotal, err := Subtotal(cart.Items)
		if err != nil {
			return ErrCartInvalidInput
		}
		cart.Estimate = &domain.CartEstimate{Subtotal: subtotal, Total: subtotal}
		return nil
	}
	discount := int64(0)
	if cart.Coupon != nil {
		discount = cart.Coupon.DiscountAmount
	}
	estimate, err := s.pricer.Estimate(cart.Items, discount, domain.PaymentMethodPrepaid)
	if err != nil {
		return ErrCartInvalidInput
	}
	cart.Estimate = &estimate
	return nil
}

// revalidateAndPersist runs the full refresh pipeline and writes the
// corrected cart back so storage always reflects what the caller saw.
func (s *cartService) revalidateAndPersist(ctx context.Context, cart domain.Cart) (CartView, error) {
	items, notices, err := s.refreshLines(ctx, cart.Items)
	if err != nil {
		return CartView{}, err
	}
	cart.Items = items

	couponNotices, err := s.revalidateCoupon(ctx, &cart)
	if err != nil {
		return CartView{}, err
	}
	notices = append(notices, couponNotices...)

	if err := s.priceCart(&cart); err != nil {
		return CartView{}, err
	}

	cart.UpdatedAt = s.now()
	if _, err := s.repo.ReplaceItems(ctx, cart.OwnerKey, cart.Items); err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	saved, err := s.repo.UpsertCart(ctx, cart, nil)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	saved = s.normaliseCart(saved, cart.OwnerKey)
	saved.Items = cart.Items
	saved.Estimate = cart.Estimate
	return CartView{Cart: saved, Notices: notices}, nil
}

// persistItems writes the item list, then revalidates the attached coupon
// and estimate against the new contents.
func (s *cartService) persistItems(ctx context.Context, cart domain.Cart, key string) (CartView, error) {
	saved, err := s.repo.ReplaceItems(ctx, key, cart.Items)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	saved = s.normaliseCart(saved, key)
	saved.Items = cart.Items
	saved.Coupon = cart.Coupon

	notices, err := s.revalidateCoupon(ctx, &saved)
	if err != nil {
		return CartView{}, err
	}
	if err := s.priceCart(&saved); err != nil {
		return CartView{}, err
	}
	if _, err := s.repo.UpsertCart(ctx, saved, nil); err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	return CartView{Cart: saved, Notices: notices}, nil
}

// persistHeader writes the cart header with optimistic concurrency against
// the previous update timestamp.
func (s *cartService) persistHeader(ctx context.Context, cart domain.Cart, previousUpdatedAt time.Time) (CartView, error) {
	var expected *time.Time
	if !previousUpdatedAt.IsZero() {
		ts := previousUpdatedAt.UTC()
		expected = &ts
	}
	if err := s.priceCart(&cart); err != nil {
		return CartView{}, err
	}
	saved, err := s.repo.UpsertCart(ctx, cart, expected)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}
	saved = s.normaliseCart(saved, cart.OwnerKey)
	saved.Items = cart.Items
	saved.Estimate = cart.Estimate
	return CartView{Cart: saved}, nil
}

func (s *cartService) translateRepoError(err error) error {
	return mapRepositoryError(err, ErrCartNotFound, ErrCartConflict, ErrCartUnavailable)
}

func indexOfCartLine(items []domain.CartItem, lineKey string) int {
	for i, item := range items {
		if item.LineKey() == lineKey {
			return i
		}
	}
	return -1
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	dup := make([]domain.CartItem, len(items))
	copy(dup, items)
	for i := range dup {
		dup[i].Metadata = cloneAnyMap(dup[i].Metadata)
		if dup[i].UpdatedAt != nil {
			ts := dup[i].UpdatedAt.UTC()
			dup[i].UpdatedAt = &ts
		}
	}
	return dup
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
