package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarhub/api/internal/domain"
	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/platform/pagination"
	"github.com/bazaarhub/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order records. Each document carries a
// denormalised sellerIds array so seller-facing queries run as a single
// array-contains filter instead of scanning line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert creates the order document. Inserting an existing ID is a
// conflict. When the surrounding context carries a transaction the create
// joins it, so checkout's stock decrement and order insert commit together.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	doc := newOrderDocument(order)

	if tx, ok := transactionFrom(ctx); ok {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("orders.insert", err)
}

// Update rewrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, id, newOrderDocument(order))
	return err
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List pages through orders newest first, optionally filtered by buyer,
// status set, and placement window.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var token *orderPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeOrderPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		token = decoded
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", statusFilterValues(filter.Status))
		}
		if filter.DateRange.From != nil {
			q = q.Where("placedAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("placedAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if token != nil {
			q = q.StartAfter(token.PlacedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, PlacedAt: last.PlacedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ListBySeller returns every order with at least one line attributed to the
// seller, newest first.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	sid := strings.TrimSpace(sellerID)
	if sid == "" {
		return nil, errors.New("order repository: seller id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerIds", "array-contains", sid).OrderBy("placedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func statusFilterValues(statuses []string) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// Document mapping -----------------------------------------------------------

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	UserID        string              `firestore:"userId"`
	Status        string              `firestore:"status"`
	PaymentMethod string              `firestore:"paymentMethod"`
	Currency      string              `firestore:"currency"`
	Totals        orderTotalsDocument `firestore:"totals"`
	Coupon        *cartCouponDocument `firestore:"coupon,omitempty"`
	Items         []orderItemDocument `firestore:"items"`
	SellerIDs     []string            `firestore:"sellerIds"`
	ShippingAddr  *addressDocument    `firestore:"shippingAddr,omitempty"`
	Metadata      map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	PlacedAt      time.Time           `firestore:"placedAt"`
	ShippedAt     *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason  string              `firestore:"cancelReason,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal       int64 `firestore:"subtotal"`
	CouponDiscount int64 `firestore:"couponDiscount"`
	Tax            int64 `firestore:"tax"`
	PlatformFee    int64 `firestore:"platformFee"`
	Shipping       int64 `firestore:"shipping"`
	Total          int64 `firestore:"total"`
}

type orderItemDocument struct {
	ID               string         `firestore:"id"`
	ProductID        string         `firestore:"productId"`
	SellerID         string         `firestore:"sellerId"`
	Name             string         `firestore:"name"`
	Size             string         `firestore:"size,omitempty"`
	Color            string         `firestore:"color,omitempty"`
	Quantity         int            `firestore:"qty"`
	UnitPrice        int64          `firestore:"unitPrice"`
	Total            int64          `firestore:"total"`
	ReturnWindowDays int            `firestore:"returnWindowDays,omitempty"`
	Metadata         map[string]any `firestore:"metadata,omitempty"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsDocument{
			Subtotal:       order.Totals.Subtotal,
			CouponDiscount: order.Totals.CouponDiscount,
			Tax:            order.Totals.Tax,
			PlatformFee:    order.Totals.PlatformFee,
			Shipping:       order.Totals.Shipping,
			Total:          order.Totals.Total,
		},
		Items:       make([]orderItemDocument, 0, len(order.Items)),
		Metadata:    cloneAnyMap(order.Metadata),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		PlacedAt:    order.PlacedAt.UTC(),
		ShippedAt:   order.ShippedAt,
		DeliveredAt: order.DeliveredAt,
		CancelledAt: order.CancelledAt,
	}
	if order.CancelReason != nil {
		doc.CancelReason = strings.TrimSpace(*order.CancelReason)
	}
	if order.Coupon != nil {
		doc.Coupon = &cartCouponDocument{
			Code:           order.Coupon.Code,
			DiscountAmount: order.Coupon.DiscountAmount,
			Applied:        order.Coupon.Applied,
		}
	}
	if order.ShippingAddr != nil {
		doc.ShippingAddr = newAddressDocument(*order.ShippingAddr)
	}

	sellers := map[string]bool{}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:               item.ID,
			ProductID:        item.ProductID,
			SellerID:         item.SellerID,
			Name:             item.Name,
			Size:             item.Size,
			Color:            item.Color,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Total:            item.Total,
			ReturnWindowDays: item.ReturnWindowDays,
			Metadata:         cloneAnyMap(item.Metadata),
		})
		if sid := strings.TrimSpace(item.SellerID); sid != "" {
			sellers[sid] = true
		}
	}
	doc.SellerIDs = make([]string, 0, len(sellers))
	for sid := range sellers {
		doc.SellerIDs = append(doc.SellerIDs, sid)
	}
	sort.Strings(doc.SellerIDs)
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Currency:      d.Currency,
		Totals: domain.OrderTotals{
			Subtotal:       d.Totals.Subtotal,
			CouponDiscount: d.Totals.CouponDiscount,
			Tax:            d.Totals.Tax,
			PlatformFee:    d.Totals.PlatformFee,
			Shipping:       d.Totals.Shipping,
			Total:          d.Totals.Total,
		},
		Items:       make([]domain.OrderLineItem, 0, len(d.Items)),
		Metadata:    cloneAnyMap(d.Metadata),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		PlacedAt:    d.PlacedAt,
		ShippedAt:   d.ShippedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
	}
	if d.CancelReason != "" {
		reason := d.CancelReason
		order.CancelReason = &reason
	}
	if d.Coupon != nil {
		order.Coupon = &domain.CartCoupon{
			Code:           d.Coupon.Code,
			DiscountAmount: d.Coupon.DiscountAmount,
			Applied:        d.Coupon.Applied,
		}
	}
	if d.ShippingAddr != nil {
		addr := d.ShippingAddr.toDomain()
		order.ShippingAddr = &addr
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			SellerID:         item.SellerID,
			Name:             item.Name,
			Size:             item.Size,
			Color:            item.Color,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Total:            item.Total,
			ReturnWindowDays: item.ReturnWindowDays,
			Metadata:         cloneAnyMap(item.Metadata),
		})
	}
	return order
}

func newAddressDocument(addr domain.Address) *addressDocument {
	doc := &addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
	if addr.Line2 != nil {
		doc.Line2 = strings.TrimSpace(*addr.Line2)
	}
	if addr.State != nil {
		doc.State = strings.TrimSpace(*addr.State)
	}
	if addr.Phone != nil {
		doc.Phone = strings.TrimSpace(*addr.Phone)
	}
	return doc
}

func (d addressDocument) toDomain() domain.Address {
	addr := domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		City:       d.City,
		PostalCode: d.PostalCode,
		Country:    d.Country,
	}
	if d.Line2 != "" {
		line2 := d.Line2
		addr.Line2 = &line2
	}
	if d.State != "" {
		state := d.State
		addr.State = &state
	}
	if d.Phone != "" {
		phone := d.Phone
		addr.Phone = &phone
	}
	return addr
}

type orderPageToken struct {
	ID       string
	PlacedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.PlacedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	placedRaw, okPlaced := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okPlaced || !okID {
		return nil, fmt.Errorf("%w: malformed order cursor", pagination.ErrInvalidPageToken)
	}
	placedAt, err := time.Parse(time.RFC3339Nano, placedRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return &orderPageToken{ID: id, PlacedAt: placedAt}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
