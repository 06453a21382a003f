package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bazaarhub/api/internal/domain"
	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/platform/pagination"
	"github.com/bazaarhub/api/internal/repositories"
)

const returnCollection = "returns"

// ReturnRepository persists return requests raised against delivered orders.
type ReturnRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[returnDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[returnDocument](provider, returnCollection, nil, nil)
	return &ReturnRepository{provider: provider, base: base}, nil
}

// Insert creates the return document. An existing ID is a conflict.
func (r *ReturnRepository) Insert(ctx context.Context, req domain.ReturnRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("return repository: return id is required")
	}

	doc := newReturnDocument(req)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	return pfirestore.WrapError("returns.insert", err)
}

// Update rewrites the return document.
func (r *ReturnRepository) Update(ctx context.Context, req domain.ReturnRequest) error {
	if r == nil || r.base == nil {
		return errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return errors.New("return repository: return id is required")
	}
	_, err := r.base.Set(ctx, id, newReturnDocument(req))
	return err
}

// FindByID loads one return request.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.base == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	id := strings.TrimSpace(returnID)
	if id == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List pages through return requests newest first.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	var token *returnPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeReturnPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		token = decoded
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if oid := strings.TrimSpace(filter.OrderID); oid != "" {
			q = q.Where("orderId", "==", oid)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", statusFilterValues(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	returns := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		returns = append(returns, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(returns) > pageSize
	if hasMore {
		returns = returns[:pageSize]
	}
	var nextToken string
	if hasMore && len(returns) > 0 {
		last := returns[len(returns)-1]
		encoded, err := encodeReturnPageToken(returnPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, err
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReturnRequest]{Items: returns, NextPageToken: nextToken}, nil
}

// ListBySeller returns every return raised against the seller's lines,
// newest first.
func (r *ReturnRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.ReturnRequest, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("return repository not initialised")
	}
	sid := strings.TrimSpace(sellerID)
	if sid == "" {
		return nil, errors.New("return repository: seller id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerId", "==", sid).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	returns := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		returns = append(returns, doc.Data.toDomain(doc.ID))
	}
	return returns, nil
}

// Document mapping -----------------------------------------------------------

type returnDocument struct {
	OrderID    string     `firestore:"orderId"`
	UserID     string     `firestore:"userId"`
	SellerID   string     `firestore:"sellerId"`
	LineItemID string     `firestore:"lineItemId"`
	ProductID  string     `firestore:"productId"`
	Quantity   int        `firestore:"qty"`
	UnitPrice  int64      `firestore:"unitPrice"`
	Reason     string     `firestore:"reason,omitempty"`
	Status     string     `firestore:"status"`
	ReviewedBy string     `firestore:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `firestore:"reviewedAt,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	UpdatedAt  time.Time  `firestore:"updatedAt"`
}

func newReturnDocument(req domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		OrderID:    strings.TrimSpace(req.OrderID),
		UserID:     strings.TrimSpace(req.UserID),
		SellerID:   strings.TrimSpace(req.SellerID),
		LineItemID: strings.TrimSpace(req.LineItemID),
		ProductID:  strings.TrimSpace(req.ProductID),
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		Reason:     strings.TrimSpace(req.Reason),
		Status:     string(req.Status),
		ReviewedAt: req.ReviewedAt,
		CreatedAt:  req.CreatedAt.UTC(),
		UpdatedAt:  req.UpdatedAt.UTC(),
	}
	if req.ReviewedBy != nil {
		doc.ReviewedBy = strings.TrimSpace(*req.ReviewedBy)
	}
	return doc
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	req := domain.ReturnRequest{
		ID:         id,
		OrderID:    d.OrderID,
		UserID:     d.UserID,
		SellerID:   d.SellerID,
		LineItemID: d.LineItemID,
		ProductID:  d.ProductID,
		Quantity:   d.Quantity,
		UnitPrice:  d.UnitPrice,
		Reason:     d.Reason,
		Status:     domain.ReturnStatus(d.Status),
		ReviewedAt: d.ReviewedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.ReviewedBy != "" {
		reviewer := d.ReviewedBy
		req.ReviewedBy = &reviewer
	}
	return req
}

type returnPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeReturnPageToken(token returnPageToken) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{token.CreatedAt.UTC().Format(time.RFC3339Nano), token.ID},
	})
}

func decodeReturnPageToken(encoded string) (*returnPageToken, error) {
	cursor, err := pagination.DecodeToken(encoded)
	if err != nil {
		return nil, err
	}
	if len(cursor.StartAfter) != 2 {
		return nil, fmt.Errorf("%w: malformed return cursor", pagination.ErrInvalidPageToken)
	}
	createdRaw, okCreated := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okCreated || !okID {
		return nil, fmt.Errorf("%w: malformed return cursor", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return &returnPageToken{ID: id, CreatedAt: createdAt}, nil
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)
