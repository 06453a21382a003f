package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

const (
	returnIDPrefix      = "ret_"
	defaultReturnWindow = 7 * 24 * time.Hour
)

var (
	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnForbidden indicates the actor may not act on this return.
	ErrReturnForbidden = errors.New("return: forbidden")
	// ErrReturnInvalidState indicates the request is not eligible for the operation.
	ErrReturnInvalidState = errors.New("return: invalid state")
	// ErrReturnWindowClosed indicates the return window for the item has passed.
	ErrReturnWindowClosed = errors.New("return: window closed")
	// ErrReturnUnavailable indicates the backend could not be reached.
	ErrReturnUnavailable = errors.New("return: unavailable")
)

// ReturnServiceDeps bundles collaborators for the return workflow.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Window      time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(context.Context, string, map[string]any)
}

type returnService struct {
	returns repositories.ReturnRepository
	orders  repositories.OrderRepository
	window  time.Duration
	clock   func() time.Time
	newID   func() string
	events  OrderEventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewReturnService wires the return request workflow.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	window := deps.Window
	if window <= 0 {
		window = defaultReturnWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &returnService{
		returns: deps.Returns,
		orders:  deps.Orders,
		window:  window,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		events:  deps.Events,
		logger:  logger,
	}, nil
}

// Create opens a return request for one delivered order line. Only the
// buyer may file one, and only while the return window is open.
func (s *returnService) Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	lineItemID := strings.TrimSpace(cmd.LineItemID)
	if orderID == "" || lineItemID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order and line item are required", ErrReturnInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return ReturnRequest{}, fmt.Errorf("%w: quantity must be greater than zero", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return ReturnRequest{}, ErrReturnNotFound
		}
		return ReturnRequest{}, ErrReturnUnavailable
	}

	if order.UserID != strings.TrimSpace(cmd.Actor.UserID) && !cmd.Actor.Admin {
		return ReturnRequest{}, ErrReturnForbidden
	}
	if order.Status != domain.OrderStatusDelivered || order.DeliveredAt == nil {
		return ReturnRequest{}, fmt.Errorf("%w: order is not delivered", ErrReturnInvalidState)
	}

	var line *domain.OrderLineItem
	for i := range order.Items {
		if order.Items[i].ID == lineItemID {
			line = &order.Items[i]
			break
		}
	}
	if line == nil {
		return ReturnRequest{}, fmt.Errorf("%w: line item not on order", ErrReturnInvalidInput)
	}
	if cmd.Quantity > line.Quantity {
		return ReturnRequest{}, fmt.Errorf("%w: quantity exceeds purchased amount", ErrReturnInvalidInput)
	}

	// The line's snapshotted product window wins over the platform default.
	now := s.clock()
	window := s.window
	if line.ReturnWindowDays > 0 {
		window = time.Duration(line.ReturnWindowDays) * 24 * time.Hour
	}
	if now.After(order.DeliveredAt.Add(window)) {
		return ReturnRequest{}, ErrReturnWindowClosed
	}

	request := ReturnRequest{
		ID:         returnIDPrefix + s.newID(),
		OrderID:    order.ID,
		UserID:     order.UserID,
		SellerID:   line.SellerID,
		LineItemID: line.ID,
		ProductID:  line.ProductID,
		Quantity:   cmd.Quantity,
		UnitPrice:  line.UnitPrice,
		Reason:     strings.TrimSpace(cmd.Reason),
		Status:     domain.ReturnStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.returns.Insert(ctx, request); err != nil {
		return ReturnRequest{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, domain.OrderEvent{
		Type:       domain.OrderEventReturnCreated,
		OrderID:    order.ID,
		ReturnID:   request.ID,
		UserID:     order.UserID,
		SellerIDs:  []string{request.SellerID},
		Status:     string(request.Status),
		OccurredAt: now,
	})

	return request, nil
}

// Review settles a pending request exactly once. Approving it makes the
// returned value deductible from the seller's recognized revenue.
func (s *returnService) Review(ctx context.Context, cmd ReviewReturnCommand) (ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	if !cmd.Actor.Admin {
		return ReturnRequest{}, ErrReturnForbidden
	}

	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.translateRepoError(err)
	}
	if request.Status != domain.ReturnStatusPending {
		return ReturnRequest{}, fmt.Errorf("%w: return already reviewed", ErrReturnInvalidState)
	}

	now := s.clock()
	reviewer := strings.TrimSpace(cmd.Actor.UserID)
	request.Status = domain.ReturnStatusRejected
	if cmd.Approve {
		request.Status = domain.ReturnStatusApproved
	}
	request.ReviewedBy = &reviewer
	request.ReviewedAt = &now
	request.UpdatedAt = now

	if err := s.returns.Update(ctx, request); err != nil {
		return ReturnRequest{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, domain.OrderEvent{
		Type:       domain.OrderEventReturnUpdated,
		OrderID:    request.OrderID,
		ReturnID:   request.ID,
		UserID:     request.UserID,
		SellerIDs:  []string{request.SellerID},
		Status:     string(request.Status),
		OccurredAt: now,
	})

	return request, nil
}

func (s *returnService) Get(ctx context.Context, returnID string, actor Actor) (ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return ReturnRequest{}, s.translateRepoError(err)
	}
	if !actorMayReadReturn(actor, request) {
		return ReturnRequest{}, ErrReturnForbidden
	}
	return request, nil
}

func (s *returnService) List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error) {
	page, err := s.returns.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[ReturnRequest]{}, s.translateRepoError(err)
	}
	return page, nil
}

func actorMayReadReturn(actor Actor, request ReturnRequest) bool {
	if actor.Admin {
		return true
	}
	if uid := strings.TrimSpace(actor.UserID); uid != "" && request.UserID == uid {
		return true
	}
	if sid := strings.TrimSpace(actor.SellerID); sid != "" && request.SellerID == sid {
		return true
	}
	return false
}

func (s *returnService) translateRepoError(err error) error {
	return mapRepositoryError(err, ErrReturnNotFound, ErrReturnInvalidState, ErrReturnUnavailable)
}

func (s *returnService) publishEvent(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event_publish_failed", map[string]any{
			"type":   event.Type,
			"return": event.ReturnID,
			"error":  err.Error(),
		})
	}
}
