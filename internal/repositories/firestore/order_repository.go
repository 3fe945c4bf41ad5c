package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cleanease/api/internal/domain"
	pfirestore "github.com/cleanease/api/internal/platform/firestore"
	"github.com/cleanease/api/internal/platform/pagination"
	"github.com/cleanease/api/internal/repositories"
)

const (
	orderCollection = "orders"
	// orderNumberCollection holds one marker document per issued order number,
	// giving the human-facing number a uniqueness guarantee.
	orderNumberCollection = "orderNumbers"

	defaultOrderPageSize = 50
	maxOrderPageSize     = 100
)

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order together with its order-number marker. A colliding
// order number surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	orderRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	numberRef, err := r.numberRef(ctx, number)
	if err != nil {
		return err
	}

	doc := orderToDocument(order)
	marker := orderNumberDocument{OrderID: orderID, CreatedAt: order.CreatedAt.UTC()}

	create := func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, marker); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	}

	if tx := txFrom(ctx); tx != nil {
		return pfirestore.WrapError("orders.insert", create(ctx, tx))
	}
	return pfirestore.WrapError("orders.insert", r.provider.RunTransaction(ctx, create))
}

// Update rewrites the order document. Inside a transaction the surrounding
// read gives compare-and-swap semantics; outside one the repository opens its
// own transaction so concurrent writers abort instead of overwriting.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := orderToDocument(order)

	if tx := txFrom(ctx); tx != nil {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}

	return pfirestore.WrapError("orders.update", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, doc)
	}))
}

// FindByID loads the order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	if tx := txFrom(ctx); tx != nil {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return orderFromDocument(snap.Ref.ID, doc, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// FindByOrderNumber resolves the marker document and loads the referenced order.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	ref, err := r.numberRef(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orderNumbers.get", err)
	}
	var marker orderNumberDocument
	if err := snap.DataTo(&marker); err != nil {
		return domain.Order{}, pfirestore.WrapError("orderNumbers.get", err)
	}

	return r.FindByID(ctx, marker.OrderID)
}

// List queries orders with optional user, status, and date filters, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			query = query.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(decodeCursorValues(cursor.StartAfter)...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, orderFromDocument(doc.ID, doc.Data, doc.UpdateTime))
	}
	return page, nil
}

func (r *OrderRepository) numberRef(ctx context.Context, number string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderNumberCollection).Doc(number), nil
}

// decodeCursorValues restores cursor timestamps serialised as RFC3339 strings.
func decodeCursorValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				out[i] = ts
				continue
			}
		}
		out[i] = v
	}
	return out
}

func orderToDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ServiceID:   item.ServiceID,
			ServiceName: item.ServiceName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	return orderDocument{
		OrderNumber:         order.OrderNumber,
		UserID:              order.UserID,
		Items:               items,
		Status:              string(order.Status),
		PaymentStatus:       string(order.PaymentStatus),
		PickupDate:          order.PickupDate.UTC(),
		DeliveryDate:        order.DeliveryDate.UTC(),
		DeliveryAddress:     order.DeliveryAddress,
		SpecialInstructions: order.SpecialInstructions,
		TotalAmount:         order.TotalAmount,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
}

func orderFromDocument(id string, doc orderDocument, updateTime time.Time) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ServiceID:   item.ServiceID,
			ServiceName: item.ServiceName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	updatedAt := doc.UpdatedAt
	if !updateTime.IsZero() {
		updatedAt = updateTime
	}
	return domain.Order{
		ID:                  id,
		OrderNumber:         doc.OrderNumber,
		UserID:              doc.UserID,
		Items:               items,
		Status:              domain.OrderStatus(doc.Status),
		PaymentStatus:       domain.OrderPaymentStatus(doc.PaymentStatus),
		PickupDate:          doc.PickupDate,
		DeliveryDate:        doc.DeliveryDate,
		DeliveryAddress:     doc.DeliveryAddress,
		SpecialInstructions: doc.SpecialInstructions,
		TotalAmount:         doc.TotalAmount,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           updatedAt,
	}
}

type orderDocument struct {
	OrderNumber         string              `firestore:"orderNumber"`
	UserID              string              `firestore:"userId"`
	Items               []orderItemDocument `firestore:"items"`
	Status              string              `firestore:"status"`
	PaymentStatus       string              `firestore:"paymentStatus"`
	PickupDate          time.Time           `firestore:"pickupDate"`
	DeliveryDate        time.Time           `firestore:"deliveryDate"`
	DeliveryAddress     string              `firestore:"deliveryAddress"`
	SpecialInstructions string              `firestore:"specialInstructions,omitempty"`
	TotalAmount         int64               `firestore:"totalAmount"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ServiceID   string `firestore:"serviceId"`
	ServiceName string `firestore:"serviceName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	LineTotal   int64  `firestore:"lineTotal"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
