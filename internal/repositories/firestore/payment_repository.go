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
	paymentCollection = "payments"

	defaultPaymentPageSize = 50
	maxPaymentPageSize     = 100
)

// PaymentRepository persists payment attempts within Firestore.
type PaymentRepository struct {
	base     *pfirestore.BaseRepository[paymentDocument]
	provider *pfirestore.Provider
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, paymentCollection, nil, nil)
	return &PaymentRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the payment document; an existing id surfaces as a conflict.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}

	ref, err := r.base.DocumentRef(ctx, paymentID)
	if err != nil {
		return err
	}
	doc := paymentToDocument(payment)

	if tx := txFrom(ctx); tx != nil {
		return pfirestore.WrapError("payments.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("payments.insert", err)
}

// Update rewrites the payment document.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}

	ref, err := r.base.DocumentRef(ctx, paymentID)
	if err != nil {
		return err
	}
	doc := paymentToDocument(payment)

	if tx := txFrom(ctx); tx != nil {
		return pfirestore.WrapError("payments.update", tx.Set(ref, doc))
	}

	return pfirestore.WrapError("payments.update", r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, doc)
	}))
}

// FindByID loads the payment by document id.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}

	if tx := txFrom(ctx); tx != nil {
		ref, err := r.base.DocumentRef(ctx, paymentID)
		if err != nil {
			return domain.Payment{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Payment{}, pfirestore.WrapError("payments.get", err)
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Payment{}, pfirestore.WrapError("payments.get", err)
		}
		return paymentFromDocument(snap.Ref.ID, doc, snap.UpdateTime), nil
	}

	doc, err := r.base.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return paymentFromDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// FindByProviderRef resolves the payment holding the given provider intent id.
func (r *PaymentRepository) FindByProviderRef(ctx context.Context, providerRef string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return domain.Payment{}, errors.New("payment repository: provider ref is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("providerRef", "==", providerRef).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.WrapError("payments.findByProviderRef", notFoundError("payment with provider ref "+providerRef))
	}
	return paymentFromDocument(docs[0].ID, docs[0].Data, docs[0].UpdateTime), nil
}

// ListByOrder returns every payment attempt recorded for the order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment repository: order id is required")
	}

	builder := func(query firestore.Query) firestore.Query {
		return query.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	}

	var (
		docs []pfirestore.Document[paymentDocument]
		err  error
	)
	if tx := txFrom(ctx); tx != nil {
		docs, err = r.base.QueryIn(ctx, tx, builder)
	} else {
		docs, err = r.base.Query(ctx, builder)
	}
	if err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(docs))
	for _, doc := range docs {
		payments = append(payments, paymentFromDocument(doc.ID, doc.Data, doc.UpdateTime))
	}
	return payments, nil
}

// List queries payments with optional user, order, and status filters, newest first.
func (r *PaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Payment]{}, errors.New("payment repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultPaymentPageSize
	}
	if pageSize > maxPaymentPageSize {
		pageSize = maxPaymentPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, pfirestore.WrapError("payments.list", err)
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if oid := strings.TrimSpace(filter.OrderID); oid != "" {
			query = query.Where("orderId", "==", oid)
		}
		if len(filter.Status) > 0 {
			query = query.Where("status", "in", filter.Status)
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(decodeCursorValues(cursor.StartAfter)...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, err
	}

	page := domain.CursorPage[domain.Payment]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.Payment]{}, pfirestore.WrapError("payments.list", err)
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, paymentFromDocument(doc.ID, doc.Data, doc.UpdateTime))
	}
	return page, nil
}

func paymentToDocument(payment domain.Payment) paymentDocument {
	doc := paymentDocument{
		OrderID:     payment.OrderID,
		UserID:      payment.UserID,
		Amount:      payment.Amount,
		Method:      string(payment.Method),
		Status:      string(payment.Status),
		ProviderRef: payment.ProviderRef,
		CreatedAt:   payment.CreatedAt.UTC(),
		UpdatedAt:   payment.UpdatedAt.UTC(),
	}
	if payment.PaidAt != nil {
		paidAt := payment.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	return doc
}

func paymentFromDocument(id string, doc paymentDocument, updateTime time.Time) domain.Payment {
	updatedAt := doc.UpdatedAt
	if !updateTime.IsZero() {
		updatedAt = updateTime
	}
	return domain.Payment{
		ID:          id,
		OrderID:     doc.OrderID,
		UserID:      doc.UserID,
		Amount:      doc.Amount,
		Method:      domain.PaymentMethod(doc.Method),
		Status:      domain.PaymentStatus(doc.Status),
		ProviderRef: doc.ProviderRef,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   updatedAt,
		PaidAt:      doc.PaidAt,
	}
}

type paymentDocument struct {
	OrderID     string     `firestore:"orderId"`
	UserID      string     `firestore:"userId"`
	Amount      int64      `firestore:"amount"`
	Method      string     `firestore:"method"`
	Status      string     `firestore:"status"`
	ProviderRef string     `firestore:"providerRef,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
