package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

var errInjected = errors.New("injected failure")

// mockRepository is an in-memory store without cascading deletes, so items
// outlive their header unless removed explicitly.
type mockRepository struct {
	mu      sync.Mutex
	headers map[int64]*Document
	items   map[int64][]LineItem
	nextID  int64
	nextRow int64

	// Error injection. Counters fail the first N calls only.
	createHeaderError  error
	insertItemsError   error
	replaceItemsErrors []error
	updateHeaderError  error
	updateStatusError  error
	deleteHeaderError  error
	deleteItemsErrors  []error
	listItemsError     error

	// beforeWrite runs ahead of ReplaceItems and UpdateHeader, outside the
	// lock, to simulate a concurrent writer.
	beforeWrite func()
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		headers: make(map[int64]*Document),
		items:   make(map[int64][]LineItem),
		nextID:  1,
		nextRow: 1,
	}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *mockRepository) CreateHeader(ctx context.Context, doc *Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createHeaderError != nil {
		return 0, m.createHeaderError
	}
	for _, h := range m.headers {
		if h.TenantID == doc.TenantID && h.Kind == doc.Kind && h.IssueYear == doc.IssueYear && h.Number == doc.Number {
			return 0, &ConflictError{Scope: Scope{TenantID: doc.TenantID, Kind: doc.Kind, Year: doc.IssueYear}, Number: doc.Number}
		}
		if doc.ConvertedFromID != nil && h.ConvertedFromID != nil && *h.ConvertedFromID == *doc.ConvertedFromID && h.TenantID == doc.TenantID {
			return 0, invalid("ConvertedFromID", "quote %d already has an invoice", *doc.ConvertedFromID)
		}
	}
	stored := *doc
	stored.ID = m.nextID
	stored.Items = nil
	m.headers[stored.ID] = &stored
	m.nextID++
	return stored.ID, nil
}

func (m *mockRepository) InsertItems(ctx context.Context, documentID int64, items []LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertItemsError != nil {
		return m.insertItemsError
	}
	m.storeItems(documentID, items)
	return nil
}

func (m *mockRepository) storeItems(documentID int64, items []LineItem) {
	stored := make([]LineItem, 0, len(items))
	for _, item := range items {
		item.ID = m.nextRow
		item.DocumentID = documentID
		m.nextRow++
		stored = append(stored, item)
	}
	m.items[documentID] = append(m.items[documentID], stored...)
}

func (m *mockRepository) ReplaceItems(ctx context.Context, documentID int64, items []LineItem, expect Status) error {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := popErr(&m.replaceItemsErrors); err != nil {
		return err
	}
	doc, ok := m.headers[documentID]
	if !ok {
		return &NotFoundError{Resource: "document", ID: documentID}
	}
	if doc.Status != expect {
		return statusMoved(documentID, doc.Status, expect)
	}
	delete(m.items, documentID)
	m.storeItems(documentID, items)
	return nil
}

func (m *mockRepository) UpdateHeader(ctx context.Context, tenantID, id int64, h HeaderUpdate, expect Status) error {
	if m.beforeWrite != nil {
		m.beforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateHeaderError != nil {
		return m.updateHeaderError
	}
	doc, ok := m.headers[id]
	if !ok || doc.TenantID != tenantID {
		return &NotFoundError{Resource: "document", ID: id}
	}
	if doc.Status != expect {
		return statusMoved(id, doc.Status, expect)
	}
	doc.ClientName = h.ClientName
	doc.ClientEmail = h.ClientEmail
	doc.ClientPhone = h.ClientPhone
	doc.ClientAddress = h.ClientAddress
	doc.IssueDate = h.IssueDate
	doc.DueDate = h.DueDate
	doc.ValidUntil = h.ValidUntil
	doc.Notes = h.Notes
	doc.Terms = h.Terms
	doc.Subtotal = h.Totals.Subtotal
	doc.TotalTax = h.Totals.TotalTax
	doc.Total = h.Totals.Total
	return nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, tenantID, id int64, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStatusError != nil {
		return false, m.updateStatusError
	}
	doc, ok := m.headers[id]
	if !ok || doc.TenantID != tenantID || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	return true, nil
}

func (m *mockRepository) DeleteHeader(ctx context.Context, tenantID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteHeaderError != nil {
		return m.deleteHeaderError
	}
	doc, ok := m.headers[id]
	if !ok || doc.TenantID != tenantID {
		return &NotFoundError{Resource: "document", ID: id}
	}
	delete(m.headers, id)
	return nil
}

func (m *mockRepository) DeleteItems(ctx context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := popErr(&m.deleteItemsErrors); err != nil {
		return err
	}
	delete(m.items, documentID)
	return nil
}

func (m *mockRepository) GetHeader(ctx context.Context, tenantID, id int64) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.headers[id]
	if !ok || doc.TenantID != tenantID {
		return nil, &NotFoundError{Resource: "document", ID: id}
	}
	copied := *doc
	return &copied, nil
}

func (m *mockRepository) ListItems(ctx context.Context, documentID int64) ([]LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listItemsError != nil {
		return nil, m.listItemsError
	}
	items := append([]LineItem{}, m.items[documentID]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (m *mockRepository) List(ctx context.Context, tenantID int64, req ListDocumentsRequest) ([]Document, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Document
	for _, doc := range m.headers {
		if doc.TenantID != tenantID {
			continue
		}
		if req.Kind != nil && doc.Kind != *req.Kind {
			continue
		}
		if req.Status != nil && doc.Status != *req.Status {
			continue
		}
		if req.Year != nil && doc.IssueYear != *req.Year {
			continue
		}
		matched = append(matched, *doc)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if req.Offset >= total {
		return []Document{}, total, nil
	}
	end := req.Offset + req.Limit
	if end > total {
		end = total
	}
	return matched[req.Offset:end], total, nil
}

func (m *mockRepository) FindConvertedInvoice(ctx context.Context, tenantID, quoteID int64) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.headers {
		if doc.TenantID == tenantID && doc.Kind == KindInvoice && doc.ConvertedFromID != nil && *doc.ConvertedFromID == quoteID {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, &NotFoundError{Resource: "converted invoice", ID: quoteID}
}

func (m *mockRepository) ListInconsistent(ctx context.Context, limit int) ([]DocumentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []DocumentRef
	for id, doc := range m.headers {
		sums := SumItems(m.items[id])
		if !sums.Matches(Totals{Subtotal: doc.Subtotal, TotalTax: doc.TotalTax, Total: doc.Total}) {
			refs = append(refs, DocumentRef{TenantID: doc.TenantID, ID: id})
		}
	}
	for id := range m.items {
		if _, ok := m.headers[id]; !ok {
			refs = append(refs, DocumentRef{ID: id})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (m *mockRepository) itemCount(documentID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[documentID])
}

// ============================================================================
// MOCK NUMBERER AND RECONCILER
// ============================================================================

type mockNumberer struct {
	mu       sync.Mutex
	counters map[Scope]int64
	err      error
}

func newMockNumberer() *mockNumberer {
	return &mockNumberer{counters: make(map[Scope]int64)}
}

func (n *mockNumberer) Next(ctx context.Context, scope Scope) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, n.err
	}
	n.counters[scope]++
	return n.counters[scope], nil
}

func (n *mockNumberer) set(scope Scope, value int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counters[scope] = value
}

type mockReconciler struct {
	mu   sync.Mutex
	refs []DocumentRef
}

func (r *mockReconciler) EnqueueReconcile(ctx context.Context, ref DocumentRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
	return nil
}
