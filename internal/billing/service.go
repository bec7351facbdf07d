package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Config tunes the document service.
type Config struct {
	// MaxNumberAttempts bounds number re-allocation after collisions.
	MaxNumberAttempts int
	// InvoiceDueDays is the payment term of invoices created by conversion.
	InvoiceDueDays int
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MaxNumberAttempts <= 0 {
		c.MaxNumberAttempts = 5
	}
	if c.InvoiceDueDays <= 0 {
		c.InvoiceDueDays = 30
	}
	return c
}

// Reconciler schedules an asynchronous repair of a document left
// inconsistent by a failed compensation.
type Reconciler interface {
	EnqueueReconcile(ctx context.Context, ref DocumentRef) error
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithReconciler sets the repair scheduler.
func WithReconciler(r Reconciler) Option {
	return func(s *Service) { s.reconciler = r }
}

// WithClock overrides the time source used for conversion dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the billing document engine.
type Service struct {
	repo       Repository
	numberer   Numberer
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	reconciler Reconciler
	now        func() time.Time
}

// NewService constructs a document service.
func NewService(repo Repository, numberer Numberer, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		numberer: numberer,
		cfg:      cfg.WithDefaults(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	opCreate  = "create"
	opUpdate  = "update"
	opDelete  = "delete"
	opConvert = "convert"
)

func checkTenant(tenantID int64) error {
	if tenantID <= 0 {
		return invalid("tenant_id", "must be positive")
	}
	return nil
}

// CreateDocument validates, numbers and persists a new draft document.
func (s *Service) CreateDocument(ctx context.Context, tenantID int64, kind Kind, req CreateDocumentRequest) (*Document, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateCreateRequest(kind, req); err != nil {
		return nil, err
	}

	items, totals := CalculateItems(req.Items)
	if !totals.Finite() {
		return nil, invalid("Items", "amounts exceed the representable range")
	}
	doc := &Document{
		TenantID:      tenantID,
		Kind:          kind,
		IssueYear:     req.IssueDate.Year(),
		ClientName:    req.Client.Name,
		ClientEmail:   req.Client.Email,
		ClientPhone:   req.Client.Phone,
		ClientAddress: req.Client.Address,
		IssueDate:     req.IssueDate,
		DueDate:       req.DueDate,
		ValidUntil:    req.ValidUntil,
		Status:        StatusDraft,
		Subtotal:      totals.Subtotal,
		TotalTax:      totals.TotalTax,
		Total:         totals.Total,
		Notes:         req.Notes,
		Terms:         req.Terms,
	}
	return s.create(ctx, doc, items)
}

// create numbers doc, writes its header and then its items. A failed item
// write is compensated by deleting the header.
func (s *Service) create(ctx context.Context, doc *Document, items []LineItem) (*Document, error) {
	id, err := s.insertNumberedHeader(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id

	for i := range items {
		items[i].DocumentID = id
	}
	if err := s.repo.InsertItems(ctx, id, items); err != nil {
		compErr := s.repo.DeleteHeader(ctx, doc.TenantID, id)
		return nil, s.partialFailure(ctx, opCreate, doc.TenantID, id, fmt.Errorf("insert items: %w", err), compErr)
	}

	s.metrics.documentCreated(doc.Kind)
	s.logger.Info("document created",
		slog.Int64("tenant_id", doc.TenantID),
		slog.Int64("document_id", id),
		slog.String("kind", string(doc.Kind)),
		slog.String("number", doc.Number),
	)
	stored, err := s.GetDocument(ctx, doc.TenantID, id)
	if err != nil {
		// The document is committed; answer with what was written.
		s.logger.Warn("reload created document",
			slog.Int64("document_id", id),
			slog.Any("error", err),
		)
		doc.Items = items
		return doc, nil
	}
	return stored, nil
}

// insertNumberedHeader allocates a number and inserts the header, allocating
// again when the number turns out to be taken.
func (s *Service) insertNumberedHeader(ctx context.Context, doc *Document) (int64, error) {
	scope := Scope{TenantID: doc.TenantID, Kind: doc.Kind, Year: doc.IssueYear}
	var conflict *ConflictError
	for attempt := 1; attempt <= s.cfg.MaxNumberAttempts; attempt++ {
		seq, err := s.numberer.Next(ctx, scope)
		if err != nil {
			return 0, fmt.Errorf("allocate number: %w", err)
		}
		doc.Number = FormatNumber(doc.Kind, doc.IssueYear, seq)

		id, err := s.repo.CreateHeader(ctx, doc)
		if err == nil {
			return id, nil
		}
		if !errors.As(err, &conflict) {
			return 0, fmt.Errorf("create %s: %w", doc.Kind, err)
		}
		s.metrics.numberConflict(doc.Kind)
		s.logger.Warn("document number taken, reallocating",
			slog.String("scope", scope.String()),
			slog.String("number", doc.Number),
			slog.Int("attempt", attempt),
		)
	}
	conflict.Attempts = s.cfg.MaxNumberAttempts
	return 0, conflict
}

// UpdateDocument applies a header patch and, when items are supplied,
// replaces the whole item set. Only drafts can be edited.
func (s *Service) UpdateDocument(ctx context.Context, tenantID, id int64, req UpdateDocumentRequest) (*Document, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	existing, err := s.GetDocument(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusDraft {
		return nil, invalid("status", "only draft documents can be edited, %s is %s", existing.Number, existing.Status)
	}
	if err := ValidateUpdateRequest(existing, req); err != nil {
		return nil, err
	}
	if req.IssueDate != nil && req.IssueDate.Year() != existing.IssueYear {
		return nil, invalid("IssueDate", "must stay in %d, the year number %s was issued in", existing.IssueYear, existing.Number)
	}

	header := headerFromDocument(existing)
	applyPatch(&header, req)

	if req.Items == nil {
		if err := s.repo.UpdateHeader(ctx, tenantID, id, header, StatusDraft); err != nil {
			return nil, fmt.Errorf("update document: %w", err)
		}
		return s.GetDocument(ctx, tenantID, id)
	}

	items, totals := CalculateItems(*req.Items)
	if !totals.Finite() {
		return nil, invalid("Items", "amounts exceed the representable range")
	}
	for i := range items {
		items[i].DocumentID = id
	}
	header.Totals = totals

	if err := s.repo.ReplaceItems(ctx, id, items, StatusDraft); err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	if err := s.repo.UpdateHeader(ctx, tenantID, id, header, StatusDraft); err != nil {
		compErr := s.restoreItems(ctx, tenantID, id, existing.Items)
		return nil, s.partialFailure(ctx, opUpdate, tenantID, id, fmt.Errorf("update header: %w", err), compErr)
	}
	return s.GetDocument(ctx, tenantID, id)
}

// restoreItems writes back a previous item set under whatever status the
// document has now, which may have left draft since the items were replaced.
func (s *Service) restoreItems(ctx context.Context, tenantID, id int64, items []LineItem) error {
	current, err := s.repo.GetHeader(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return s.repo.ReplaceItems(ctx, id, items, current.Status)
}

func applyPatch(h *HeaderUpdate, req UpdateDocumentRequest) {
	if req.Client != nil {
		h.ClientName = req.Client.Name
		h.ClientEmail = req.Client.Email
		h.ClientPhone = req.Client.Phone
		h.ClientAddress = req.Client.Address
	}
	if req.IssueDate != nil {
		h.IssueDate = *req.IssueDate
	}
	if req.DueDate != nil {
		h.DueDate = req.DueDate
	}
	if req.ValidUntil != nil {
		h.ValidUntil = req.ValidUntil
	}
	if req.Notes != nil {
		h.Notes = req.Notes
	}
	if req.Terms != nil {
		h.Terms = req.Terms
	}
}

// DeleteDocument removes the header and then its items. An item removal
// that still fails after one retry is reported as a partial failure.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, id int64) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if _, err := s.repo.GetHeader(ctx, tenantID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteHeader(ctx, tenantID, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.repo.DeleteItems(ctx, id); err != nil {
		retryErr := s.repo.DeleteItems(ctx, id)
		if retryErr != nil {
			return s.partialFailure(ctx, opDelete, tenantID, id, fmt.Errorf("delete items: %w", err), retryErr)
		}
	}
	s.logger.Info("document deleted", slog.Int64("tenant_id", tenantID), slog.Int64("document_id", id))
	return nil
}

// GetDocument returns a header with its items in position order.
func (s *Service) GetDocument(ctx context.Context, tenantID, id int64) (*Document, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetHeader(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load items of document %d: %w", id, err)
	}
	doc.Items = items
	return doc, nil
}

// ListDocuments returns a page of headers without items.
func (s *Service) ListDocuments(ctx context.Context, tenantID int64, req ListDocumentsRequest) ([]Document, int, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, 0, err
	}
	if req.Kind != nil && !req.Kind.Valid() {
		return nil, 0, invalid("kind", "unknown document kind %q", *req.Kind)
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return s.repo.List(ctx, tenantID, req)
}

// SetStatus applies a caller driven lifecycle transition.
func (s *Service) SetStatus(ctx context.Context, tenantID, id int64, status Status) (*Document, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	doc, err := s.repo.GetHeader(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(doc.Kind, doc.Status, status); err != nil {
		return nil, err
	}
	if err := s.moveStatus(ctx, doc, status); err != nil {
		return nil, err
	}
	s.logger.Info("document status changed",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("document_id", id),
		slog.String("from", string(doc.Status)),
		slog.String("to", string(status)),
	)
	return s.GetDocument(ctx, tenantID, id)
}

func (s *Service) moveStatus(ctx context.Context, doc *Document, to Status) error {
	changed, err := s.repo.UpdateStatus(ctx, doc.TenantID, doc.ID, doc.Status, to)
	if err != nil {
		return err
	}
	if !changed {
		current, err := s.repo.GetHeader(ctx, doc.TenantID, doc.ID)
		if err != nil {
			return err
		}
		return invalid("status", "%s changed concurrently from %s to %s", doc.Number, doc.Status, current.Status)
	}
	return nil
}

// ConvertQuote accepts a quote and creates a draft invoice seeded from it.
// A quote is converted at most once.
func (s *Service) ConvertQuote(ctx context.Context, tenantID, quoteID int64) (*Document, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	quote, err := s.GetDocument(ctx, tenantID, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Kind != KindQuote {
		return nil, invalid("kind", "%s is not a quote", quote.Number)
	}
	if !canConvert(quote.Status) {
		return nil, invalid("status", "%s quote %s cannot be converted", quote.Status, quote.Number)
	}
	existing, err := s.repo.FindConvertedInvoice(ctx, tenantID, quoteID)
	switch {
	case err == nil:
		return nil, invalid("quote_id", "quote %s already converted to invoice %s", quote.Number, existing.Number)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("check previous conversion: %w", err)
	}

	previous := quote.Status
	if previous != StatusAccepted {
		if err := checkTransition(KindQuote, previous, StatusAccepted, true); err != nil {
			return nil, err
		}
		if err := s.moveStatus(ctx, quote, StatusAccepted); err != nil {
			return nil, fmt.Errorf("accept quote: %w", err)
		}
	}

	issue := s.today()
	due := issue.AddDate(0, 0, s.cfg.InvoiceDueDays)
	items, totals := CalculateItems(InputsFromItems(quote.Items))
	invoice := &Document{
		TenantID:        tenantID,
		Kind:            KindInvoice,
		IssueYear:       issue.Year(),
		ClientName:      quote.ClientName,
		ClientEmail:     quote.ClientEmail,
		ClientPhone:     quote.ClientPhone,
		ClientAddress:   quote.ClientAddress,
		IssueDate:       issue,
		DueDate:         &due,
		Status:          StatusDraft,
		Subtotal:        totals.Subtotal,
		TotalTax:        totals.TotalTax,
		Total:           totals.Total,
		Notes:           quote.Notes,
		Terms:           quote.Terms,
		ConvertedFromID: &quoteID,
	}

	created, err := s.create(ctx, invoice, items)
	if err != nil {
		if previous == StatusAccepted {
			return nil, err
		}
		// An invoice header that could not be removed still points at the
		// quote. The quote stays accepted until reconciliation deletes it.
		var leftover *PartialFailureError
		if errors.As(err, &leftover) && !leftover.Compensated() {
			compErr := fmt.Errorf("invoice %d left in place, quote kept accepted: %w", leftover.DocumentID, leftover.CompensationErr)
			return nil, s.partialFailure(ctx, opConvert, tenantID, quoteID, fmt.Errorf("create invoice: %w", err), compErr)
		}
		var compErr error
		if _, uerr := s.repo.UpdateStatus(ctx, tenantID, quoteID, StatusAccepted, previous); uerr != nil {
			compErr = fmt.Errorf("restore quote status %s: %w", previous, uerr)
		}
		return nil, s.partialFailure(ctx, opConvert, tenantID, quoteID, fmt.Errorf("create invoice: %w", err), compErr)
	}

	s.logger.Info("quote converted",
		slog.Int64("tenant_id", tenantID),
		slog.String("quote", quote.Number),
		slog.String("invoice", created.Number),
	)
	return created, nil
}

func (s *Service) today() time.Time {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Reconcile repairs a document after a failed compensation: a header left by
// a failed create is removed with its items, orphaned items of a deleted
// header are removed and header totals are recomputed from the persisted
// items. It is idempotent.
func (s *Service) Reconcile(ctx context.Context, ref DocumentRef) error {
	if ref.Op == opCreate {
		return s.removeFailedCreate(ctx, ref)
	}
	doc, err := s.repo.GetHeader(ctx, ref.TenantID, ref.ID)
	if errors.Is(err, ErrNotFound) {
		if err := s.repo.DeleteItems(ctx, ref.ID); err != nil {
			return fmt.Errorf("remove orphaned items of %d: %w", ref.ID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	items, err := s.repo.ListItems(ctx, ref.ID)
	if err != nil {
		return fmt.Errorf("load items of document %d: %w", ref.ID, err)
	}
	sums := SumItems(items)
	header := headerFromDocument(doc)
	if header.Totals.Matches(sums) {
		return nil
	}
	s.logger.Warn("document totals drifted from items, repairing",
		slog.Int64("tenant_id", ref.TenantID),
		slog.Int64("document_id", ref.ID),
		slog.Float64("stored_total", doc.Total),
		slog.Float64("items_total", sums.Total),
	)
	header.Totals = sums
	return s.repo.UpdateHeader(ctx, ref.TenantID, ref.ID, header, doc.Status)
}

// removeFailedCreate deletes a header whose items never made it in. The
// document was never returned to a caller.
func (s *Service) removeFailedCreate(ctx context.Context, ref DocumentRef) error {
	err := s.repo.DeleteHeader(ctx, ref.TenantID, ref.ID)
	switch {
	case err == nil:
		s.logger.Warn("removed document left by failed create",
			slog.Int64("tenant_id", ref.TenantID),
			slog.Int64("document_id", ref.ID),
		)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("remove document %d: %w", ref.ID, err)
	}
	if err := s.repo.DeleteItems(ctx, ref.ID); err != nil {
		return fmt.Errorf("remove items of %d: %w", ref.ID, err)
	}
	return nil
}

// FindInconsistent lists documents whose totals differ from their items.
func (s *Service) FindInconsistent(ctx context.Context, limit int) ([]DocumentRef, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.repo.ListInconsistent(ctx, limit)
}

// partialFailure reports a multi-step write that persisted partially and
// schedules a repair when the compensation failed. A conversion failure
// leaves only a status to fix, or an invoice already scheduled by create.
func (s *Service) partialFailure(ctx context.Context, op string, tenantID, id int64, cause, compErr error) error {
	pf := &PartialFailureError{Op: op, DocumentID: id, Cause: cause, CompensationErr: compErr}
	s.metrics.partialFailure(op, pf.Compensated())
	s.logger.Error("partial document write",
		slog.String("op", op),
		slog.Int64("tenant_id", tenantID),
		slog.Int64("document_id", id),
		slog.Bool("compensated", pf.Compensated()),
		slog.Any("error", cause),
		slog.Any("compensation_error", compErr),
	)
	if !pf.Compensated() && op != opConvert && s.reconciler != nil {
		if err := s.reconciler.EnqueueReconcile(ctx, DocumentRef{TenantID: tenantID, ID: id, Op: op}); err != nil {
			s.logger.Error("enqueue reconcile", slog.Int64("document_id", id), slog.Any("error", err))
		}
	}
	return pf
}
