package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/platform/httpx"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/shared"
)

// DocumentService is the part of Service the HTTP layer depends on.
type DocumentService interface {
	CreateDocument(ctx context.Context, tenantID int64, kind Kind, req CreateDocumentRequest) (*Document, error)
	UpdateDocument(ctx context.Context, tenantID, id int64, req UpdateDocumentRequest) (*Document, error)
	DeleteDocument(ctx context.Context, tenantID, id int64) error
	GetDocument(ctx context.Context, tenantID, id int64) (*Document, error)
	ListDocuments(ctx context.Context, tenantID int64, req ListDocumentsRequest) ([]Document, int, error)
	ConvertQuote(ctx context.Context, tenantID, quoteID int64) (*Document, error)
	SetStatus(ctx context.Context, tenantID, id int64, status Status) (*Document, error)
}

// PDFRenderer turns a document into a PDF.
type PDFRenderer interface {
	RenderDocument(ctx context.Context, doc *Document) ([]byte, error)
}

// IdempotencyGuard claims Idempotency-Key values so replayed POSTs do not
// create a second document.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key, scope string) error
}

// Handler exposes the document engine as a JSON API.
type Handler struct {
	logger      *slog.Logger
	service     DocumentService
	presenter   *Presenter
	pdf         PDFRenderer
	idempotency IdempotencyGuard
}

// NewHandler builds a Handler. pdf may be nil, which disables the PDF route.
func NewHandler(logger *slog.Logger, service DocumentService, presenter *Presenter, pdf PDFRenderer) *Handler {
	return &Handler{logger: logger, service: service, presenter: presenter, pdf: pdf}
}

// UseIdempotency enables Idempotency-Key handling on the create and convert
// routes.
func (h *Handler) UseIdempotency(guard IdempotencyGuard) {
	h.idempotency = guard
}

// MountRoutes registers routes under /tenants/{tenantID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/documents", h.listDocuments)
		r.Post("/quotes", h.createDocument(KindQuote))
		r.Post("/invoices", h.createDocument(KindInvoice))
		r.Get("/documents/{id}", h.showDocument)
		r.Put("/documents/{id}", h.updateDocument)
		r.Delete("/documents/{id}", h.deleteDocument)
		r.Post("/documents/{id}/status", h.setStatus)
		r.Post("/quotes/{id}/convert", h.convertQuote)
		if h.pdf != nil {
			r.Get("/documents/{id}/pdf", h.documentPDF)
		}
	})
}

type listResponse struct {
	Documents  []DocumentView    `json:"documents"`
	Pagination shared.Pagination `json:"pagination"`
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pg := shared.NewPagination(page, perPage, 0)

	req := ListDocumentsRequest{Limit: pg.PerPage, Offset: pg.Offset()}
	if v := q.Get("kind"); v != "" {
		kind := Kind(v)
		req.Kind = &kind
	}
	if v := q.Get("status"); v != "" {
		status := Status(v)
		req.Status = &status
	}
	if v := q.Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			h.respondError(w, invalid("year", "must be a number"))
			return
		}
		req.Year = &year
	}

	docs, total, err := h.service.ListDocuments(r.Context(), tenantID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := listResponse{
		Documents:  make([]DocumentView, 0, len(docs)),
		Pagination: shared.NewPagination(pg.Page, pg.PerPage, total),
	}
	for i := range docs {
		resp.Documents = append(resp.Documents, h.presenter.View(&docs[i]))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) createDocument(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := h.tenantID(w, r)
		if !ok {
			return
		}
		var req CreateDocumentRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.respondError(w, invalid("body", "malformed JSON: %v", err))
			return
		}
		release, ok := h.claim(w, r, fmt.Sprintf("billing:%d:%s", tenantID, kind))
		if !ok {
			return
		}
		doc, err := h.service.CreateDocument(r.Context(), tenantID, kind, req)
		if err != nil {
			release()
			h.respondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, h.presenter.View(doc))
	}
}

func (h *Handler) showDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.presenter.View(doc))
}

func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	var req UpdateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, invalid("body", "malformed JSON: %v", err))
		return
	}
	doc, err := h.service.UpdateDocument(r.Context(), tenantID, id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.presenter.View(doc))
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(r.Context(), tenantID, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, invalid("body", "malformed JSON: %v", err))
		return
	}
	doc, err := h.service.SetStatus(r.Context(), tenantID, id, req.Status)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.presenter.View(doc))
}

func (h *Handler) convertQuote(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	release, ok := h.claim(w, r, fmt.Sprintf("billing:%d:convert:%d", tenantID, id))
	if !ok {
		return
	}
	invoice, err := h.service.ConvertQuote(r.Context(), tenantID, id)
	if err != nil {
		release()
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.presenter.View(invoice))
}

func (h *Handler) documentPDF(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := h.documentParams(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), tenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	pdf, err := h.pdf.RenderDocument(r.Context(), doc)
	if err != nil {
		h.logger.Error("render document pdf", slog.Int64("document_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Render Failed", "PDF rendering is unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Number+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// claim reserves the request's Idempotency-Key. The returned release frees
// the key again when the request fails.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, scope string) (func(), bool) {
	key := r.Header.Get("Idempotency-Key")
	if h.idempotency == nil || key == "" {
		return func() {}, true
	}
	if len(key) > 255 {
		h.respondError(w, invalid("Idempotency-Key", "must be at most 255 characters"))
		return nil, false
	}
	err := h.idempotency.CheckAndInsert(r.Context(), key, scope)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "a request with this Idempotency-Key was already processed")
		return nil, false
	}
	if err != nil {
		h.respondError(w, fmt.Errorf("claim idempotency key: %w", err))
		return nil, false
	}
	return func() {
		if err := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, scope); err != nil {
			h.logger.Warn("release idempotency key", slog.String("scope", scope), slog.Any("error", err))
		}
	}, true
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.respondError(w, invalid("tenant_id", "must be a positive integer"))
		return 0, false
	}
	return tenantID, true
}

func (h *Handler) documentParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, invalid("id", "must be a positive integer"))
		return 0, 0, false
	}
	return tenantID, id, true
}

// respondError maps engine errors onto problem responses. Partial failures
// and exhausted number conflicts ask the caller to retry.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		partialErr    *PartialFailureError
		conflictErr   *ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationErr.Error())
	case errors.As(err, &partialErr):
		incident := uuid.NewString()
		h.logger.Error("partial failure surfaced to client", slog.String("incident", incident), slog.Any("error", err))
		w.Header().Set("Retry-After", "5")
		detail := fmt.Sprintf("the %s of document %d did not complete, please retry", partialErr.Op, partialErr.DocumentID)
		httpx.ProblemInstance(w, http.StatusServiceUnavailable, "Partial Failure", detail, "urn:uuid:"+incident)
	case errors.As(err, &notFoundErr):
		httpx.Problem(w, http.StatusNotFound, "Not Found", notFoundErr.Error())
	case errors.As(err, &conflictErr):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusConflict, "Number Conflict", "could not allocate a document number, please retry")
	default:
		incident := uuid.NewString()
		h.logger.Error("billing request failed", slog.String("incident", incident), slog.Any("error", err))
		httpx.ProblemInstance(w, http.StatusInternalServerError, "Internal Error", "", "urn:uuid:"+incident)
	}
}
