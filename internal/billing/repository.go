package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/platform/db"
)

// Repository is the persistence contract of the document store. Each method
// is atomic on its own; multi-step consistency is the service's job.
type Repository interface {
	// CreateHeader inserts the header and returns its id. A taken number
	// yields *ConflictError.
	CreateHeader(ctx context.Context, doc *Document) (int64, error)
	// InsertItems writes all items or none.
	InsertItems(ctx context.Context, documentID int64, items []LineItem) error
	// ReplaceItems deletes every item of the document and inserts items, all
	// or nothing, provided the document status is still expect.
	ReplaceItems(ctx context.Context, documentID int64, items []LineItem, expect Status) error
	// UpdateHeader rewrites the header provided its status is still expect.
	// A moved status yields *ValidationError.
	UpdateHeader(ctx context.Context, tenantID, id int64, header HeaderUpdate, expect Status) error
	// UpdateStatus moves the status from one value to another and reports
	// false when the stored status was no longer from.
	UpdateStatus(ctx context.Context, tenantID, id int64, from, to Status) (bool, error)
	DeleteHeader(ctx context.Context, tenantID, id int64) error
	DeleteItems(ctx context.Context, documentID int64) error
	GetHeader(ctx context.Context, tenantID, id int64) (*Document, error)
	ListItems(ctx context.Context, documentID int64) ([]LineItem, error)
	List(ctx context.Context, tenantID int64, req ListDocumentsRequest) ([]Document, int, error)
	// FindConvertedInvoice returns the invoice generated from quoteID or
	// *NotFoundError.
	FindConvertedInvoice(ctx context.Context, tenantID, quoteID int64) (*Document, error)
	// ListInconsistent returns documents whose totals differ from their items.
	ListInconsistent(ctx context.Context, limit int) ([]DocumentRef, error)
}

// DocumentRef identifies a document across tenants. Op names the write that
// left it inconsistent, empty when found by a sweep.
type DocumentRef struct {
	TenantID int64  `json:"tenant_id"`
	ID       int64  `json:"document_id"`
	Op       string `json:"op,omitempty"`
}

func statusMoved(id int64, current, expect Status) error {
	return invalid("status", "document %d is %s, expected %s", id, current, expect)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresRepository stores documents in billing_documents and
// billing_line_items.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPostgresRepository constructs a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

const headerColumns = `id, tenant_id, kind, number, issue_year, client_name, client_email,
	client_phone, client_address, issue_date, due_date, valid_until, status,
	subtotal, total_tax, total, notes, terms, converted_from_id, created_at, updated_at`

func scanHeader(row pgx.Row) (*Document, error) {
	var (
		doc    Document
		kind   string
		status string
	)
	err := row.Scan(
		&doc.ID, &doc.TenantID, &kind, &doc.Number, &doc.IssueYear, &doc.ClientName, &doc.ClientEmail,
		&doc.ClientPhone, &doc.ClientAddress, &doc.IssueDate, &doc.DueDate, &doc.ValidUntil, &status,
		&doc.Subtotal, &doc.TotalTax, &doc.Total, &doc.Notes, &doc.Terms, &doc.ConvertedFromID,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Kind = Kind(kind)
	doc.Status = Status(status)
	return &doc, nil
}

// CreateHeader inserts a document header.
func (r *PostgresRepository) CreateHeader(ctx context.Context, doc *Document) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO billing_documents (
			tenant_id, kind, number, issue_year, client_name, client_email, client_phone,
			client_address, issue_date, due_date, valid_until, status, subtotal, total_tax,
			total, notes, terms, converted_from_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`,
		doc.TenantID, string(doc.Kind), doc.Number, doc.IssueYear, doc.ClientName, doc.ClientEmail, doc.ClientPhone,
		doc.ClientAddress, doc.IssueDate, doc.DueDate, doc.ValidUntil, string(doc.Status), doc.Subtotal, doc.TotalTax,
		doc.Total, doc.Notes, doc.Terms, doc.ConvertedFromID,
	).Scan(&id)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == convertedFromConstraint {
				return 0, invalid("ConvertedFromID", "quote %d already has an invoice", derefID(doc.ConvertedFromID))
			}
			return 0, &ConflictError{
				Scope:  Scope{TenantID: doc.TenantID, Kind: doc.Kind, Year: doc.IssueYear},
				Number: doc.Number,
			}
		}
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// InsertItems writes items inside one transaction.
func (r *PostgresRepository) InsertItems(ctx context.Context, documentID int64, items []LineItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertItems(ctx, tx, documentID, items)
	})
}

// ReplaceItems swaps the whole item set inside one transaction, holding the
// header row lock so the status cannot move underneath.
func (r *PostgresRepository) ReplaceItems(ctx context.Context, documentID int64, items []LineItem, expect Status) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM billing_documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Resource: "document", ID: documentID}
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if Status(current) != expect {
			return statusMoved(documentID, Status(current), expect)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM billing_line_items WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		return insertItems(ctx, tx, documentID, items)
	})
}

func insertItems(ctx context.Context, tx dbtx, documentID int64, items []LineItem) error {
	for _, item := range items {
		_, err := tx.Exec(ctx, `
			INSERT INTO billing_line_items (
				document_id, position, description, quantity, unit_price, tax_rate,
				subtotal, tax_amount, total
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			documentID, item.Position, item.Description, item.Quantity, item.UnitPrice, item.TaxRate,
			item.Subtotal, item.TaxAmount, item.Total,
		)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", item.Position, err)
		}
	}
	return nil
}

// UpdateHeader rewrites the editable header fields and totals.
func (r *PostgresRepository) UpdateHeader(ctx context.Context, tenantID, id int64, h HeaderUpdate, expect Status) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE billing_documents
		SET client_name = $1, client_email = $2, client_phone = $3, client_address = $4,
		    issue_date = $5, due_date = $6, valid_until = $7, notes = $8, terms = $9,
		    subtotal = $10, total_tax = $11, total = $12, updated_at = NOW()
		WHERE tenant_id = $13 AND id = $14 AND status = $15
	`,
		h.ClientName, h.ClientEmail, h.ClientPhone, h.ClientAddress,
		h.IssueDate, h.DueDate, h.ValidUntil, h.Notes, h.Terms,
		h.Totals.Subtotal, h.Totals.TotalTax, h.Totals.Total, tenantID, id, string(expect),
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM billing_documents WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Resource: "document", ID: id}
	}
	if err != nil {
		return fmt.Errorf("check document status: %w", err)
	}
	return statusMoved(id, Status(current), expect)
}

// UpdateStatus writes a new status if the current one is still from.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, tenantID, id int64, from, to Status) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE billing_documents SET status = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3 AND status = $4
	`, string(to), tenantID, id, string(from))
	if err != nil {
		return false, fmt.Errorf("update document status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteHeader removes a document header.
func (r *PostgresRepository) DeleteHeader(ctx context.Context, tenantID, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM billing_documents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "document", ID: id}
	}
	return nil
}

// DeleteItems removes every item of a document. Deleting nothing is fine.
func (r *PostgresRepository) DeleteItems(ctx context.Context, documentID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM billing_line_items WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	return nil
}

// GetHeader loads a header without items.
func (r *PostgresRepository) GetHeader(ctx context.Context, tenantID, id int64) (*Document, error) {
	doc, err := scanHeader(r.db.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM billing_documents WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "document", ID: id}
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListItems returns the items of a document in position order.
func (r *PostgresRepository) ListItems(ctx context.Context, documentID int64) ([]LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, position, description, quantity, unit_price, tax_rate,
		       subtotal, tax_amount, total
		FROM billing_line_items
		WHERE document_id = $1
		ORDER BY position, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	items := []LineItem{}
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(
			&item.ID, &item.DocumentID, &item.Position, &item.Description, &item.Quantity, &item.UnitPrice,
			&item.TaxRate, &item.Subtotal, &item.TaxAmount, &item.Total,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns a page of headers and the total count.
func (r *PostgresRepository) List(ctx context.Context, tenantID int64, req ListDocumentsRequest) ([]Document, int, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argPos := 2

	if req.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, string(*req.Kind))
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.Year != nil {
		conditions = append(conditions, fmt.Sprintf("issue_year = $%d", argPos))
		args = append(args, *req.Year)
		argPos++
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM billing_documents "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM billing_documents %s
		ORDER BY issue_date DESC, id DESC
		LIMIT $%d OFFSET $%d`, headerColumns, where, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	return docs, total, rows.Err()
}

// FindConvertedInvoice looks up the invoice linked to a quote.
func (r *PostgresRepository) FindConvertedInvoice(ctx context.Context, tenantID, quoteID int64) (*Document, error) {
	doc, err := scanHeader(r.db.QueryRow(ctx, `SELECT `+headerColumns+` FROM billing_documents
		WHERE tenant_id = $1 AND kind = $2 AND converted_from_id = $3
		ORDER BY id LIMIT 1`, tenantID, string(KindInvoice), quoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "converted invoice", ID: quoteID}
		}
		return nil, fmt.Errorf("find converted invoice: %w", err)
	}
	return doc, nil
}

// ListInconsistent finds headers whose totals differ from their item sums.
func (r *PostgresRepository) ListInconsistent(ctx context.Context, limit int) ([]DocumentRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.tenant_id, d.id
		FROM billing_documents d
		LEFT JOIN (
			SELECT document_id, SUM(subtotal) AS subtotal, SUM(tax_amount) AS tax
			FROM billing_line_items
			GROUP BY document_id
		) s ON s.document_id = d.id
		WHERE ABS(d.subtotal - COALESCE(s.subtotal, 0)) > 1e-6
		   OR ABS(d.total_tax - COALESCE(s.tax, 0)) > 1e-6
		   OR ABS(d.total - d.subtotal - d.total_tax) > 1e-6
		ORDER BY d.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list inconsistent documents: %w", err)
	}
	defer rows.Close()

	refs := []DocumentRef{}
	for rows.Next() {
		var ref DocumentRef
		if err := rows.Scan(&ref.TenantID, &ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

const convertedFromConstraint = "billing_documents_converted_from_key"

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
