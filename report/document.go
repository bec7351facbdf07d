package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
	"github.com/netfoxfrance-alt/valet-reserve-pro/web"
)

// HTMLRenderer converts an HTML page into a PDF.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// DocumentRenderer prints quotes and invoices through Gotenberg.
type DocumentRenderer struct {
	pdf       HTMLRenderer
	presenter *billing.Presenter
	lang      string
	tpl       *template.Template
}

type documentPage struct {
	Lang  string
	Title string
	Doc   billing.DocumentView
}

// NewDocumentRenderer parses the embedded document template.
func NewDocumentRenderer(pdf HTMLRenderer, presenter *billing.Presenter, lang string) (*DocumentRenderer, error) {
	funcMap := template.FuncMap{
		"money": presenter.FormatAmount,
		"formatQty": func(v float64) string {
			return strconv.FormatFloat(v, 'f', -1, 64)
		},
	}
	tpl, err := template.New("document.html").Funcs(funcMap).ParseFS(web.Templates, "templates/documents/document.html")
	if err != nil {
		return nil, fmt.Errorf("parse document template: %w", err)
	}
	if lang == "" {
		lang = "en"
	}
	return &DocumentRenderer{pdf: pdf, presenter: presenter, lang: lang, tpl: tpl}, nil
}

// RenderHTML produces the printable page of doc.
func (r *DocumentRenderer) RenderHTML(doc *billing.Document) ([]byte, error) {
	title := "Invoice"
	if doc.Kind == billing.KindQuote {
		title = "Quote"
	}
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, documentPage{Lang: r.lang, Title: title, Doc: r.presenter.View(doc)}); err != nil {
		return nil, fmt.Errorf("render %s: %w", doc.Number, err)
	}
	return buf.Bytes(), nil
}

// RenderDocument produces the PDF of doc.
func (r *DocumentRenderer) RenderDocument(ctx context.Context, doc *billing.Document) ([]byte, error) {
	html, err := r.RenderHTML(doc)
	if err != nil {
		return nil, err
	}
	pdf, err := r.pdf.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("convert %s to pdf: %w", doc.Number, err)
	}
	return pdf, nil
}
