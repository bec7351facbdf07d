package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
)

func fakeGotenberg(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var received []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	mux.HandleFunc("/forms/chromium/convert/html", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("files")
		if err != nil || header.Filename != "index.html" {
			http.Error(w, "index.html required", http.StatusBadRequest)
			return
		}
		received, _ = io.ReadAll(file)
		if r.FormValue("paperWidth") != "8.27" {
			http.Error(w, "paper size", http.StatusBadRequest)
			return
		}
		if status >= 400 {
			http.Error(w, "chromium crashed", status)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &received
}

func sampleQuote() *billing.Document {
	items, totals := billing.CalculateItems([]billing.LineItemInput{
		{Description: "Ceramic <coating>", Quantity: 1, UnitPrice: 450, TaxRate: 20},
		{Description: "Wheel clean", Quantity: 4, UnitPrice: 7.5, TaxRate: 20},
	})
	valid := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	terms := "Valid 30 days"
	return &billing.Document{
		ID:         11,
		Kind:       billing.KindQuote,
		Number:     "QUO-2025-011",
		Status:     billing.StatusSent,
		ClientName: "Garage Martin",
		IssueDate:  time.Date(2025, time.March, 2, 0, 0, 0, 0, time.UTC),
		ValidUntil: &valid,
		Terms:      &terms,
		Subtotal:   totals.Subtotal,
		TotalTax:   totals.TotalTax,
		Total:      totals.Total,
		Items:      items,
	}
}

func TestDocumentRenderer_RenderHTML(t *testing.T) {
	r, err := NewDocumentRenderer(nil, billing.NewPresenter("en-US"), "")
	require.NoError(t, err)

	html, err := r.RenderHTML(sampleQuote())
	require.NoError(t, err)

	page := string(html)
	assert.Contains(t, page, "Quote QUO-2025-011")
	assert.Contains(t, page, "2025-04-01")
	assert.Contains(t, page, "Ceramic &lt;coating&gt;")
	assert.Contains(t, page, "576.00")
	assert.Contains(t, page, "Valid 30 days")
	assert.NotContains(t, page, "Due")
}

func TestDocumentRenderer_RenderDocument(t *testing.T) {
	srv, received := fakeGotenberg(t, http.StatusOK)
	r, err := NewDocumentRenderer(NewClient(srv.URL+"/"), billing.NewPresenter("en-US"), "en")
	require.NoError(t, err)

	pdf, err := r.RenderDocument(context.Background(), sampleQuote())

	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 fake", string(pdf))
	assert.Contains(t, string(*received), "QUO-2025-011")
}

func TestDocumentRenderer_GotenbergFailure(t *testing.T) {
	srv, _ := fakeGotenberg(t, http.StatusInternalServerError)
	r, err := NewDocumentRenderer(NewClient(srv.URL), billing.NewPresenter("en-US"), "en")
	require.NoError(t, err)

	_, err = r.RenderDocument(context.Background(), sampleQuote())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "chromium crashed")
}

func TestHandler_Ping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tc := range []struct {
		upstream int
		want     int
	}{
		{http.StatusOK, http.StatusOK},
		{http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	} {
		srv, _ := fakeGotenberg(t, tc.upstream)
		router := chi.NewRouter()
		NewHandler(NewClient(srv.URL), logger).MountRoutes(router)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/renderer/ping", nil))
		assert.Equal(t, tc.want, rec.Code)
	}
}
