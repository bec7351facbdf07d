package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		kind    Kind
		from    Status
		to      Status
		allowed bool
	}{
		{KindQuote, StatusDraft, StatusSent, true},
		{KindQuote, StatusSent, StatusAccepted, true},
		{KindQuote, StatusSent, StatusRejected, true},
		{KindQuote, StatusDraft, StatusAccepted, false},
		{KindQuote, StatusDraft, StatusRejected, false},
		{KindQuote, StatusAccepted, StatusSent, false},
		{KindQuote, StatusRejected, StatusAccepted, false},
		{KindQuote, StatusSent, StatusPaid, false},
		{KindInvoice, StatusDraft, StatusSent, true},
		{KindInvoice, StatusDraft, StatusCancelled, false},
		{KindInvoice, StatusSent, StatusPaid, true},
		{KindInvoice, StatusSent, StatusCancelled, true},
		{KindInvoice, StatusDraft, StatusPaid, false},
		{KindInvoice, StatusPaid, StatusCancelled, false},
		{KindInvoice, StatusCancelled, StatusDraft, false},
		{KindInvoice, StatusSent, StatusAccepted, false},
		{KindInvoice, StatusSent, StatusSent, false},
		{KindInvoice, StatusDraft, Status("archived"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.kind, tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCheckTransition_WorkflowOnlyMove(t *testing.T) {
	assert.Error(t, CheckTransition(KindQuote, StatusDraft, StatusAccepted))
	assert.NoError(t, checkTransition(KindQuote, StatusDraft, StatusAccepted, true))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(KindQuote, StatusAccepted))
	assert.True(t, IsTerminal(KindQuote, StatusRejected))
	assert.True(t, IsTerminal(KindInvoice, StatusPaid))
	assert.True(t, IsTerminal(KindInvoice, StatusCancelled))
	assert.False(t, IsTerminal(KindInvoice, StatusSent))
	assert.False(t, IsTerminal(KindQuote, StatusPaid))
}

func TestCanConvert(t *testing.T) {
	assert.True(t, canConvert(StatusDraft))
	assert.True(t, canConvert(StatusSent))
	assert.True(t, canConvert(StatusAccepted))
	assert.False(t, canConvert(StatusRejected))
}
