package billing

// transitions lists the legal status moves per kind. Moves driven by
// SetStatus are the ones flagged true; false entries are reachable only
// through a workflow (quote draft->accepted happens on conversion).
var transitions = map[Kind]map[Status]map[Status]bool{
	KindQuote: {
		StatusDraft: {
			StatusSent:     true,
			StatusAccepted: false,
		},
		StatusSent: {
			StatusAccepted: true,
			StatusRejected: true,
		},
	},
	KindInvoice: {
		StatusDraft: {
			StatusSent: true,
		},
		StatusSent: {
			StatusPaid:      true,
			StatusCancelled: true,
		},
	},
}

var statusesByKind = map[Kind][]Status{
	KindQuote:   {StatusDraft, StatusSent, StatusAccepted, StatusRejected},
	KindInvoice: {StatusDraft, StatusSent, StatusPaid, StatusCancelled},
}

// ValidStatus reports whether s belongs to the status set of kind.
func ValidStatus(kind Kind, s Status) bool {
	for _, candidate := range statusesByKind[kind] {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves s.
func IsTerminal(kind Kind, s Status) bool {
	return ValidStatus(kind, s) && len(transitions[kind][s]) == 0
}

// CheckTransition validates a caller driven status change.
func CheckTransition(kind Kind, from, to Status) error {
	return checkTransition(kind, from, to, false)
}

func checkTransition(kind Kind, from, to Status, workflow bool) error {
	if !ValidStatus(kind, to) {
		return invalid("status", "unknown %s status %q", kind, to)
	}
	if from == to {
		return invalid("status", "%s is already %s", kind, to)
	}
	manual, ok := transitions[kind][from][to]
	if !ok || (!manual && !workflow) {
		return invalid("status", "cannot move %s from %s to %s", kind, from, to)
	}
	return nil
}

// canConvert reports whether a quote in status s may be accepted by
// conversion. An already accepted quote without an invoice is allowed.
func canConvert(s Status) bool {
	if s == StatusAccepted {
		return true
	}
	_, ok := transitions[KindQuote][s][StatusAccepted]
	return ok
}
