package functions

// OutcomeKind tags the variant held by an Outcome
type OutcomeKind int

const (
	// KindNotFound means no code could be extracted
	KindNotFound OutcomeKind = iota
	// KindCode means Value holds a 4-8 digit code
	KindCode
	// KindPendingURL means Value holds a verification URL still to be resolved
	KindPendingURL
)

// String returns the stored name of the kind
func (k OutcomeKind) String() string {
	switch k {
	case KindCode:
		return "code"
	case KindPendingURL:
		return "pending_url"
	default:
		return "not_found"
	}
}

// Outcome is the result of one resolution attempt.
// Codes are kept as strings so leading zeros survive.
type Outcome struct {
	Kind  OutcomeKind
	Value string
}

// Code returns a Code outcome
func Code(value string) Outcome {
	return Outcome{Kind: KindCode, Value: value}
}

// PendingURL returns an outcome that still needs secondary resolution
func PendingURL(url string) Outcome {
	return Outcome{Kind: KindPendingURL, Value: url}
}

// NotFound returns the NotFound outcome
func NotFound() Outcome {
	return Outcome{Kind: KindNotFound}
}

// IsCode reports whether the outcome carries a code
func (o Outcome) IsCode() bool {
	return o.Kind == KindCode
}

func (o Outcome) String() string {
	if o.Kind == KindNotFound {
		return o.Kind.String()
	}
	return o.Kind.String() + "(" + o.Value + ")"
}
