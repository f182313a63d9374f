package identity

import "log/slog"

// Matcher decides whether newly retrieved events may be combined with the
// identities already present in the wallet.
type Matcher struct {
	logger *slog.Logger
}

type Option func(*Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compare reports whether every existing identity is compatible with every
// incoming identity. Compatibility requires equal day-of-birth and
// month-of-birth (birth year is ignored, see Identity.AsTuple) and at least
// one of the name initials to agree, where a missing initial on either side
// counts as agreement.
//
// Callers exclude identities that failed to decode before calling Compare;
// an empty slice on either side therefore trivially matches. That means a
// wallet holding only undecodable identities can never block a match.
func (m *Matcher) Compare(existing, incoming []Identity) bool {
	match := true
	for _, e := range existing {
		existingTuple := e.AsTuple()
		for _, r := range incoming {
			incomingTuple := r.AsTuple()
			match = match &&
				incomingTuple.BirthDay == existingTuple.BirthDay &&
				incomingTuple.BirthMonth == existingTuple.BirthMonth &&
				(initialEqual(incomingTuple.FirstNameInitial, existingTuple.FirstNameInitial) ||
					initialEqual(incomingTuple.LastNameInitial, existingTuple.LastNameInitial))
		}
	}
	if !match && m.logger != nil {
		m.logger.Debug("incoming events do not match existing identities")
	}
	return match
}

// initialEqual treats a missing initial on either side as equal.
func initialEqual(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a == b
}
