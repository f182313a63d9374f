package events

import (
	"sort"

	pstrings "greenwallet/pkg/platform/strings"
)

// Row is one display row backed by one or more source events that describe
// the same real-world occurrence. Providers lists where the reports came
// from; provenance only, it plays no part in collapsing.
type Row struct {
	Event     Event
	Providers []string
}

// Collapse groups a batch of newly retrieved events into display rows. Two
// events collapse into one row when they share the semantic key: same kind,
// same event date and same dose number; when a product code is present on
// both sides it must also agree, and when it is absent on either side the
// date and dose number alone decide. Repeated test reports carrying the same
// provider-assigned unique identifier are dropped outright.
//
// Collapsing an already-collapsed list is a no-op: each row's representative
// event matches only its own row.
func Collapse(list []Event) []Row {
	sorted := append([]Event(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].Date(), sorted[j].Date()
		if di.Equal(dj) {
			return sorted[i].ProviderIdentifier < sorted[j].ProviderIdentifier
		}
		return di.After(dj)
	})

	var rows []Row
	seenTestIDs := map[string]bool{}

	for _, event := range sorted {
		if isTest(event) && event.Unique != "" {
			if seenTestIDs[event.Unique] {
				continue
			}
			seenTestIDs[event.Unique] = true
		}

		merged := false
		for i := range rows {
			if sameOccurrence(rows[i].Event, event) {
				rows[i].Providers = pstrings.DedupeAndTrim(append(rows[i].Providers, event.ProviderIdentifier))
				merged = true
				break
			}
		}
		if !merged {
			rows = append(rows, Row{
				Event:     event,
				Providers: []string{event.ProviderIdentifier},
			})
		}
	}
	return rows
}

func sameOccurrence(a, b Event) bool {
	if a.Kind != b.Kind {
		return false
	}
	if !a.Date().Equal(b.Date()) {
		return false
	}

	av, aOK := a.Vaccination()
	bv, bOK := b.Vaccination()
	if !aOK || !bOK {
		// Non-vaccination events of the same kind on the same date describe
		// one occurrence.
		return true
	}

	if !doseEqual(av.DoseNumber, bv.DoseNumber) {
		return false
	}

	aCode, bCode := productCode(av), productCode(bv)
	if aCode == "" || bCode == "" {
		return true
	}
	return aCode == bCode
}

func doseEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func productCode(v Vaccination) string {
	if v.HPKCode != "" {
		return v.HPKCode
	}
	return v.Manufacturer
}

func isTest(e Event) bool {
	_, ok := e.Test()
	return ok
}
