package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCollapse(t *testing.T) {
	t.Run("duplicate vaccination reports merge into one row", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), HPKCode: "2924528", DoseNumber: intPtr(2)}),
			NewVaccination("RIVM", "b", Vaccination{Date: date(2021, 7, 1), HPKCode: "2924528", DoseNumber: intPtr(2)}),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"GGD", "RIVM"}, rows[0].Providers)
	})

	t.Run("missing product code on one side still merges", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), HPKCode: "2924528", DoseNumber: intPtr(2)}),
			NewVaccination("RIVM", "b", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(2)}),
		})
		assert.Len(t, rows, 1)
	})

	t.Run("manufacturer substitutes for the product code", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), Manufacturer: "ORG-100030215", DoseNumber: intPtr(1)}),
			NewVaccination("RIVM", "b", Vaccination{Date: date(2021, 7, 1), Manufacturer: "ORG-100001699", DoseNumber: intPtr(1)}),
		})
		assert.Len(t, rows, 2)
	})

	t.Run("differing dose numbers stay separate", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(1)}),
			NewVaccination("GGD", "b", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(2)}),
		})
		assert.Len(t, rows, 2)
	})

	t.Run("differing dates stay separate", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(1)}),
			NewVaccination("GGD", "b", Vaccination{Date: date(2021, 8, 1), DoseNumber: intPtr(1)}),
		})
		assert.Len(t, rows, 2)
	})

	t.Run("tests with the same unique identifier are dropped", func(t *testing.T) {
		rows := Collapse([]Event{
			NewNegativeTest("GGD", "t-1", Test{SampleDate: date(2021, 9, 3)}),
			NewNegativeTest("GGD", "t-1", Test{SampleDate: date(2021, 9, 3)}),
			NewNegativeTest("GGD", "t-2", Test{SampleDate: date(2021, 9, 4)}),
		})
		assert.Len(t, rows, 2)
	})

	t.Run("same-day tests from different providers merge", func(t *testing.T) {
		rows := Collapse([]Event{
			NewNegativeTest("GGD", "t-1", Test{SampleDate: date(2021, 9, 3)}),
			NewNegativeTest("RIVM", "t-2", Test{SampleDate: date(2021, 9, 3)}),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"GGD", "RIVM"}, rows[0].Providers)
	})

	t.Run("negative and positive tests never merge", func(t *testing.T) {
		rows := Collapse([]Event{
			NewNegativeTest("GGD", "t-1", Test{SampleDate: date(2021, 9, 3)}),
			NewPositiveTest("GGD", "t-2", Test{SampleDate: date(2021, 9, 3)}),
		})
		assert.Len(t, rows, 2)
	})

	t.Run("rows are ordered newest first, provider breaking ties", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("RIVM", "a", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(1)}),
			NewRecovery("GGD", "b", Recovery{SampleDate: date(2021, 8, 1)}),
			NewVaccination("GGD", "c", Vaccination{Date: date(2021, 8, 1), DoseNumber: intPtr(2)}),
		})
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"GGD"}, rows[0].Providers)
		assert.Equal(t, date(2021, 8, 1), rows[0].Event.Date())
		assert.Equal(t, date(2021, 8, 1), rows[1].Event.Date())
		assert.Equal(t, date(2021, 7, 1), rows[2].Event.Date())
	})

	t.Run("providers are deduplicated", func(t *testing.T) {
		rows := Collapse([]Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(1)}),
			NewVaccination("GGD", "b", Vaccination{Date: date(2021, 7, 1), DoseNumber: intPtr(1)}),
		})
		require.Len(t, rows, 1)
		assert.Equal(t, []string{"GGD"}, rows[0].Providers)
	})

	t.Run("collapsing twice changes nothing", func(t *testing.T) {
		events := []Event{
			NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1), HPKCode: "2924528", DoseNumber: intPtr(2)}),
			NewVaccination("RIVM", "b", Vaccination{Date: date(2021, 7, 1), HPKCode: "2924528", DoseNumber: intPtr(2)}),
			NewRecovery("GGD", "c", Recovery{SampleDate: date(2021, 8, 1)}),
		}
		once := Collapse(events)

		var representatives []Event
		for _, row := range once {
			representatives = append(representatives, row.Event)
		}
		twice := Collapse(representatives)
		require.Len(t, twice, len(once))
		for i := range once {
			assert.Equal(t, once[i].Event, twice[i].Event)
		}
	})

	t.Run("empty input yields no rows", func(t *testing.T) {
		assert.Empty(t, Collapse(nil))
	})
}

func TestEventValidate(t *testing.T) {
	t.Run("constructed events are valid", func(t *testing.T) {
		assert.NoError(t, NewVaccination("GGD", "a", Vaccination{Date: date(2021, 7, 1)}).Validate())
		assert.NoError(t, NewAssessment("GGD", "b", Assessment{AssessmentDate: date(2021, 7, 1)}).Validate())
		assert.NoError(t, NewPaperCredential("scanner", "c", PaperCredential{Credential: []byte("raw")}).Validate())
	})

	t.Run("a kind without its variant is rejected", func(t *testing.T) {
		bad := Event{Kind: "vaccination"}
		assert.Error(t, bad.Validate())
	})

	t.Run("an unknown kind is rejected", func(t *testing.T) {
		bad := Event{Kind: "bogus"}
		assert.Error(t, bad.Validate())
	})
}
