package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercases ascii", input: "Jansen", want: "jansen"},
		{name: "strips diacritics", input: "Çelik Müller", want: "celik muller"},
		{name: "drops digits and punctuation", input: "O'Brien-2", want: "obrien"},
		{name: "keeps internal spaces", input: "van der Berg", want: "van der berg"},
		{name: "unmappable input becomes empty", input: "王", want: ""},
		{name: "empty input", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestInitial(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain name", input: "corrie", want: "C"},
		{name: "uppercased already", input: "Bob", want: "B"},
		{name: "leading apostrophe skipped", input: "'t Hooft", want: "T"},
		{name: "leading dash skipped", input: "-anne", want: "A"},
		{name: "diacritic initial normalized", input: "Éva", want: "E"},
		{name: "no latin letters", input: "9", want: ""},
		{name: "empty name", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Initial(tt.input))
		})
	}
}

func TestAsTuple(t *testing.T) {
	t.Run("full birth date keeps day and month, never the year", func(t *testing.T) {
		tuple := Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"}.AsTuple()
		assert.Equal(t, Tuple{
			FirstNameInitial: "C",
			LastNameInitial:  "J",
			BirthDay:         "12",
			BirthMonth:       "1",
		}, tuple)
	})

	t.Run("partial birth date leaves day and month empty", func(t *testing.T) {
		tuple := Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960"}.AsTuple()
		assert.Empty(t, tuple.BirthDay)
		assert.Empty(t, tuple.BirthMonth)
	})
}

func TestMatcherCompare(t *testing.T) {
	matcher := NewMatcher()

	corrie := Identity{FirstName: "Corrie", LastName: "Jansen", BirthDate: "1960-01-12"}

	t.Run("identical identities match", func(t *testing.T) {
		assert.True(t, matcher.Compare([]Identity{corrie}, []Identity{corrie}))
	})

	t.Run("different birth year still matches", func(t *testing.T) {
		other := corrie
		other.BirthDate = "1980-01-12"
		assert.True(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("different birth day does not match", func(t *testing.T) {
		other := corrie
		other.BirthDate = "1960-01-13"
		assert.False(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("different birth month does not match", func(t *testing.T) {
		other := corrie
		other.BirthDate = "1960-02-12"
		assert.False(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("one agreeing initial is enough", func(t *testing.T) {
		other := Identity{FirstName: "Dirk", LastName: "Jansen", BirthDate: "1960-01-12"}
		assert.True(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("both initials differing do not match", func(t *testing.T) {
		other := Identity{FirstName: "Dirk", LastName: "Pietersen", BirthDate: "1960-01-12"}
		assert.False(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("missing initial counts as agreement", func(t *testing.T) {
		other := Identity{FirstName: "", LastName: "Pietersen", BirthDate: "1960-01-12"}
		assert.True(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("diacritics do not defeat the initial comparison", func(t *testing.T) {
		other := Identity{FirstName: "Çorrie", LastName: "Pietersen", BirthDate: "1960-01-12"}
		assert.True(t, matcher.Compare([]Identity{corrie}, []Identity{other}))
	})

	t.Run("empty existing set matches anything", func(t *testing.T) {
		assert.True(t, matcher.Compare(nil, []Identity{corrie}))
	})

	t.Run("every pair must be compatible", func(t *testing.T) {
		stranger := Identity{FirstName: "Dirk", LastName: "Pietersen", BirthDate: "1990-06-30"}
		assert.False(t, matcher.Compare([]Identity{corrie, stranger}, []Identity{corrie}))
	})
}
