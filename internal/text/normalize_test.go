package text_test

import (
	"testing"

	"github.com/book-expert/openvoice-api/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	tests := []struct {
		name     string
		input    string
		language string
		want     string
	}{
		{name: "empty", input: "", language: "EN", want: ""},
		{name: "abbreviations", input: "Dr. Smith met Mr. Jones.", language: "EN", want: "Doctor Smith met Mister Jones."},
		{name: "abbreviations kept for other languages", input: "Dr. Smith", language: "FR", want: "Dr. Smith"},
		{name: "references", input: "As shown [1] and [2, 3] .", language: "EN", want: "As shown and."},
		{name: "whitespace", input: "  line one\n\n\tline two  ", language: "ZH", want: "line one line two"},
		{name: "typography", input: "Wait… “quoted” it’s", language: "ES", want: `Wait... "quoted" it's`},
		{name: "em dash", input: "yes—no", language: "EN", want: "yes, no"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, normalizer.Normalize(testCase.input, testCase.language))
		})
	}
}
