package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Добавить в корзину", "Добавить в корзину"},
		{"nbsp", "Добавить в корзину", "Добавить в корзину"},
		{"thin space", "1 000 ₽", "1 000 ₽"},
		{"newlines", "Line one\nLine two\r\nLine three", "Line one Line two Line three"},
		{"paragraph separator", "a b", "a b"},
		{"runs and trim", "  a \t\t b\n\n c  ", "a b c"},
		{"only spaces", "  \n\t ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestCollapse(t *testing.T) {
	assert.Equal(t, "Добавитьвкорзину", Collapse("Добавить в\nкорзину"))
	assert.Equal(t, "", Collapse(" \n\t"))
	assert.Equal(t, "ab", Collapse("a b"))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"one", "two", "three"}, Words(" one\ntwo three "))
	assert.Nil(t, Words("  "))
}

// Texts that normalize identically must be interchangeable as match keys.
func TestNormalizeEquivalence(t *testing.T) {
	variants := []string{
		"Оформить заказ",
		"Оформить заказ",
		"Оформить\n заказ",
		"  Оформить \t заказ ",
	}
	for _, v := range variants {
		assert.Equal(t, "Оформить заказ", Normalize(v))
		assert.Equal(t, "Оформитьзаказ", Collapse(v))
	}
}
