package match

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(ref int, text string) Candidate {
	return Candidate{Ref: ref, Text: text, InViewport: true}
}

func TestSearchStrings(t *testing.T) {
	t.Run("short target", func(t *testing.T) {
		assert.Equal(t, []string{"Войти"}, SearchStrings("Войти"))
	})
	t.Run("multi word adds collapsed form", func(t *testing.T) {
		got := SearchStrings("Добавить в корзину")
		assert.Equal(t, []string{"Добавить в корзину", "Добавитьвкорзину"}, got)
	})
	t.Run("long target adds word prefixes", func(t *testing.T) {
		got := SearchStrings("Оформить доставку на завтра по адресу офиса компании")
		require.True(t, len(got) >= 3)
		assert.Equal(t, "Оформить доставку на завтра по адресу офиса компании", got[0])
		assert.Equal(t, "Оформить доставку на завтра по", got[1])
		assert.Equal(t, "Оформить доставку на", got[2])
	})
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, SearchStrings("  \n "))
	})
}

// Targets that normalize to the same canonical string resolve identically.
func TestResolveNormalizationInvariance(t *testing.T) {
	cands := []Candidate{cand(1, "Оформить заказ"), cand(2, "Отменить")}
	for _, target := range []string{"Оформить заказ", "Оформить\nзаказ", " Оформить  заказ "} {
		out := Resolve(target, false, cands)
		require.Equal(t, Matched, out.Kind, "target %q", target)
		assert.Equal(t, 1, out.Ref)
	}
}

// A unique exact-equality candidate wins no matter how many others merely
// contain the requested text.
func TestResolveExactBeatsContainment(t *testing.T) {
	cands := []Candidate{
		cand(1, "Удалить аккаунт навсегда"),
		cand(2, "Удалить"),
		cand(3, "Удалить все сообщения"),
	}
	out := Resolve("Удалить", false, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 2, out.Ref)
}

func TestResolveAmbiguousShortLabel(t *testing.T) {
	cands := []Candidate{cand(1, "Купить"), cand(2, "Купить"), cand(3, "Купить"), cand(4, "Купить")}
	out := Resolve("Купить", false, cands)
	require.Equal(t, Ambiguous, out.Kind)
	assert.Equal(t, 4, out.Count)
	assert.Len(t, out.Previews, 4)
}

func TestResolveAmbiguousPreviewCap(t *testing.T) {
	var cands []Candidate
	for i := 1; i <= 8; i++ {
		cands = append(cands, cand(i, "Ещё"))
	}
	out := Resolve("Ещё", false, cands)
	require.Equal(t, Ambiguous, out.Kind)
	assert.Equal(t, 8, out.Count)
	assert.Len(t, out.Previews, 5)
}

// Two "Удалить" buttons in different cards: the bare label is ambiguous,
// appending the card's contextual label resolves uniquely.
func TestResolveContextDisambiguation(t *testing.T) {
	cands := []Candidate{
		{Ref: 1, Text: "Удалить", Context: "Хлеб бородинский", InViewport: true},
		{Ref: 2, Text: "Удалить", Context: "Молоко 3.2%", InViewport: true},
	}

	out := Resolve("Удалить", false, cands)
	require.Equal(t, Ambiguous, out.Kind)
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Previews, 2)
	assert.Equal(t, "Хлеб бородинский", out.Previews[0].Context)

	out = Resolve("Удалить Молоко 3.2%", false, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 2, out.Ref)
}

// A stray short word must not satisfy reverse containment inside a long
// multi-word request.
func TestResolveStrayShortWordGuard(t *testing.T) {
	cands := []Candidate{cand(1, "OK")}
	out := Resolve("Нажмите кнопку OK в правом верхнем углу", false, cands)
	assert.Equal(t, NotFound, out.Kind)

	// ...but the same candidate still matches a direct request.
	out = Resolve("OK", false, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 1, out.Ref)
}

func TestResolveCollapsedWhitespaceMatch(t *testing.T) {
	// Candidate text wraps differently from the requested text.
	cands := []Candidate{cand(1, "Добавить\nв корзину"), cand(2, "Очистить корзину")}
	out := Resolve("Добавить в корзину", false, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 1, out.Ref)
}

func TestResolveExactFlag(t *testing.T) {
	cands := []Candidate{cand(1, "Войти в аккаунт"), cand(2, "Войти")}
	out := Resolve("Войти", true, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 2, out.Ref)
}

func TestResolveDisabled(t *testing.T) {
	cands := []Candidate{
		{Ref: 1, Text: "Подтвердить", Disabled: true, DisabledBy: "disabled attribute"},
		cand(2, "Отмена"),
	}
	out := Resolve("Подтвердить", false, cands)
	require.Equal(t, Disabled, out.Kind)
	assert.Equal(t, 1, out.Ref)
	assert.Equal(t, "disabled attribute", out.Reason)
}

func TestResolveNotFound(t *testing.T) {
	out := Resolve("Чего нет", false, []Candidate{cand(1, "Совсем другое")})
	assert.Equal(t, NotFound, out.Kind)
}

func TestResolveLongTargetPrefixFallback(t *testing.T) {
	// Full text matches nothing, the first-3-words prefix does.
	cands := []Candidate{cand(1, "Оформить доставку на дом")}
	out := Resolve("Оформить доставку на завтра утром курьером до двери", false, cands)
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, 1, out.Ref)
}

func TestPlanFill(t *testing.T) {
	page := []Field{
		{Ref: 10, Index: 1, Placeholder: "Электронная почта"},
		{Ref: 11, Index: 2, Placeholder: "Пароль", Type: "password"},
		{Ref: 12, Index: 3, Textarea: true},
	}

	t.Run("placeholder on page", func(t *testing.T) {
		tgt, err := PlanFill(FillRequest{Text: "x", Placeholder: "почта"}, nil, page)
		require.NoError(t, err)
		assert.Equal(t, 10, tgt.Ref)
		assert.Equal(t, "placeholder", tgt.By)
	})

	t.Run("index on page", func(t *testing.T) {
		tgt, err := PlanFill(FillRequest{Text: "x", FieldIndex: 2}, nil, page)
		require.NoError(t, err)
		assert.Equal(t, 11, tgt.Ref)
	})

	t.Run("index falls back from dialog to page", func(t *testing.T) {
		dialog := []Field{{Ref: 50, Index: 1, Placeholder: "Комментарий"}}
		tgt, err := PlanFill(FillRequest{Text: "x", FieldIndex: 2}, dialog, page)
		require.NoError(t, err)
		assert.Equal(t, 11, tgt.Ref)
		assert.True(t, tgt.PageScope)
	})

	t.Run("placeholder falls back from dialog to page", func(t *testing.T) {
		dialog := []Field{{Ref: 50, Index: 1, Placeholder: "Комментарий"}}
		tgt, err := PlanFill(FillRequest{Text: "x", Placeholder: "Пароль"}, dialog, page)
		require.NoError(t, err)
		assert.Equal(t, 11, tgt.Ref)
		assert.True(t, tgt.PageScope)
	})

	t.Run("long text prefers textarea", func(t *testing.T) {
		long := ""
		for i := 0; i < 30; i++ {
			long += fmt.Sprintf("слово%d ", i)
		}
		tgt, err := PlanFill(FillRequest{Text: long}, nil, page)
		require.NoError(t, err)
		assert.Equal(t, 12, tgt.Ref)
		assert.Equal(t, "textarea", tgt.By)
	})

	t.Run("default first fillable", func(t *testing.T) {
		tgt, err := PlanFill(FillRequest{Text: "short"}, nil, page)
		require.NoError(t, err)
		assert.Equal(t, 10, tgt.Ref)
		assert.Equal(t, "first", tgt.By)
	})

	t.Run("index out of range everywhere", func(t *testing.T) {
		_, err := PlanFill(FillRequest{Text: "x", FieldIndex: 9}, nil, page)
		assert.Error(t, err)
	})

	t.Run("no fields", func(t *testing.T) {
		_, err := PlanFill(FillRequest{Text: "x"}, nil, nil)
		assert.Error(t, err)
	})
}
