package action

import (
	"context"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/webagent/internal/browser"
	"github.com/polzovatel/webagent/internal/match"
)

// fakeController scripts the browser side of an action without a browser.
type fakeController struct {
	url         string
	urlAfter    string // URL reported after a click, simulates navigation
	title       string
	dialogOpen  bool
	harvest     *browser.Harvest
	fields      *browser.FieldHarvest
	scanRef     int
	scanFound   bool
	clickedRefs []int
	filledRefs  []int
	filledText  []string
	selClicks   []string
	selFills    []string
	scrolled    []string
}

// locatorIface renames the embedded field so it does not shadow the
// interface's own Locator method, which would break method promotion.
type locatorIface = playwright.Locator

type fakeLocator struct{ locatorIface }

func (f *fakeController) Close(context.Context) error           { return nil }
func (f *fakeController) EnsureSingleTab(context.Context) error { return nil }
func (f *fakeController) Navigate(_ context.Context, url string) error {
	f.url = url
	return nil
}
func (f *fakeController) GoBack(context.Context) error { return nil }
func (f *fakeController) Scroll(_ context.Context, dir string, _ int, _ string) error {
	f.scrolled = append(f.scrolled, dir)
	return nil
}
func (f *fakeController) SaveState(context.Context, string) error { return nil }
func (f *fakeController) DialogLocator(context.Context) (playwright.Locator, error) {
	if f.dialogOpen {
		return fakeLocator{}, nil
	}
	return nil, nil
}
func (f *fakeController) HarvestClickables(context.Context) (*browser.Harvest, error) {
	return f.harvest, nil
}
func (f *fakeController) HarvestFields(context.Context) (*browser.FieldHarvest, error) {
	return f.fields, nil
}
func (f *fakeController) BroadScan(context.Context, []string) (int, bool, error) {
	return f.scanRef, f.scanFound, nil
}
func (f *fakeController) ClickRef(_ context.Context, ref int) error {
	f.clickedRefs = append(f.clickedRefs, ref)
	if f.urlAfter != "" {
		f.url = f.urlAfter
	}
	return nil
}
func (f *fakeController) ClickSelector(_ context.Context, _ playwright.Locator, sel string) (bool, error) {
	f.selClicks = append(f.selClicks, sel)
	return false, nil
}
func (f *fakeController) ClickRole(_ context.Context, _ playwright.Locator, role string) (bool, error) {
	return false, nil
}
func (f *fakeController) FillField(_ context.Context, ref int, text string) error {
	f.filledRefs = append(f.filledRefs, ref)
	f.filledText = append(f.filledText, text)
	return nil
}
func (f *fakeController) FillSelector(_ context.Context, _ playwright.Locator, sel, _ string) error {
	f.selFills = append(f.selFills, sel)
	return nil
}
func (f *fakeController) URL() string           { return f.url }
func (f *fakeController) Title() string         { return f.title }
func (f *fakeController) Page() playwright.Page { return nil }

func newExecutor(f *fakeController) *Executor {
	return NewExecutor(f, zerolog.Nop())
}

func TestClickByTextMatched(t *testing.T) {
	f := &fakeController{
		url: "https://shop.test/cart",
		harvest: &browser.Harvest{Candidates: []match.Candidate{
			{Ref: 0, Text: "Оформить заказ"},
			{Ref: 1, Text: "Продолжить покупки"},
		}},
	}
	res, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "Оформить заказ"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, f.clickedRefs)
	assert.False(t, res.Navigated)
}

func TestClickDetectsNavigation(t *testing.T) {
	f := &fakeController{
		url:      "https://shop.test/cart",
		urlAfter: "https://shop.test/checkout",
		harvest: &browser.Harvest{Candidates: []match.Candidate{
			{Ref: 0, Text: "Оформить заказ"},
		}},
	}
	res, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "Оформить заказ"})
	require.NoError(t, err)
	assert.True(t, res.Navigated)
	assert.Equal(t, "https://shop.test/checkout", res.URL)
}

func TestClickAmbiguousSurfacesPreviews(t *testing.T) {
	f := &fakeController{
		harvest: &browser.Harvest{Candidates: []match.Candidate{
			{Ref: 0, Text: "Удалить", Context: "Хлеб бородинский"},
			{Ref: 1, Text: "Удалить", Context: "Молоко 3.2%"},
		}},
	}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "Удалить"})
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, 2, amb.Count)
	assert.Len(t, amb.Previews, 2)
	assert.Empty(t, f.clickedRefs)
}

func TestClickDisabledInDialog(t *testing.T) {
	f := &fakeController{
		dialogOpen: true,
		harvest: &browser.Harvest{InDialog: true, Candidates: []match.Candidate{
			{Ref: 0, Text: "Подтвердить", Disabled: true, DisabledBy: "aria-disabled"},
		}},
	}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "Подтвердить"})
	var dis *DisabledError
	require.ErrorAs(t, err, &dis)
	assert.Equal(t, "aria-disabled", dis.Reason)
	assert.Empty(t, f.clickedRefs)
}

func TestClickFallsBackToBroadScan(t *testing.T) {
	f := &fakeController{
		harvest:   &browser.Harvest{},
		scanRef:   9000,
		scanFound: true,
	}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "В корзину"})
	require.NoError(t, err)
	assert.Equal(t, []int{9000}, f.clickedRefs)
}

func TestClickNotFound(t *testing.T) {
	f := &fakeController{harvest: &browser.Harvest{}}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{Text: "Несуществующая кнопка"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestClickSelectorStrippedInDialog(t *testing.T) {
	f := &fakeController{dialogOpen: true}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{
		Selector: `[role="dialog"] button.confirm`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"button.confirm"}, f.selClicks)
}

func TestClickContainerOnlySelectorRejected(t *testing.T) {
	f := &fakeController{dialogOpen: true}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{
		Selector: `[role="dialog"]`,
	})
	var scope *SelectorScopeError
	require.ErrorAs(t, err, &scope)
}

func TestClickContainerOnlySelectorFallsBackToText(t *testing.T) {
	f := &fakeController{
		dialogOpen: true,
		harvest: &browser.Harvest{InDialog: true, Candidates: []match.Candidate{
			{Ref: 3, Text: "Подтвердить"},
		}},
	}
	_, err := newExecutor(f).Click(context.Background(), ClickRequest{
		Selector: `[role="dialog"]`,
		Text:     "Подтвердить",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, f.clickedRefs)
	assert.Empty(t, f.selClicks)
}

func TestFillByIndexFallsThroughToPage(t *testing.T) {
	f := &fakeController{
		dialogOpen: true,
		fields: &browser.FieldHarvest{
			Dialog: []match.Field{{Ref: 10, Index: 1}},
			Page: []match.Field{
				{Ref: 10, Index: 1},
				{Ref: 11, Index: 2},
			},
		},
	}
	_, err := newExecutor(f).Fill(context.Background(), FillRequest{Text: "привет", FieldIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{11}, f.filledRefs)
	assert.Equal(t, []string{"привет"}, f.filledText)
}

func TestFillByPlaceholder(t *testing.T) {
	f := &fakeController{
		fields: &browser.FieldHarvest{
			Page: []match.Field{
				{Ref: 0, Index: 1, Placeholder: "Логин"},
				{Ref: 1, Index: 2, Placeholder: "Поиск по каталогу"},
			},
		},
	}
	_, err := newExecutor(f).Fill(context.Background(), FillRequest{Text: "молоко", Placeholder: "Поиск"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, f.filledRefs)
}

func TestFillSelectorSingleAttempt(t *testing.T) {
	f := &fakeController{}
	_, err := newExecutor(f).Fill(context.Background(), FillRequest{Text: "x", Selector: "input[name=q]"})
	require.NoError(t, err)
	assert.Equal(t, []string{"input[name=q]"}, f.selFills)
}
