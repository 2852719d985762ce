package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/webagent/internal/llm"
	"github.com/polzovatel/webagent/internal/tools"
)

// scriptedClient replays canned decisions; after the script runs out it
// keeps finishing the task so tests never hit the step limit by accident.
type scriptedClient struct {
	responses []llm.Response
	requests  []llm.Request
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return llm.Response{ToolCalls: []llm.ToolCall{
			{ID: "end", Name: toolFinishTask, Args: map[string]any{"summary": "готово"}},
		}}, nil
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	return r, nil
}

// fakeToolbox returns scripted results per tool name, in call order.
type fakeToolbox struct {
	results map[string][]tools.Result
	calls   []string
}

func (f *fakeToolbox) Specs() []llm.Tool { return nil }

func (f *fakeToolbox) Execute(_ context.Context, name string, _ map[string]any) tools.Result {
	f.calls = append(f.calls, name)
	queue := f.results[name]
	if len(queue) == 0 {
		return tools.Result{Success: true}
	}
	r := queue[0]
	f.results[name] = queue[1:]
	return r
}

type fakeOperator struct {
	confirmAnswer bool
	confirms      []string
	waits         []string
}

func (o *fakeOperator) Confirm(prompt string) (bool, error) {
	o.confirms = append(o.confirms, prompt)
	return o.confirmAnswer, nil
}

func (o *fakeOperator) WaitReady(prompt string) error {
	o.waits = append(o.waits, prompt)
	return nil
}

func (o *fakeOperator) Progress(string) {}

func newTestAgent(c *scriptedClient, tb *fakeToolbox, op *fakeOperator, opts ...Option) *Agent {
	return New(c, tb, op, zerolog.Nop(), opts...)
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Args: args}
}

func clickDecision(id, text string) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{
		call(id, "click_element", map[string]any{"text": text}),
	}}
}

func TestRunFinishTask(t *testing.T) {
	c := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("1", toolFinishTask, map[string]any{"summary": "Товар добавлен в корзину."})}},
	}}
	out, err := newTestAgent(c, &fakeToolbox{}, &fakeOperator{}).Run(context.Background(), "добавь товар")
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.Equal(t, "Товар добавлен в корзину.", out.Summary)
	assert.Equal(t, 1, out.Steps)
}

func TestRunHandoverOnAttemptAfterThresholdFailures(t *testing.T) {
	failed := tools.Result{Success: false, Error: "не найден"}
	tb := &fakeToolbox{results: map[string][]tools.Result{
		"click_element": {failed, failed, failed},
	}}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Войти"),
		clickDecision("2", "Войти"),
		clickDecision("3", "Войти"),
		clickDecision("4", "Войти"),
	}}
	op := &fakeOperator{}
	out, err := newTestAgent(c, tb, op).Run(context.Background(), "войди")
	require.NoError(t, err)
	// Three failed attempts reach the browser; the fourth goes to the human.
	assert.Equal(t, []string{"click_element", "click_element", "click_element"}, tb.calls)
	require.Len(t, op.waits, 1)
	assert.Contains(t, op.waits[0], "вручную")
	assert.Equal(t, 1, out.Handovers)
	assert.Equal(t, 3, out.FailedActions)

	// The manual-completion note follows the handover result.
	last := c.requests[len(c.requests)-1]
	lastMsg := last.Messages[len(last.Messages)-1]
	assert.Equal(t, "user", lastMsg.Role)
	assert.Contains(t, lastMsg.Content, "вручную")
}

func TestRunDifferentArgsTrackedSeparately(t *testing.T) {
	failed := tools.Result{Success: false, Error: "не найден"}
	tb := &fakeToolbox{results: map[string][]tools.Result{
		"click_element": {failed, failed, failed, failed},
	}}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Войти"),
		clickDecision("2", "Регистрация"),
		clickDecision("3", "Войти"),
		clickDecision("4", "Регистрация"),
	}}
	op := &fakeOperator{}
	out, err := newTestAgent(c, tb, op).Run(context.Background(), "войди")
	require.NoError(t, err)
	assert.Empty(t, op.waits)
	assert.Equal(t, 0, out.Handovers)
}

func TestRunAmbiguityResetsFailureCount(t *testing.T) {
	failed := tools.Result{Success: false, Error: "не найден"}
	ambiguous := tools.Result{Success: false, Error: "3 совпадения", Ambiguous: true}
	tb := &fakeToolbox{results: map[string][]tools.Result{
		"click_element": {failed, failed, ambiguous, failed, failed},
	}}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Удалить"),
		clickDecision("2", "Удалить"),
		clickDecision("3", "Удалить"),
		clickDecision("4", "Удалить"),
		clickDecision("5", "Удалить"),
	}}
	op := &fakeOperator{}
	_, err := newTestAgent(c, tb, op).Run(context.Background(), "удали товар")
	require.NoError(t, err)
	// fail, fail, ambiguous(reset), fail, fail: never three in a row.
	assert.Empty(t, op.waits)
}

func TestRunSkipsBatchAfterNavigation(t *testing.T) {
	tb := &fakeToolbox{results: map[string][]tools.Result{
		"click_element": {{Success: true, PageNavigated: true}},
	}}
	c := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{
			call("1", "click_element", map[string]any{"text": "Каталог"}),
			call("2", "click_element", map[string]any{"text": "Акции"}),
			call("3", "scroll", map[string]any{}),
		}},
	}}
	out, err := newTestAgent(c, tb, &fakeOperator{}).Run(context.Background(), "открой каталог")
	require.NoError(t, err)
	// Only the first call reached the toolbox.
	assert.Equal(t, []string{"click_element"}, tb.calls)
	// Skipped calls are reported back, not counted as failures.
	assert.Equal(t, 0, out.FailedActions)

	// The skipped calls got explanatory tool results in the history.
	last := c.requests[len(c.requests)-1]
	var skippedResults int
	for _, m := range last.Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "Страница изменилась") {
			skippedResults++
		}
	}
	assert.Equal(t, 2, skippedResults)
}

func TestRunSensitiveClickDeclined(t *testing.T) {
	tb := &fakeToolbox{}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Оплатить заказ"),
	}}
	op := &fakeOperator{confirmAnswer: false}
	out, err := newTestAgent(c, tb, op).Run(context.Background(), "оплати")
	require.NoError(t, err)
	require.Len(t, op.confirms, 1)
	// Declined: the click never reached the browser.
	assert.Empty(t, tb.calls)
	assert.Equal(t, 1, out.FailedActions)

	last := c.requests[len(c.requests)-1]
	found := false
	for _, m := range last.Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "отклонил") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunSensitiveClickConfirmed(t *testing.T) {
	tb := &fakeToolbox{}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Купить"),
	}}
	op := &fakeOperator{confirmAnswer: true}
	_, err := newTestAgent(c, tb, op).Run(context.Background(), "купи")
	require.NoError(t, err)
	assert.Equal(t, []string{"click_element"}, tb.calls)
}

func TestRunPlainClickNeedsNoConfirmation(t *testing.T) {
	tb := &fakeToolbox{}
	c := &scriptedClient{responses: []llm.Response{
		clickDecision("1", "Каталог"),
	}}
	op := &fakeOperator{}
	_, err := newTestAgent(c, tb, op).Run(context.Background(), "открой каталог")
	require.NoError(t, err)
	assert.Empty(t, op.confirms)
}

func TestRunEmptyDecisionsInjectCorrective(t *testing.T) {
	c := &scriptedClient{responses: []llm.Response{
		{}, {},
	}}
	_, err := newTestAgent(c, &fakeToolbox{}, &fakeOperator{}).Run(context.Background(), "задача")
	require.NoError(t, err)
	// The request after two empties carries the corrective user message.
	require.GreaterOrEqual(t, len(c.requests), 3)
	msgs := c.requests[2].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, "tool_calls")
}

func TestRunWaitForUser(t *testing.T) {
	c := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("1", toolWaitForUser, nil)}},
	}}
	op := &fakeOperator{}
	_, err := newTestAgent(c, &fakeToolbox{}, op).Run(context.Background(), "войди в аккаунт")
	require.NoError(t, err)
	require.Len(t, op.waits, 1)
	assert.Contains(t, op.waits[0], "капчу")
}

func TestRunStepLimit(t *testing.T) {
	scroll := llm.Response{ToolCalls: []llm.ToolCall{call("1", "scroll", map[string]any{})}}
	c := &scriptedClient{responses: []llm.Response{scroll, scroll, scroll, scroll, scroll}}
	out, err := newTestAgent(c, &fakeToolbox{}, &fakeOperator{}, WithMaxSteps(3)).Run(context.Background(), "листай")
	require.NoError(t, err)
	assert.False(t, out.Done)
	assert.Equal(t, 3, out.Steps)
}

func TestKeyForStableUnderArgOrder(t *testing.T) {
	a := keyFor("click_element", map[string]any{"text": "Войти", "exact": true})
	b := keyFor("click_element", map[string]any{"exact": true, "text": "Войти"})
	assert.Equal(t, a, b)

	c := keyFor("click_element", map[string]any{"text": "Войти", "exact": false})
	assert.NotEqual(t, a, c)

	d := keyFor("type_text", map[string]any{"text": "Войти", "exact": true})
	assert.NotEqual(t, a, d)
}

func TestKeyForNumericCanonicalization(t *testing.T) {
	// JSON decoding yields float64; a whole float must hash like the int.
	a := keyFor("scroll", map[string]any{"amount": float64(500)})
	b := keyFor("scroll", map[string]any{"amount": 500})
	assert.Equal(t, a, b)
}

func TestIsReady(t *testing.T) {
	assert.True(t, IsReady("готово"))
	assert.True(t, IsReady("done"))
	assert.True(t, IsReady("да"))
	assert.False(t, IsReady("ещё нет"))
	assert.False(t, IsReady(""))
}

func TestDangerousPatterns(t *testing.T) {
	dangerous := []string{
		"Оплатить", "Подтвердить заказ", "Удалить навсегда",
		"Оформить заказ", "Pay now", "Checkout", "Confirm order",
		"Купить", "Buy",
	}
	for _, s := range dangerous {
		assert.True(t, dangerousPatterns.MatchString(s), s)
	}
	harmless := []string{"Каталог", "В корзину", "Удалить", "Подтвердить", "Назад"}
	for _, s := range harmless {
		assert.False(t, dangerousPatterns.MatchString(s), s)
	}
}
