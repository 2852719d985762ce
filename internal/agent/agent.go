// Package agent runs the decision loop: ask the model for the next tool
// calls, execute them, feed results back, and stop on finish_task, the step
// limit or a cancelled context. Repeated failures of the same action hand
// the step over to the human instead of looping forever.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/webagent/internal/llm"
	"github.com/polzovatel/webagent/internal/tools"
)

const (
	defaultMaxSteps        = 50
	defaultDecisionTimeout = 90 * time.Second

	// After this many consecutive empty decisions a corrective user message
	// is injected.
	emptyDecisionLimit = 2

	interStepPause = 300 * time.Millisecond
)

// ToolRunner is the browser tool surface the loop drives.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
	Specs() []llm.Tool
}

// Operator is the human on the other side of the terminal.
type Operator interface {
	// Confirm asks a yes/no question before a sensitive click.
	Confirm(prompt string) (bool, error)
	// WaitReady blocks until the user reports they are done acting in the
	// browser themselves.
	WaitReady(prompt string) error
	// Progress shows one short line of loop progress.
	Progress(line string)
}

// Outcome tallies one completed task run.
type Outcome struct {
	Done          bool
	Summary       string
	Steps         int
	FailedActions int
	Handovers     int
	Elapsed       time.Duration
}

type Agent struct {
	client          llm.Client
	toolbox         ToolRunner
	op              Operator
	log             zerolog.Logger
	maxSteps        int
	decisionTimeout time.Duration
}

type Option func(*Agent)

func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

func WithDecisionTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.decisionTimeout = d
		}
	}
}

func New(client llm.Client, toolbox ToolRunner, op Operator, log zerolog.Logger, opts ...Option) *Agent {
	a := &Agent{
		client:          client,
		toolbox:         toolbox,
		op:              op,
		log:             log.With().Str("comp", "agent").Logger(),
		maxSteps:        defaultMaxSteps,
		decisionTimeout: defaultDecisionTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run executes one task to completion.
func (a *Agent) Run(ctx context.Context, task string) (Outcome, error) {
	start := time.Now()
	specs := append(a.toolbox.Specs(), syntheticToolSpecs()...)
	messages := []llm.Message{{Role: "user", Content: task}}

	ledger := newFailureLedger()
	out := Outcome{}
	emptyDecisions := 0
	lastReply := ""

	for step := 0; step < a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Steps = step + 1
		stepStart := time.Now()
		a.op.Progress(fmt.Sprintf("── Шаг %d/%d ──", step+1, a.maxSteps))

		resp, err := a.decide(ctx, specs, messages)
		if err != nil {
			return out, fmt.Errorf("decision step %d: %w", step+1, err)
		}

		if resp.Empty() {
			emptyDecisions++
			if emptyDecisions >= emptyDecisionLimit {
				messages = append(messages, llm.Message{
					Role:    "user",
					Content: "Ответь действием (tool_calls) или вызови finish_task с итогом, если задача выполнена. Не отвечай пустым сообщением.",
				})
				emptyDecisions = 0
			}
			continue
		}
		emptyDecisions = 0

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if text := strings.TrimSpace(resp.Text); text != "" {
			lastReply = text
			if len(resp.ToolCalls) > 0 {
				a.op.Progress("💭 " + brief(text, 180))
			} else {
				a.op.Progress(text)
			}
		}

		if len(resp.ToolCalls) == 0 {
			a.op.Progress(fmt.Sprintf("⏱ %.1f с", time.Since(stepStart).Seconds()))
			pause(ctx, interStepPause)
			continue
		}

		results, done, summary := a.runBatch(ctx, resp.ToolCalls, ledger, &out)
		messages = append(messages, results...)
		a.op.Progress(fmt.Sprintf("⏱ %.1f с", time.Since(stepStart).Seconds()))
		if done {
			out.Done = true
			out.Summary = summary
			break
		}
		pause(ctx, interStepPause)
	}

	if !out.Done && out.Summary == "" {
		out.Summary = lastReply
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

func (a *Agent) decide(ctx context.Context, specs []llm.Tool, messages []llm.Message) (llm.Response, error) {
	dctx, cancel := context.WithTimeout(ctx, a.decisionTimeout)
	defer cancel()
	return a.client.Generate(dctx, llm.Request{
		System:      systemPrompt,
		Messages:    messages,
		Tools:       specs,
		Temperature: 0.1,
	})
}

// runBatch executes one decision's tool calls in order. Once an action
// navigates the page, the remaining calls of the batch were planned against
// a page that no longer exists and are skipped with an explanatory result.
// Follow-up user notes (manual handover) are appended after all tool results
// so the assistant/tool message pairing stays intact.
func (a *Agent) runBatch(
	ctx context.Context,
	calls []llm.ToolCall,
	ledger *failureLedger,
	out *Outcome,
) ([]llm.Message, bool, string) {
	var results []llm.Message
	var notes []string
	pageChanged := false

	for _, tc := range calls {
		a.op.Progress(fmt.Sprintf("🛠 %s  %s", tc.Name, brief(argsPreview(tc.Args), 56)))
		var res tools.Result
		skipped := false

		switch {
		case pageChanged && tc.Name != toolFinishTask && tc.Name != toolWaitForUser:
			skipped = true
			res = tools.Result{
				Success:    false,
				Error:      "Страница изменилась после предыдущего действия.",
				Suggestion: "Сначала сделай get_page_content, затем повтори действие по актуальной странице.",
			}

		case tc.Name == toolFinishTask:
			summary := strings.TrimSpace(stringFromArgs(tc.Args, "summary"))
			if summary == "" {
				summary = "Задача завершена."
			}
			results = append(results, toolMessage(tc.ID, tools.Result{Success: true}.JSON()))
			return results, true, summary

		case tc.Name == toolWaitForUser:
			if err := a.op.WaitReady("Войдите в аккаунт или решите капчу в браузере."); err != nil {
				res = tools.Result{Success: false, Error: err.Error()}
			} else {
				res = tools.Result{Success: true}
			}

		default:
			var note string
			res, note = a.runTool(ctx, tc, ledger, out)
			if note != "" {
				notes = append(notes, note)
			}
		}

		if !res.Success && !skipped {
			out.FailedActions++
		}
		results = append(results, toolMessage(tc.ID, res.JSON()))

		if res.PageNavigated {
			pageChanged = true
		}
	}
	for _, note := range notes {
		results = append(results, llm.Message{Role: "user", Content: note})
	}
	return results, false, ""
}

func (a *Agent) runTool(
	ctx context.Context,
	tc llm.ToolCall,
	ledger *failureLedger,
	out *Outcome,
) (tools.Result, string) {
	// An action that already failed the threshold number of times is not
	// attempted again: the human performs this step manually.
	if ledgeredTools[tc.Name] {
		key := keyFor(tc.Name, tc.Args)
		if ledger.count(key) >= handoverThreshold {
			out.Handovers++
			ledger.clear()
			prompt := fmt.Sprintf("Действие «%s» не удалось %d раза подряд. Выполните его вручную в браузере.", tc.Name, handoverThreshold)
			if err := a.op.WaitReady(prompt); err != nil {
				return tools.Result{Success: false, Error: err.Error()}, ""
			}
			res := tools.Result{Success: true, Suggestion: "Действие выполнено пользователем вручную. Проверь страницу через get_page_content."}
			return res, "Пользователь выполнил это действие вручную. Сделай get_page_content и продолжай задачу со следующего шага."
		}
	}

	// Sensitive clicks gate on the human before anything touches the page.
	if tc.Name == "click_element" {
		if text := stringFromArgs(tc.Args, "text"); text != "" && dangerousPatterns.MatchString(text) {
			ok, err := a.op.Confirm(fmt.Sprintf("Подтвердить действие «%s»?", text))
			if err != nil || !ok {
				a.log.Info().Str("text", text).Msg("sensitive click declined")
				return tools.Result{Success: false, Error: "Пользователь отклонил действие"}, ""
			}
		}
	}

	res := a.toolbox.Execute(ctx, tc.Name, tc.Args)

	if !ledgeredTools[tc.Name] {
		return res, ""
	}
	key := keyFor(tc.Name, tc.Args)
	if res.Success || res.Ambiguous {
		// Ambiguity is under-specification, not failure: the model gets the
		// candidate previews and retries with better wording.
		ledger.reset(key)
		return res, ""
	}
	n := ledger.fail(key)
	a.log.Debug().Str("tool", tc.Name).Int("failures", n).Msg("action failed")
	return res, ""
}

func toolMessage(id, content string) llm.Message {
	return llm.Message{Role: "tool", ToolCallID: id, Content: content}
}

func stringFromArgs(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argsPreview(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func brief(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
