// Package tools exposes the browser operations as a model-facing tool
// surface: JSON-schema descriptors, argument validation and dispatch to the
// executor, with every outcome folded into one serializable result shape.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/webagent/internal/action"
	"github.com/polzovatel/webagent/internal/browser"
	"github.com/polzovatel/webagent/internal/llm"
	"github.com/polzovatel/webagent/internal/match"
	"github.com/polzovatel/webagent/internal/snapshot"
)

// Result is the wire shape of one tool call outcome. Absent fields are
// omitted so the model reads only what the call produced.
type Result struct {
	Success       bool                  `json:"success"`
	Error         string                `json:"error,omitempty"`
	Suggestion    string                `json:"suggestion,omitempty"`
	Ambiguous     bool                  `json:"ambiguous,omitempty"`
	Disabled      bool                  `json:"disabled,omitempty"`
	Matches       []match.Preview       `json:"matches,omitempty"`
	URL           string                `json:"url,omitempty"`
	Title         string                `json:"title,omitempty"`
	Content       *snapshot.PageContent `json:"content,omitempty"`
	Elements      []snapshot.Element    `json:"elements,omitempty"`
	ElementType   string                `json:"element_type,omitempty"`
	PageNavigated bool                  `json:"page_navigated,omitempty"`
	ForceUsed     bool                  `json:"force_used,omitempty"`
	Path          string                `json:"path,omitempty"`
}

// JSON renders the result for the tool message; marshal errors collapse to a
// minimal failure payload rather than panic mid-loop.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result serialization failed"}`
	}
	return string(data)
}

func fail(msg string) Result { return Result{Success: false, Error: msg} }

func failSuggest(msg, suggestion string) Result {
	return Result{Success: false, Error: msg, Suggestion: suggestion}
}

// Toolbox binds the tool surface to one browser session.
type Toolbox struct {
	exec        *action.Executor
	ctrl        browser.Controller
	storagePath string
	log         zerolog.Logger
}

func New(ctrl browser.Controller, exec *action.Executor, storagePath string, log zerolog.Logger) *Toolbox {
	return &Toolbox{
		exec:        exec,
		ctrl:        ctrl,
		storagePath: storagePath,
		log:         log.With().Str("comp", "tools").Logger(),
	}
}

// Execute runs one named tool. Unknown names and bad arguments come back as
// failed results, never as Go errors: the model must see them and adapt.
func (t *Toolbox) Execute(ctx context.Context, name string, args map[string]any) Result {
	switch name {
	case "navigate":
		return t.navigate(ctx, args)
	case "get_page_content":
		return t.getPageContent(ctx, args)
	case "click_element":
		return t.clickElement(ctx, args)
	case "type_text":
		return t.typeText(ctx, args)
	case "scroll":
		return t.scroll(ctx, args)
	case "go_back":
		return t.goBack(ctx)
	case "extract_elements":
		return t.extractElements(ctx, args)
	case "save_session":
		return t.saveSession(ctx)
	default:
		return fail(fmt.Sprintf("Unknown tool: %s", name))
	}
}

func (t *Toolbox) navigate(ctx context.Context, args map[string]any) Result {
	url := stringArg(args, "url")
	if url == "" {
		return fail("Укажи url для перехода.")
	}
	res, err := t.exec.Navigate(ctx, url)
	if err != nil {
		return Result{Success: false, Error: err.Error(), URL: url}
	}
	return Result{Success: true, URL: res.URL, Title: res.Title, PageNavigated: true}
}

func (t *Toolbox) getPageContent(ctx context.Context, args map[string]any) Result {
	content, err := snapshot.Capture(ctx, t.ctrl, boolArg(args, "include_html"))
	if err != nil {
		return fail(err.Error())
	}
	return Result{Success: true, Content: content}
}

func (t *Toolbox) clickElement(ctx context.Context, args map[string]any) Result {
	req := action.ClickRequest{
		Text:     stringArg(args, "text"),
		Selector: stringArg(args, "selector"),
		Exact:    boolArg(args, "exact"),
	}
	if req.Text == "" && req.Selector == "" {
		if role := stringArg(args, "role"); role != "" {
			req.Selector = fmt.Sprintf("[role='%s']", role)
		} else {
			return fail("Укажи text, selector или role элемента.")
		}
	}
	res, err := t.exec.Click(ctx, req)
	if err != nil {
		return clickFailure(req.Text, err)
	}
	return Result{
		Success:       true,
		URL:           res.URL,
		Title:         res.Title,
		PageNavigated: res.Navigated,
		ForceUsed:     res.ForceUsed,
	}
}

func clickFailure(target string, err error) Result {
	var amb *action.AmbiguousError
	if errors.As(err, &amb) {
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("Найдено %d элементов с текстом «%s».", amb.Count, target),
			Suggestion: "Уточни запрос: добавь к тексту кнопки название товара или заголовок рядом с ней.",
			Ambiguous:  true,
			Matches:    amb.Previews,
		}
	}
	var dis *action.DisabledError
	if errors.As(err, &dis) {
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("Элемент «%s» найден, но недоступен (%s).", target, dis.Reason),
			Suggestion: "Сначала выполни обязательное условие в диалоге (выбери опцию, заполни поле), затем повтори клик.",
			Disabled:   true,
		}
	}
	var nf *action.NotFoundError
	if errors.As(err, &nf) {
		return failSuggest(
			fmt.Sprintf("Элемент «%s» не найден.", target),
			"Сделай get_page_content и используй точный видимый текст, либо scroll.",
		)
	}
	var scope *action.SelectorScopeError
	if errors.As(err, &scope) {
		return failSuggest(
			"Селектор задаёт только контейнер диалога. Укажи text или селектор элемента.",
			"В диалоге используй text или селектор элемента, не [role=dialog].",
		)
	}
	return fail(err.Error())
}

func (t *Toolbox) typeText(ctx context.Context, args map[string]any) Result {
	text := stringArg(args, "text")
	if text == "" {
		return fail("Укажи text для ввода.")
	}
	res, err := t.exec.Fill(ctx, action.FillRequest{
		Text:        text,
		Selector:    stringArg(args, "selector"),
		Placeholder: stringArg(args, "placeholder"),
		FieldIndex:  intArg(args, "field_index"),
	})
	if err != nil {
		var nf *action.NotFoundError
		if errors.As(err, &nf) {
			return failSuggest(
				"Поле для ввода не найдено: "+nf.Target,
				"Сделай get_page_content и укажи placeholder, field_index или selector поля.",
			)
		}
		var scope *action.SelectorScopeError
		if errors.As(err, &scope) {
			return failSuggest(
				"Селектор задаёт только контейнер диалога. Укажи селектор поля.",
				"В диалоге используй placeholder или селектор поля, не [role=dialog].",
			)
		}
		return fail(err.Error())
	}
	return Result{Success: true, URL: res.URL, Title: res.Title}
}

func (t *Toolbox) scroll(ctx context.Context, args map[string]any) Result {
	direction := strings.ToLower(stringArg(args, "direction"))
	if direction == "" {
		direction = "down"
	}
	if direction != "up" && direction != "down" {
		return fail("direction должен быть up или down.")
	}
	_, err := t.exec.Scroll(ctx, direction, intArg(args, "amount"), stringArg(args, "container_selector"))
	if err != nil {
		return fail(err.Error())
	}
	return Result{Success: true}
}

func (t *Toolbox) goBack(ctx context.Context) Result {
	res, err := t.exec.GoBack(ctx)
	if err != nil {
		return fail(err.Error())
	}
	return Result{Success: true, URL: res.URL, Title: res.Title, PageNavigated: res.Navigated}
}

func (t *Toolbox) extractElements(ctx context.Context, args map[string]any) Result {
	kind := stringArg(args, "element_type")
	if kind == "" {
		kind = "links"
	}
	els, err := snapshot.Extract(ctx, t.ctrl, kind)
	if err != nil {
		return fail(err.Error())
	}
	return Result{Success: true, ElementType: kind, Elements: els}
}

func (t *Toolbox) saveSession(ctx context.Context) Result {
	if err := t.ctrl.SaveState(ctx, t.storagePath); err != nil {
		return fail(err.Error())
	}
	t.log.Info().Str("path", t.storagePath).Msg("session saved")
	return Result{Success: true, Path: t.storagePath}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// Specs lists the browser tools for the model. The synthetic wait_for_user
// and finish_task tools live in the agent, not here.
func (t *Toolbox) Specs() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "navigate",
			Description: "Перейти по URL. Вызови первым, если страница ещё не открыта.",
			InputSchema: schema(props{
				"url": prop{"type": "string", "description": "URL для перехода"},
			}, "url"),
		},
		{
			Name:        "get_page_content",
			Description: "Получить содержимое текущей страницы: текст, кнопки, ссылки, поля ввода. Используй для анализа перед действиями.",
			InputSchema: schema(props{
				"include_html": prop{"type": "boolean", "description": "Включать сырой HTML (редко нужно)", "default": false},
			}),
		},
		{
			Name:        "click_element",
			Description: "Кликнуть по элементу. Указывай text (видимый текст), или selector, или role. В диалоге scope автоматический — передавай text или selector элемента, не [role=dialog].",
			InputSchema: schema(props{
				"text":     prop{"type": "string", "description": "Видимый текст элемента"},
				"selector": prop{"type": "string", "description": "CSS-селектор элемента (не контейнера диалога)"},
				"role":     prop{"type": "string", "description": "ARIA-роль (button, link и т.д.)"},
				"exact":    prop{"type": "boolean", "description": "Точное совпадение текста", "default": false},
			}),
		},
		{
			Name:        "type_text",
			Description: "Ввести текст в поле. Используй placeholder, field_index или selector, если полей несколько. Длинный текст вводится в textarea. Checkbox/radio не поддерживаются.",
			InputSchema: schema(props{
				"text":        prop{"type": "string", "description": "Текст для ввода"},
				"selector":    prop{"type": "string", "description": "CSS-селектор поля"},
				"placeholder": prop{"type": "string", "description": "Placeholder поля для поиска"},
				"field_index": prop{"type": "integer", "description": "Номер поля по порядку, с 1"},
			}, "text"),
		},
		{
			Name:        "scroll",
			Description: "Проскроллить страницу вверх или вниз.",
			InputSchema: schema(props{
				"direction":          prop{"type": "string", "enum": []string{"up", "down"}, "default": "down"},
				"amount":             prop{"type": "integer", "description": "Пиксели", "default": 500},
				"container_selector": prop{"type": "string", "description": "CSS-селектор скроллируемого контейнера (по умолчанию окно)"},
			}),
		},
		{
			Name:        "go_back",
			Description: "Вернуться на предыдущую страницу в истории. Используй после перехода по ссылке, чтобы открыть следующую.",
			InputSchema: schema(props{}),
		},
		{
			Name:        "extract_elements",
			Description: "Извлечь элементы по типу: links, buttons, inputs, headings.",
			InputSchema: schema(props{
				"element_type": prop{"type": "string", "enum": []string{"links", "buttons", "inputs", "headings"}, "default": "links"},
			}),
		},
		{
			Name:        "save_session",
			Description: "Сохранить сессию браузера (логины, cookies) в файл. После перезапуска агента сессия подхватится, вводить логин/пароль снова не нужно.",
			InputSchema: schema(props{}),
		},
	}
}

type props map[string]prop
type prop map[string]any

func schema(p props, required ...string) map[string]any {
	properties := make(map[string]any, len(p))
	for k, v := range p {
		properties[k] = map[string]any(v)
	}
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if required == nil {
		required = []string{}
	}
	s["required"] = required
	return s
}
