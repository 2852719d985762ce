package agent

import (
	"regexp"

	"github.com/polzovatel/webagent/internal/llm"
)

// dangerousPatterns flags click targets that commit money or destroy data;
// such clicks require explicit human confirmation before they run.
// \b is ASCII-only in RE2, so word edges are spelled out with \p{L}.
var dangerousPatterns = regexp.MustCompile(
	`(?i)(?:^|[^\p{L}])(?:оплатить|подтвердить\s*заказ|удалить\s*навсегда|оформить\s*заказ|` +
		`pay|checkout|confirm\s*order|delete\s*permanently|` +
		`подтвердить\s*оплату|купить|buy)(?:[^\p{L}]|$)`,
)

// readyTriggers are the replies that release a wait_for_user pause.
var readyTriggers = map[string]bool{
	"готово": true, "done": true, "ok": true,
	"продолжай": true, "go": true, "yes": true, "да": true,
}

// IsReady reports whether a user reply releases a pause. The caller is
// expected to lowercase and trim the line first.
func IsReady(line string) bool {
	return readyTriggers[line]
}

const systemPrompt = `You are an autonomous agent controlling a web browser through tools.

Rules:
1. Analyze the page first (get_page_content), then act (click_element, type_text and so on).
2. Find elements by their visible text or type; never invent selectors — use what you actually see on the page.
2a. Single tab: new tabs are forbidden, every link opens in the current one. Click links one at a time; after each click call get_page_content. Use go_back to return.
3. When a tool fails, try another way: different text, scroll, another element.
3a. When a modal dialog is open (get_page_content shows [Модальное окно] or modal): work only inside it. Clicks and typing go into the dialog. Pass the element's text or selector, never [role=dialog]. For typing use the field's placeholder, field_index or selector.
3b. When a click is ambiguous the result lists the matching elements with their surrounding context. Repeat the click adding that context to the text (for example the product name next to the button) instead of retrying the same words.
4. Work autonomously until the task is done or you genuinely need the user.
5. For clicks on dangerous wording (payment, deletion) the system asks the user for confirmation by itself — do not call a separate tool for that.
6. Before each batch of tool calls write one or two short sentences: what you are doing and why. The user sees this in the log.
7. Sessions are saved automatically on exit. If the user logged in manually in the browser, call save_session so future runs keep the login.
8. When the task is fully complete call finish_task with a summary. Never end the task with a long text message instead of finish_task.

Sensitive actions: for login forms and captchas call wait_for_user (never type passwords, never click the login button yourself). For payments, deletions and similar the system will ask the user to confirm.

Login and captcha:
- On login forms or captchas call wait_for_user. The user completes the form or solves the captcha in the browser and replies "готово"/"done". After that call get_page_content and continue.

Finishing: when everything is done call finish_task with a summary (what was done, the result). The summary is shown to the user.`

// Synthetic tools are handled inside the loop, never dispatched to the
// browser toolbox.
const (
	toolWaitForUser = "wait_for_user"
	toolFinishTask  = "finish_task"
)

func syntheticToolSpecs() []llm.Tool {
	return []llm.Tool{
		{
			Name:        toolWaitForUser,
			Description: "Ожидание ввода от пользователя в браузере. Используется для форм входа/регистрации (пароли не проходят через LLM) и для капчи. Пользователь заполняет форму или решает капчу вручную в браузере, затем вводит «готово» или «done». После возврата сделай get_page_content и продолжай задачу.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}},
		},
		{
			Name:        toolFinishTask,
			Description: "Вызови, когда задача полностью выполнена. Обязательно передай summary — краткий итог (что сделано, результат). После вызова агент завершает выполнение и выводит итог пользователю.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"summary": map[string]any{"type": "string", "description": "Краткий итог: что сделано, какой результат."},
					"success": map[string]any{"type": "boolean", "description": "Задача выполнена успешно?", "default": true},
				},
				"required": []string{"summary"},
			},
		},
	}
}
