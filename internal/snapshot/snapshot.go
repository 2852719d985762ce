// Package snapshot builds the model-facing view of the current page: capped
// visible text with the open dialog surfaced first, plus interactive element
// inventories.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polzovatel/webagent/internal/browser"
)

const htmlMax = 50000

// PageContent is one observation of the page. Caps are applied in-page so
// huge documents never cross the wire whole.
type PageContent struct {
	Text        string   `json:"text"`
	Modal       *Modal   `json:"modal,omitempty"`
	Buttons     []string `json:"buttons"`
	Links       []Link   `json:"links"`
	Inputs      []Input  `json:"inputs"`
	Fields      []Field  `json:"fields"`
	Options     []Option `json:"options"`
	Scrollables []string `json:"scrollables"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	HTML        string   `json:"html,omitempty"`
}

// Modal describes the open dialog; it is rendered at the top of Text so the
// model reads it before the page behind it.
type Modal struct {
	Text    string   `json:"text"`
	Buttons []string `json:"buttons"`
	Inputs  []Input  `json:"inputs"`
}

type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

type Input struct {
	Type        string `json:"type"`
	Placeholder string `json:"placeholder"`
	Name        string `json:"name"`
	ID          string `json:"id"`
}

// Field is a fillable control in the active scope; Index is the 1-based
// DOM-order position type_text accepts as field_index.
type Field struct {
	Index       int    `json:"index"`
	Placeholder string `json:"placeholder"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Type        string `json:"type"`
}

// Option is a selectable control (checkbox, radio or select) with its
// current state, so selections can be referenced by label.
type Option struct {
	Kind    string `json:"kind"` // checkbox | radio | select
	Label   string `json:"label"`
	Checked bool   `json:"checked,omitempty"`
	Value   string `json:"value,omitempty"` // select only
}

// Element is one extract_elements row.
type Element struct {
	Text string `json:"text"`
	Tag  string `json:"tag"`
	ID   string `json:"id"`
	Href string `json:"href"`
}

var extractSelectors = map[string]string{
	"links":    "a[href]",
	"buttons":  "button, [role='button'], input[type='submit']",
	"inputs":   "input, textarea, select",
	"headings": "h1, h2, h3, h4, h5, h6",
}

// Capture reads the page in one Evaluate round trip.
func Capture(ctx context.Context, ctrl browser.Controller, includeHTML bool) (*PageContent, error) {
	if err := ctrl.EnsureSingleTab(ctx); err != nil {
		return nil, err
	}
	val, err := ctrl.Page().Evaluate(captureScript)
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	var pc PageContent
	if err := decode(val, &pc); err != nil {
		return nil, fmt.Errorf("decode page content: %w", err)
	}
	if includeHTML {
		html, err := ctrl.Page().Content()
		if err != nil {
			return nil, fmt.Errorf("page html: %w", err)
		}
		if len(html) > htmlMax {
			html = html[:htmlMax]
		}
		pc.HTML = html
	}
	return &pc, nil
}

// Extract lists elements of one kind: links, buttons, inputs or headings.
func Extract(ctx context.Context, ctrl browser.Controller, kind string) ([]Element, error) {
	if err := ctrl.EnsureSingleTab(ctx); err != nil {
		return nil, err
	}
	sel, ok := extractSelectors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown element_type %q", kind)
	}
	val, err := ctrl.Page().Evaluate(extractScript, sel)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	var els []Element
	if err := decode(val, &els); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	return els, nil
}

func decode(val any, out any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

const captureScript = `() => {
	document.querySelectorAll('a[target="_blank"], a[target="_new"]').forEach(a => a.removeAttribute('target'));
	const root = document.body;
	const bodyText = root?.innerText ?? '';
	const sel = (s, r) => (r || root).querySelectorAll(s);
	const arr = q => Array.from(q);

	let modal = null;
	let dialog = null;
	const dialogEl = root.querySelector('[role="dialog"]') || root.querySelector('[role="alertdialog"]') || root.querySelector('[aria-modal="true"]');
	if (dialogEl) {
		const r = dialogEl.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) dialog = dialogEl;
	}
	if (dialog) {
		const mt = (dialog.innerText || '').trim().slice(0, 4000);
		const mb = arr(sel('button, [role="button"], input[type="submit"]', dialog))
			.map(el => el.innerText?.trim() || el.value || el.getAttribute('aria-label') || '')
			.filter(t => t).slice(0, 20);
		const mi = arr(sel('input:not([type=hidden]):not([type=checkbox]):not([type=radio]), textarea, select', dialog))
			.map(el => ({ type: el.type || el.tagName.toLowerCase(), placeholder: el.placeholder || '', name: el.name || '', id: el.id || '' }))
			.slice(0, 20);
		modal = { text: mt, buttons: mb, inputs: mi };
	}

	const buttons = arr(sel('button, [role="button"], input[type="submit"]'))
		.map(el => el.innerText?.trim() || el.value || el.getAttribute('aria-label') || '')
		.filter(t => t).slice(0, 30);
	const links = arr(sel('a[href]'))
		.map(el => ({ text: (el.innerText || '').trim().slice(0, 200), href: el.href }))
		.filter(l => l.text).slice(0, 50);
	const inputs = arr(sel('input, textarea, select'))
		.map(el => ({ type: el.type, placeholder: el.placeholder || '', name: el.name || '', id: el.id || '' }))
		.slice(0, 30);

	const scope = dialog || root;
	const visible = el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const labelFor = el => {
		const aria = (el.getAttribute('aria-label') || '').trim();
		if (aria) return aria;
		if (el.id) {
			const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) return (lab.innerText || '').trim();
		}
		const wrap = el.closest('label');
		if (wrap) return (wrap.innerText || '').trim().slice(0, 120);
		return '';
	};

	const fields = arr(sel('input:not([type=hidden]):not([type=checkbox]):not([type=radio]):not([type=submit]):not([type=button]), textarea, [contenteditable="true"]', scope))
		.filter(visible)
		.map((el, i) => ({
			index: i + 1,
			placeholder: el.placeholder || '',
			name: el.name || '',
			label: labelFor(el),
			type: el.type || el.tagName.toLowerCase(),
		})).slice(0, 30);

	const options = [];
	for (const el of sel('input[type=checkbox], input[type=radio]', scope)) {
		if (!visible(el) && !dialog) continue;
		options.push({ kind: el.type, label: labelFor(el), checked: el.checked });
		if (options.length >= 30) break;
	}
	for (const el of sel('select', scope)) {
		if (options.length >= 30) break;
		if (!visible(el)) continue;
		const chosen = el.selectedOptions && el.selectedOptions.length ? el.selectedOptions[0].innerText.trim() : '';
		options.push({ kind: 'select', label: labelFor(el) || el.name || '', value: chosen });
	}

	const scrollables = [];
	for (const el of root.querySelectorAll('div, section, main, aside, ul')) {
		if (scrollables.length >= 10) break;
		const cs = getComputedStyle(el);
		if ((cs.overflowY === 'auto' || cs.overflowY === 'scroll') && el.scrollHeight > el.clientHeight + 10) {
			if (el.id) { scrollables.push('#' + el.id); continue; }
			const cls = (el.className && typeof el.className === 'string') ? el.className.trim().split(/\s+/).slice(0, 2).join('.') : '';
			scrollables.push(cls ? el.tagName.toLowerCase() + '.' + cls : el.tagName.toLowerCase());
		}
	}

	const maxText = 18000;
	let text = bodyText.slice(0, maxText);
	if (modal && modal.text) {
		let prefix = '\n[Модальное окно]\n';
		if (modal.buttons.length) {
			const btns = modal.buttons.map(t => (t || '').trim().replace(/\s+/g, ' ').slice(0, 120)).filter(Boolean);
			if (btns.length) prefix += 'Кнопки в модалке: ' + btns.map(t => '«' + t + '»').join(', ') + '\n\n';
		}
		if (modal.inputs.length) {
			const parts = modal.inputs.map(inp => {
				const ph = (inp.placeholder || '').trim().slice(0, 80);
				return ph ? ('placeholder «' + ph + '»') : (inp.name || inp.id || inp.type || '');
			}).filter(Boolean);
			if (parts.length) prefix += 'Поля в модалке: ' + parts.join(', ') + '\n\n';
		}
		prefix += modal.text.slice(0, 2500) + '\n\n';
		text = prefix + text.slice(0, maxText - prefix.length);
	}

	return { text, modal, buttons, links, inputs, fields, options, scrollables, url: window.location.href, title: document.title };
}`

const extractScript = `(selector) => {
	return Array.from(document.querySelectorAll(selector))
		.map(el => ({
			text: (el.innerText || el.value || '').trim().slice(0, 300),
			tag: el.tagName,
			id: el.id || '',
			href: el.href || ''
		}))
		.filter(e => e.text);
}`
