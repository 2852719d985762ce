package browser

import (
	"context"
	"encoding/json"
	"fmt"
)

// Harvest scripts run in the page, stamp every reported element with a
// data-agent-ref attribute and return plain descriptors. The Go side never
// holds element handles; a ref is only valid until the next harvest.

// HarvestClickables scans the active scope (the open dialog when one is
// visible, the whole page otherwise) for interactive elements.
func (c *controller) HarvestClickables(ctx context.Context) (*Harvest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := c.page.Evaluate(harvestClickablesScript)
	if err != nil {
		return nil, wrap(err)
	}
	var h Harvest
	if err := decodeEval(val, &h); err != nil {
		return nil, fmt.Errorf("decode harvest: %w", err)
	}
	return &h, nil
}

// HarvestFields scans fillable fields, split into the dialog subset (when a
// dialog is open) and the full page list. Indices are 1-based in DOM order.
func (c *controller) HarvestFields(ctx context.Context) (*FieldHarvest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := c.page.Evaluate(harvestFieldsScript)
	if err != nil {
		return nil, wrap(err)
	}
	var h FieldHarvest
	if err := decodeEval(val, &h); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return &h, nil
}

// BroadScan is the last-resort lookup: walk every element in scope whose text
// matches one of the search strings, then descend to the best actionable
// child. Viewport elements win; ties go to the shortest enclosing text.
// Returns the stamped ref of the winner, or found=false.
func (c *controller) BroadScan(ctx context.Context, searches []string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	val, err := c.page.Evaluate(broadScanScript, searches)
	if err != nil {
		return 0, false, wrap(err)
	}
	var res struct {
		Found bool `json:"found"`
		Ref   int  `json:"ref"`
	}
	if err := decodeEval(val, &res); err != nil {
		return 0, false, fmt.Errorf("decode scan: %w", err)
	}
	return res.Ref, res.Found, nil
}

// decodeEval round-trips an Evaluate result through JSON into a typed struct.
func decodeEval(val any, out any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

const harvestClickablesScript = `() => {
	document.querySelectorAll('[data-agent-ref]').forEach(el => el.removeAttribute('data-agent-ref'));

	const dialogSel = '[role="dialog"], [role="alertdialog"], [aria-modal="true"]';
	let dialog = null;
	for (const d of document.querySelectorAll(dialogSel)) {
		const r = d.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) { dialog = d; break; }
	}

	const pageSel = 'a, button, [role="button"], input[type="submit"], input[type="button"]';
	const dialogExtra = ', [role="option"], [role="menuitemradio"], [role="menuitemcheckbox"], input[type="radio"], input[type="checkbox"]';
	const root = dialog || document.body;
	const sel = dialog ? pageSel + dialogExtra : pageSel;

	const norm = s => (s || '').replace(/\s+/g, ' ').trim();

	const labelOf = el => {
		let t = norm(el.innerText);
		if (!t && el.value) t = norm(el.value);
		if (!t) t = norm(el.getAttribute('aria-label'));
		if (!t) t = norm(el.getAttribute('title'));
		// Radios and checkboxes usually carry their text in a wrapping or
		// for-linked label.
		if (!t && el.id) {
			const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) t = norm(lab.innerText);
		}
		if (!t) {
			const wrap = el.closest('label');
			if (wrap) t = norm(wrap.innerText);
		}
		return t.slice(0, 200);
	};

	const contextOf = el => {
		let node = el.parentElement;
		for (let depth = 0; node && depth < 6; depth++, node = node.parentElement) {
			const h = node.querySelector('h1, h2, h3, h4, [role="heading"]');
			if (h) {
				const t = norm(h.innerText).slice(0, 120);
				if (t && t !== labelOf(el)) return t;
			}
		}
		return '';
	};

	const disabledBy = el => {
		if (el.disabled) return 'disabled attribute';
		if (el.getAttribute('aria-disabled') === 'true') return 'aria-disabled';
		const cs = getComputedStyle(el);
		if (cs.pointerEvents === 'none') return 'pointer-events: none';
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0 || cs.visibility === 'hidden' || cs.display === 'none') return 'hidden';
		return '';
	};

	const vw = window.innerWidth, vh = window.innerHeight;
	const candidates = [];
	let ref = 0;
	for (const el of root.querySelectorAll(sel)) {
		const text = labelOf(el);
		if (!text) continue;
		const why = disabledBy(el);
		// Outside a dialog hidden elements are noise; inside, the model must
		// learn the button exists but cannot be pressed yet.
		if (why === 'hidden' && !dialog) continue;
		const r = el.getBoundingClientRect();
		el.setAttribute('data-agent-ref', String(ref));
		candidates.push({
			Ref: ref,
			Text: text,
			Context: contextOf(el),
			InViewport: r.bottom > 0 && r.top < vh && r.right > 0 && r.left < vw,
			Disabled: why !== '',
			DisabledBy: why,
		});
		ref++;
	}
	return { inDialog: dialog !== null, candidates };
}`

const harvestFieldsScript = `() => {
	document.querySelectorAll('[data-agent-field]').forEach(el => el.removeAttribute('data-agent-field'));

	const dialogSel = '[role="dialog"], [role="alertdialog"], [aria-modal="true"]';
	let dialog = null;
	for (const d of document.querySelectorAll(dialogSel)) {
		const r = d.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) { dialog = d; break; }
	}

	const norm = s => (s || '').replace(/\s+/g, ' ').trim();
	const fieldSel = 'input:not([type="hidden"]):not([type="checkbox"]):not([type="radio"]):not([type="submit"]):not([type="button"]), textarea, [contenteditable="true"]';

	const labelFor = el => {
		const aria = norm(el.getAttribute('aria-label'));
		if (aria) return aria;
		if (el.id) {
			const lab = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (lab) return norm(lab.innerText);
		}
		const wrap = el.closest('label');
		if (wrap) return norm(wrap.innerText).slice(0, 120);
		return '';
	};

	let ref = 0;
	const describe = (el, index) => {
		el.setAttribute('data-agent-field', String(ref));
		const d = {
			Ref: ref,
			Index: index,
			Placeholder: norm(el.getAttribute('placeholder')),
			Name: norm(el.getAttribute('name')),
			Label: labelFor(el),
			Type: norm(el.getAttribute('type')) || el.tagName.toLowerCase(),
			Textarea: el.tagName === 'TEXTAREA',
			Editable: el.getAttribute('contenteditable') === 'true',
		};
		ref++;
		return d;
	};

	const visible = el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};

	const collect = root => {
		const out = [];
		let index = 1;
		for (const el of root.querySelectorAll(fieldSel)) {
			if (!visible(el)) continue;
			out.push(describe(el, index));
			index++;
		}
		return out;
	};

	const page = collect(document.body);
	let inDialog = null;
	if (dialog) {
		inDialog = [];
		let index = 1;
		for (const el of dialog.querySelectorAll(fieldSel)) {
			if (!visible(el)) continue;
			const stamped = el.getAttribute('data-agent-field');
			const d = page.find(f => String(f.Ref) === stamped);
			if (d) inDialog.push({ ...d, Index: index++ });
		}
	}
	return { dialog: inDialog, page };
}`

const broadScanScript = `(searches) => {
	const dialogSel = '[role="dialog"], [role="alertdialog"], [aria-modal="true"]';
	let dialog = null;
	for (const d of document.querySelectorAll(dialogSel)) {
		const r = d.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) { dialog = d; break; }
	}
	const root = dialog || document.body;

	const norm = s => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const collapse = s => norm(s).replace(/ /g, '');
	const wants = searches.map(s => ({ n: norm(s), c: collapse(s) }));

	const matches = t => {
		if (!t || t.length > 400) return false;
		const ct = collapse(t);
		return wants.some(w => t === w.n || t.includes(w.n) || (w.c.length >= 2 && ct.includes(w.c)));
	};

	const actionableSel = 'a, button, [role="button"], [role="option"], [role="menuitemradio"], [role="menuitemcheckbox"], input[type="submit"], input[type="button"], input[type="radio"], input[type="checkbox"]';

	const vw = window.innerWidth, vh = window.innerHeight;
	const inViewport = el => {
		const r = el.getBoundingClientRect();
		return r.bottom > 0 && r.top < vh && r.right > 0 && r.left < vw;
	};

	const found = [];
	for (const el of root.querySelectorAll('*')) {
		const t = norm(el.innerText);
		if (!matches(t)) continue;
		let target = el;
		if (!el.matches(actionableSel)) {
			const kids = el.querySelectorAll(actionableSel);
			if (kids.length === 0) continue;
			// Prefer the descendant whose own label carries the match.
			target = kids[0];
			for (const k of kids) {
				if (matches(norm(k.innerText) || norm(k.value) || norm(k.getAttribute('aria-label')))) {
					target = k;
					break;
				}
			}
		}
		found.push({ target, enclosing: t.length, vp: inViewport(target) });
	}
	if (found.length === 0) return { found: false, ref: 0 };

	found.sort((a, b) => (b.vp - a.vp) || (a.enclosing - b.enclosing));
	const winner = found[0].target;
	let ref = winner.getAttribute('data-agent-ref');
	if (ref === null) {
		ref = '9000';
		while (document.querySelector('[data-agent-ref="' + ref + '"]')) ref = String(Number(ref) + 1);
		winner.setAttribute('data-agent-ref', ref);
	}
	return { found: true, ref: Number(ref) };
}`

const clickRefScript = `(ref) => {
	const el = document.querySelector('[data-agent-ref="' + ref + '"]');
	if (!el) return false;
	el.scrollIntoView({ block: 'center', inline: 'nearest' });
	const r = el.getBoundingClientRect();
	const opts = {
		bubbles: true,
		cancelable: true,
		composed: true,
		view: window,
		clientX: r.x + r.width / 2,
		clientY: r.y + r.height / 2,
		button: 0,
	};
	for (const type of ['pointerover', 'pointerenter', 'pointerdown', 'mousedown', 'pointerup', 'mouseup']) {
		const ev = type.startsWith('pointer') ? new PointerEvent(type, opts) : new MouseEvent(type, opts);
		el.dispatchEvent(ev);
	}
	el.click();
	return true;
}`
