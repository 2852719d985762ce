package match

import (
	"fmt"
	"strings"

	"github.com/polzovatel/webagent/internal/textnorm"
)

// Text longer than this prefers a textarea when no explicit target is given.
const longTextRunes = 80

// Field is one fillable control harvested in DOM order: visible inputs
// (checkbox/radio excluded), textareas and contenteditable regions.
type Field struct {
	Ref         int
	Index       int // 1-based position within its scope
	Placeholder string
	Name        string
	Label       string
	Type        string
	Textarea    bool
	Editable    bool // contenteditable region
}

// FillRequest describes a type_text call after argument validation.
// Selector-based fills bypass the planner entirely.
type FillRequest struct {
	Text        string
	Placeholder string
	FieldIndex  int // 1-based, 0 when absent
}

// FillTarget names the chosen field and how it was chosen.
type FillTarget struct {
	Ref       int
	PageScope bool   // true when resolution fell back from dialog to page
	By        string // placeholder | index | textarea | first
}

// PlanFill picks the field to fill. When a dialog is active, placeholder and
// index lookups are validated against the dialog's own field set first and
// fall back to full-page scope when the request cannot be satisfied there —
// some forms render outside the dialog subtree despite being visually
// nested.
func PlanFill(req FillRequest, dialogFields, pageFields []Field) (FillTarget, error) {
	inDialog := dialogFields != nil

	if req.Placeholder != "" {
		if inDialog {
			if f, ok := byPlaceholder(req.Placeholder, dialogFields); ok {
				return FillTarget{Ref: f.Ref, By: "placeholder"}, nil
			}
			if f, ok := byPlaceholder(req.Placeholder, pageFields); ok {
				return FillTarget{Ref: f.Ref, PageScope: true, By: "placeholder"}, nil
			}
		} else if f, ok := byPlaceholder(req.Placeholder, pageFields); ok {
			return FillTarget{Ref: f.Ref, By: "placeholder"}, nil
		}
		return FillTarget{}, fmt.Errorf("no field with placeholder %q", req.Placeholder)
	}

	if req.FieldIndex > 0 {
		if inDialog {
			if req.FieldIndex <= len(dialogFields) {
				return FillTarget{Ref: dialogFields[req.FieldIndex-1].Ref, By: "index"}, nil
			}
			if req.FieldIndex <= len(pageFields) {
				return FillTarget{Ref: pageFields[req.FieldIndex-1].Ref, PageScope: true, By: "index"}, nil
			}
		} else if req.FieldIndex <= len(pageFields) {
			return FillTarget{Ref: pageFields[req.FieldIndex-1].Ref, By: "index"}, nil
		}
		return FillTarget{}, fmt.Errorf("field_index %d out of range", req.FieldIndex)
	}

	active := pageFields
	fellBack := false
	if inDialog {
		if len(dialogFields) > 0 {
			active = dialogFields
		} else {
			fellBack = true
		}
	}
	if len(active) == 0 {
		return FillTarget{}, fmt.Errorf("no fillable fields in scope")
	}

	if len([]rune(req.Text)) > longTextRunes {
		for _, f := range active {
			if f.Textarea {
				return FillTarget{Ref: f.Ref, PageScope: fellBack, By: "textarea"}, nil
			}
		}
	}
	return FillTarget{Ref: active[0].Ref, PageScope: fellBack, By: "first"}, nil
}

func byPlaceholder(want string, fields []Field) (Field, bool) {
	lw := strings.ToLower(textnorm.Normalize(want))
	for _, f := range fields {
		lp := strings.ToLower(textnorm.Normalize(f.Placeholder))
		if lp != "" && strings.Contains(lp, lw) {
			return f, true
		}
		ll := strings.ToLower(textnorm.Normalize(f.Label))
		if ll != "" && strings.Contains(ll, lw) {
			return f, true
		}
	}
	return Field{}, false
}
