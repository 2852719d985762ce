package agent

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// handoverThreshold is how many consecutive failures of the same action the
// loop tolerates before handing the step to the human.
const handoverThreshold = 3

// Actions that change page or browser state are ledgered; read-only tools
// never are, a failed read costs nothing and retrying it is harmless.
var ledgeredTools = map[string]bool{
	"click_element": true,
	"type_text":     true,
	"navigate":      true,
	"go_back":       true,
	"scroll":        true,
}

type actionKey uint64

// keyFor folds a tool name and its arguments into a stable identity. Args
// are rendered in sorted key order so two semantically identical calls hash
// the same regardless of map iteration.
func keyFor(name string, args map[string]any) actionKey {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(canonValue(args[k])))
	}
	return actionKey(h.Sum64())
}

func canonValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// failureLedger counts consecutive failures per action identity. Success or
// an ambiguous outcome resets the count: ambiguity is a request for better
// wording, not a broken action.
type failureLedger struct {
	counts map[actionKey]int
}

func newFailureLedger() *failureLedger {
	return &failureLedger{counts: make(map[actionKey]int)}
}

func (l *failureLedger) fail(k actionKey) int {
	l.counts[k]++
	return l.counts[k]
}

func (l *failureLedger) count(k actionKey) int {
	return l.counts[k]
}

func (l *failureLedger) reset(k actionKey) {
	delete(l.counts, k)
}

func (l *failureLedger) clear() {
	l.counts = make(map[actionKey]int)
}
