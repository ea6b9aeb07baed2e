// Package router decides, per user message, whether to answer from the
// documentation corpus or to run an openBIS action. Routing is driven by a
// declarative keyword table and is fully deterministic: no model is
// consulted for control decisions, so the same message always takes the
// same path.
//
// The decision ladder:
//
//  1. Connection verbs ("connect", "logout", ...) route to the connection
//     actions even without an entity, unless the message reads as a
//     documentation question.
//  2. An action verb together with an entity noun routes to an action.
//  3. A documentation pattern routes to retrieval; when both signals are
//     present the documentation reading wins unless the message opens with
//     the verb itself ("List samples..." vs "How to list samples").
//  4. Short messages with no signals of their own inherit the previous
//     action decision, so "and in space TEST" continues "list samples".
//  5. Anything else falls back to retrieval.
package router

import (
	_ "embed"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

//go:embed rules.yaml
var defaultRules []byte

// Mode is the coarse routing outcome for a message.
type Mode string

const (
	// ModeRAG answers from the documentation corpus.
	ModeRAG Mode = "rag"
	// ModeAction runs an openBIS action.
	ModeAction Mode = "action"
	// ModeFallback is recorded when no signal matched; the message is still
	// answered from the corpus.
	ModeFallback Mode = "fallback"
)

// Decision is the routing outcome for one message.
type Decision struct {
	Mode    Mode
	Action  string            // canonical action name, set when Mode == ModeAction
	Verb    string            // canonical verb that produced the action
	Entity  string            // canonical entity name, "" for connection actions
	Params  map[string]string // extracted action parameters
	Signals []string          // matched signals, for logging and reply metadata
}

// surfaceForm is one pre-split phrase from the rule table together with
// what it maps to.
type surfaceForm struct {
	words  []string
	canon  string
	entity *Entity
	plural bool
}

// Router classifies messages against a compiled rule table. It is
// immutable after construction and safe for concurrent use.
type Router struct {
	rules Rules

	actionForms []surfaceForm
	connForms   []surfaceForm
	docForms    []surfaceForm
	entityForms []surfaceForm

	entityByName map[string]*Entity
	knownWords   map[string]bool
}

// New builds a Router from the embedded default rule table.
func New() (*Router, error) {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		return nil, err
	}
	return NewWithRules(rules)
}

// NewWithRules builds a Router from an explicit rule table, for deployments
// that override the embedded one.
func NewWithRules(rules Rules) (*Router, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		rules:        rules,
		entityByName: make(map[string]*Entity, len(rules.Entities)),
		knownWords:   make(map[string]bool),
	}

	for _, v := range rules.ActionVerbs {
		r.actionForms = append(r.actionForms, surfaceForm{words: splitForm(v), canon: v})
	}
	for alias, canon := range rules.VerbAliases {
		r.actionForms = append(r.actionForms, surfaceForm{words: splitForm(alias), canon: canon})
	}
	for action, forms := range rules.ConnectionVerbs {
		for _, form := range forms {
			r.connForms = append(r.connForms, surfaceForm{words: splitForm(form), canon: action})
		}
	}
	for _, p := range rules.DocPatterns {
		r.docForms = append(r.docForms, surfaceForm{words: splitForm(p), canon: p})
	}
	for i := range rules.Entities {
		e := &rules.Entities[i]
		r.entityByName[e.Name] = e
		for _, form := range e.Match {
			r.entityForms = append(r.entityForms, surfaceForm{words: splitForm(form), canon: e.Name, entity: e})
		}
		for _, form := range e.MatchPlural {
			r.entityForms = append(r.entityForms, surfaceForm{words: splitForm(form), canon: e.Name, entity: e, plural: true})
		}
	}

	// Longer phrases first so "sample type" wins over "sample".
	for _, forms := range [][]surfaceForm{r.actionForms, r.connForms, r.docForms, r.entityForms} {
		sort.SliceStable(forms, func(i, j int) bool {
			return len(forms[i].words) > len(forms[j].words)
		})
	}

	for _, forms := range [][]surfaceForm{r.actionForms, r.connForms, r.entityForms} {
		for _, f := range forms {
			for _, w := range f.words {
				r.knownWords[w] = true
			}
		}
	}

	return r, nil
}

// Classify routes a single message. prev is the decision for the previous
// message in the same session, nil for the first message; it is only used
// to let short follow-ups inherit an action. Classify never fails: messages
// with no recognisable signal become ModeFallback.
func (r *Router) Classify(message string, prev *Decision) Decision {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return Decision{Mode: ModeFallback}
	}
	lower := make([]string, len(tokens))
	for i, t := range tokens {
		lower[i] = strings.ToLower(t)
	}

	var signals []string

	docForm, _, hasDoc := firstMatch(lower, r.docForms)
	if hasDoc {
		signals = append(signals, "doc_pattern:"+strings.Join(docForm.words, " "))
	}
	connForm, connIdx, hasConn := firstMatch(lower, r.connForms)
	if hasConn {
		signals = append(signals, "connection:"+connForm.canon)
	}
	verbForm, verbIdx, hasVerb := firstMatch(lower, r.actionForms)
	if hasVerb {
		signals = append(signals, "action_verb:"+verbForm.canon)
	}
	entForm, _, hasEnt := firstMatch(lower, r.entityForms)
	if hasEnt {
		signals = append(signals, "entity:"+entForm.canon)
	}

	// Connection actions need no entity. "How do I connect?" still reads as
	// a documentation question unless the verb opens the message.
	if hasConn && (!hasDoc || connIdx == 0) {
		return Decision{
			Mode:    ModeAction,
			Action:  connForm.canon,
			Verb:    connForm.canon,
			Params:  r.extractParams(message, tokens, lower),
			Signals: signals,
		}
	}

	actionSignal := hasVerb && hasEnt
	if actionSignal && hasDoc && verbIdx != 0 {
		return Decision{Mode: ModeRAG, Signals: signals}
	}
	if actionSignal {
		return Decision{
			Mode:    ModeAction,
			Action:  deriveAction(verbForm.canon, entForm.entity),
			Verb:    verbForm.canon,
			Entity:  entForm.canon,
			Params:  r.extractParams(message, tokens, lower),
			Signals: signals,
		}
	}
	if hasDoc {
		return Decision{Mode: ModeRAG, Signals: signals}
	}

	if prev != nil && prev.Mode == ModeAction && isFollowUp(lower) {
		return r.inherit(prev, message, tokens, lower, verbForm, hasVerb, entForm, hasEnt, append(signals, "follow_up"))
	}

	return Decision{Mode: ModeFallback, Signals: signals}
}

// inherit continues the previous action decision, swapping in whichever of
// verb and entity the follow-up message supplies.
func (r *Router) inherit(prev *Decision, message string, tokens, lower []string, verbForm surfaceForm, hasVerb bool, entForm surfaceForm, hasEnt bool, signals []string) Decision {
	verb := prev.Verb
	if hasVerb {
		verb = verbForm.canon
	}

	fresh := r.extractParams(message, tokens, lower)

	// An entity noun that captured a positional value ("in space TEST") is a
	// parameter reference, not a subject change; only a bare entity mention
	// ("what about spaces") switches the action's subject.
	entityName := prev.Entity
	var entity *Entity
	if hasEnt {
		if _, isParam := fresh[entForm.canon]; !isParam {
			entityName = entForm.canon
			entity = entForm.entity
		}
	}
	if entity == nil && entityName != "" {
		entity = r.entityByName[entityName]
	}

	action := prev.Action
	if entity != nil && verb != "" {
		action = deriveAction(verb, entity)
	}

	params := make(map[string]string, len(prev.Params))
	for k, v := range prev.Params {
		params[k] = v
	}
	for k, v := range fresh {
		params[k] = v
	}

	return Decision{
		Mode:    ModeAction,
		Action:  action,
		Verb:    verb,
		Entity:  entityName,
		Params:  params,
		Signals: signals,
	}
}

// deriveAction builds the canonical action name from a verb and an entity:
// "list" pairs with the plural ("list_samples"), everything else with the
// singular ("get_sample").
func deriveAction(verb string, e *Entity) string {
	if verb == "list" {
		return "list_" + e.Plural
	}
	return verb + "_" + e.Name
}

// isFollowUp reports whether a message reads as a continuation of the
// previous exchange rather than a standalone request.
func isFollowUp(lower []string) bool {
	if len(lower) <= 3 {
		return true
	}
	if lower[0] == "and" {
		return true
	}
	head := lower[0] + " " + lower[1]
	return head == "what about" || head == "how about"
}

// tokenize splits a message on whitespace and trims surrounding punctuation
// while keeping identifier characters, so openBIS codes like /LAB/S1
// survive intact. Interior punctuation is never trimmed, which keeps names
// like "file.txt" whole. Original case is preserved; callers lowercase a
// copy for matching.
func tokenize(message string) []string {
	fields := strings.Fields(message)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) && !strings.ContainsRune("/_-", r)
		})
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// splitForm splits a rule-table surface form into its words.
func splitForm(form string) []string {
	return strings.Fields(form)
}

// matchFormAt reports whether the form's words appear as consecutive tokens
// starting at position i.
func matchFormAt(tokens []string, i int, words []string) bool {
	if i+len(words) > len(tokens) {
		return false
	}
	for j, w := range words {
		if tokens[i+j] != w {
			return false
		}
	}
	return true
}

// firstMatch scans left to right and returns the leftmost matching form;
// forms are pre-sorted longest first, so at any position the longest phrase
// wins.
func firstMatch(tokens []string, forms []surfaceForm) (surfaceForm, int, bool) {
	for i := range tokens {
		for _, f := range forms {
			if matchFormAt(tokens, i, f.words) {
				return f, i, true
			}
		}
	}
	return surfaceForm{}, 0, false
}

// kvPattern matches explicit key=value parameters, with optional single or
// double quotes around the value.
var kvPattern = regexp.MustCompile(`([A-Za-z][A-Za-z0-9_]*)=("[^"]*"|'[^']*'|\S+)`)

// extractParams pulls action parameters out of a message. Explicit
// key=value pairs win; positional values ("in space LAB") are captured when
// a singular entity noun is followed by a token that looks like an openBIS
// identifier. Values keep their original case.
func (r *Router) extractParams(message string, tokens, lower []string) map[string]string {
	params := make(map[string]string)

	for _, m := range kvPattern.FindAllStringSubmatch(message, -1) {
		key := strings.ToLower(m[1])
		val := m[2]
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') {
			val = val[1 : len(val)-1]
		} else {
			val = strings.TrimRight(val, ",.;!?")
		}
		params[key] = val
	}

	for i := 0; i < len(lower); i++ {
		for _, f := range r.entityForms {
			if f.plural || !matchFormAt(lower, i, f.words) {
				continue
			}
			next := i + len(f.words)
			if next < len(tokens) {
				if _, taken := params[f.canon]; !taken && r.looksLikeIdentifier(tokens[next], lower[next]) {
					params[f.canon] = tokens[next]
				}
			}
			i = next - 1
			break
		}
	}

	return params
}

// looksLikeIdentifier reports whether a token plausibly names an openBIS
// object: codes carry uppercase letters, digits, or path characters, and
// are never words from the rule table.
func (r *Router) looksLikeIdentifier(tok, lower string) bool {
	if strings.Contains(tok, "=") || r.knownWords[lower] {
		return false
	}
	for _, ru := range tok {
		if unicode.IsUpper(ru) || unicode.IsDigit(ru) || strings.ContainsRune("/_.-", ru) {
			return true
		}
	}
	return false
}
