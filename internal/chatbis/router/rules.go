package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entity describes one openBIS entity kind the router recognises in user
// messages. Match and MatchPlural hold the surface forms looked up in the
// token stream; multi-word forms such as "sample type" are allowed and are
// always tried before shorter ones.
type Entity struct {
	Name        string   `yaml:"name"`
	Plural      string   `yaml:"plural"`
	Match       []string `yaml:"match"`
	MatchPlural []string `yaml:"match_plural"`
}

// Rules is the declarative decision table the router is built from. The
// default table ships embedded in the binary; deployments can override it
// with a YAML file of the same shape.
type Rules struct {
	// ActionVerbs are the canonical verbs that, combined with an entity,
	// signal an openBIS action ("list", "get", "create", ...).
	ActionVerbs []string `yaml:"action_verbs"`

	// VerbAliases maps alternative surface verbs to a canonical one,
	// e.g. "show" -> "get".
	VerbAliases map[string]string `yaml:"verb_aliases"`

	// ConnectionVerbs maps a connection action name to the surface forms
	// that trigger it even without an entity ("login" -> connect).
	ConnectionVerbs map[string][]string `yaml:"connection_verbs"`

	// DocPatterns are phrases that signal a documentation question
	// ("how to", "what is", ...).
	DocPatterns []string `yaml:"doc_patterns"`

	// Entities lists the recognised openBIS entity kinds.
	Entities []Entity `yaml:"entities"`
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("router: parse rules: %w", err)
	}
	r.normalise()
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

// LoadRules reads a rule table from a YAML file on disk.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("router: read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// normalise lowercases and trims every surface form so matching can assume
// clean lowercase input.
func (r *Rules) normalise() {
	clean := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	cleanAll := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if c := clean(s); c != "" {
				out = append(out, c)
			}
		}
		return out
	}

	r.ActionVerbs = cleanAll(r.ActionVerbs)
	r.DocPatterns = cleanAll(r.DocPatterns)

	aliases := make(map[string]string, len(r.VerbAliases))
	for k, v := range r.VerbAliases {
		if ck, cv := clean(k), clean(v); ck != "" && cv != "" {
			aliases[ck] = cv
		}
	}
	r.VerbAliases = aliases

	conn := make(map[string][]string, len(r.ConnectionVerbs))
	for k, forms := range r.ConnectionVerbs {
		if ck := clean(k); ck != "" {
			conn[ck] = cleanAll(forms)
		}
	}
	r.ConnectionVerbs = conn

	for i := range r.Entities {
		r.Entities[i].Name = clean(r.Entities[i].Name)
		r.Entities[i].Plural = clean(r.Entities[i].Plural)
		r.Entities[i].Match = cleanAll(r.Entities[i].Match)
		r.Entities[i].MatchPlural = cleanAll(r.Entities[i].MatchPlural)
	}
}

// Validate checks the rule table for the mistakes that would otherwise
// surface as silent misrouting: missing verbs, aliases pointing at unknown
// verbs, and entity surface forms claimed by more than one entity.
func (r Rules) Validate() error {
	if len(r.ActionVerbs) == 0 {
		return fmt.Errorf("router: rules define no action verbs")
	}
	if len(r.Entities) == 0 {
		return fmt.Errorf("router: rules define no entities")
	}
	if len(r.DocPatterns) == 0 {
		return fmt.Errorf("router: rules define no doc patterns")
	}

	verbs := make(map[string]bool, len(r.ActionVerbs))
	for _, v := range r.ActionVerbs {
		if verbs[v] {
			return fmt.Errorf("router: duplicate action verb %q", v)
		}
		verbs[v] = true
	}

	for alias, canon := range r.VerbAliases {
		if verbs[alias] {
			return fmt.Errorf("router: alias %q shadows an action verb", alias)
		}
		if !verbs[canon] {
			return fmt.Errorf("router: alias %q points at unknown verb %q", alias, canon)
		}
	}

	for action, forms := range r.ConnectionVerbs {
		if len(forms) == 0 {
			return fmt.Errorf("router: connection action %q has no surface forms", action)
		}
	}

	seenForm := make(map[string]string)
	for _, e := range r.Entities {
		if e.Name == "" {
			return fmt.Errorf("router: entity with empty name")
		}
		if e.Plural == "" {
			return fmt.Errorf("router: entity %q has no plural", e.Name)
		}
		if len(e.Match)+len(e.MatchPlural) == 0 {
			return fmt.Errorf("router: entity %q has no surface forms", e.Name)
		}
		for _, form := range append(append([]string{}, e.Match...), e.MatchPlural...) {
			if owner, dup := seenForm[form]; dup {
				return fmt.Errorf("router: form %q claimed by both %q and %q", form, owner, e.Name)
			}
			seenForm[form] = e.Name
		}
	}

	return nil
}
