// Package action defines the closed set of pipeline actions (scrape, generate, send),
// their per-kind configuration and the runner that executes them in order.
package action

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/sym"
)

// Kind identifies one step of a newsletter pipeline
type Kind string

const (
	KindScrape   Kind = "scrape"
	KindGenerate Kind = "generate"
	KindSend     Kind = "send"
)

// Kinds lists every supported kind in pipeline order
var Kinds = []Kind{KindScrape, KindGenerate, KindSend}

// ParseKind parses a kind name case-insensitively
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", errors.WithHint(
			errors.Newf("unknown action kind %q", s),
			"valid kinds: scrape, generate, send")
	}
	return k, nil
}

// Valid reports whether k is one of the supported kinds
func (k Kind) Valid() bool {
	switch k {
	case KindScrape, KindGenerate, KindSend:
		return true
	}
	return false
}

// Symbol returns the glyph used in logs and CLI output
func (k Kind) Symbol() string {
	switch k {
	case KindScrape:
		return sym.Scrape
	case KindGenerate:
		return sym.Generate
	case KindSend:
		return sym.Send
	}
	return "?"
}

// Action is one tagged pipeline step with its kind-specific config payload
type Action struct {
	Kind   Kind            `json:"kind" yaml:"kind" toml:"kind"`
	Config json.RawMessage `json:"config,omitempty" yaml:"-" toml:"-"`
}

// ScrapeConfig selects which content sources to pull from.
// An empty SourceIDs means every source of the workspace.
type ScrapeConfig struct {
	SourceIDs []string `json:"source_ids,omitempty"`
	MaxItems  int      `json:"max_items,omitempty"`
}

// GenerateConfig selects the newsletter template and article budget
type GenerateConfig struct {
	TemplateID  string `json:"template_id,omitempty"`
	MaxArticles int    `json:"max_articles,omitempty"`
}

// SendConfig addresses the generated newsletter
type SendConfig struct {
	AudienceID      string `json:"audience_id"`
	SubjectTemplate string `json:"subject_template,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// New builds an action from a typed config
func New(kind Kind, config any) (Action, error) {
	a := Action{Kind: kind}
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return Action{}, errors.Wrapf(err, "failed to encode %s config", kind)
		}
		a.Config = raw
	}
	return a, a.Validate()
}

// Decode returns the typed config for the action's kind
func (a Action) Decode() (any, error) {
	switch a.Kind {
	case KindScrape:
		var c ScrapeConfig
		err := decodeStrict(a.Config, &c)
		return c, err
	case KindGenerate:
		var c GenerateConfig
		err := decodeStrict(a.Config, &c)
		return c, err
	case KindSend:
		var c SendConfig
		err := decodeStrict(a.Config, &c)
		return c, err
	}
	return nil, errors.Newf("unknown action kind %q", a.Kind)
}

// Validate checks the kind and its config payload
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return errors.Newf("unknown action kind %q", a.Kind)
	}

	switch a.Kind {
	case KindScrape:
		var c ScrapeConfig
		if err := decodeStrict(a.Config, &c); err != nil {
			return errors.Wrap(err, "scrape config")
		}
		if c.MaxItems < 0 {
			return errors.Newf("scrape config: max_items must be >= 0, got %d", c.MaxItems)
		}
		for _, id := range c.SourceIDs {
			if strings.TrimSpace(id) == "" {
				return errors.New("scrape config: source_ids must not contain empty ids")
			}
		}
	case KindGenerate:
		var c GenerateConfig
		if err := decodeStrict(a.Config, &c); err != nil {
			return errors.Wrap(err, "generate config")
		}
		if c.MaxArticles < 0 {
			return errors.Newf("generate config: max_articles must be >= 0, got %d", c.MaxArticles)
		}
	case KindSend:
		var c SendConfig
		if err := decodeStrict(a.Config, &c); err != nil {
			return errors.Wrap(err, "send config")
		}
		if strings.TrimSpace(c.AudienceID) == "" {
			return errors.New("send config: audience_id is required")
		}
	}
	return nil
}

// ValidateAll checks a pipeline: non-empty and every action valid
func ValidateAll(actions []Action) error {
	if len(actions) == 0 {
		return errors.New("at least one action is required")
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return errors.Wrapf(err, "actions[%d]", i)
		}
	}
	return nil
}

// KindsOf returns the kinds of a pipeline in order
func KindsOf(actions []Action) []Kind {
	kinds := make([]Kind, len(actions))
	for i, a := range actions {
		kinds[i] = a.Kind
	}
	return kinds
}

func decodeStrict(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
