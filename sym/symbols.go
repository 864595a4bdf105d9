// Package sym defines canonical symbols for inkpulse segments.
// These symbols are stable across logs, CLI output and the run-event stream.
package sym

// Segment glyphs.
const (
	AM         = "≡" // am: configuration and system settings
	Pulse      = "꩜" // scheduler, dispatch, run pipelines
	PulseOpen  = "✿" // dispatcher startup
	PulseClose = "❀" // dispatcher shutdown
	DB         = "⊔" // database/storage layer
)

// Action glyphs, used in CLI tables for pipeline results.
const (
	Scrape   = "⨳" // pull content from sources
	Generate = "⟶" // draft the newsletter
	Send     = "✦" // deliver to the audience
)

// All returns every glyph keyed by its segment name.
func All() map[string]string {
	return map[string]string{
		"am":          AM,
		"pulse":       Pulse,
		"pulse_open":  PulseOpen,
		"pulse_close": PulseClose,
		"db":          DB,
		"scrape":      Scrape,
		"generate":    Generate,
		"send":        Send,
	}
}
