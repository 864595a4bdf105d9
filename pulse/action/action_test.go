package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Scrape ")
	require.NoError(t, err)
	assert.Equal(t, KindScrape, k)

	_, err = ParseKind("publish")
	assert.Error(t, err)
}

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"scrape without config", Action{Kind: KindScrape}, false},
		{"scrape with sources", Action{Kind: KindScrape, Config: json.RawMessage(`{"source_ids":["rss-1"],"max_items":20}`)}, false},
		{"scrape unknown field", Action{Kind: KindScrape, Config: json.RawMessage(`{"sources":["rss-1"]}`)}, true},
		{"scrape negative max", Action{Kind: KindScrape, Config: json.RawMessage(`{"max_items":-1}`)}, true},
		{"generate null config", Action{Kind: KindGenerate, Config: json.RawMessage(`null`)}, false},
		{"generate template", Action{Kind: KindGenerate, Config: json.RawMessage(`{"template_id":"weekly"}`)}, false},
		{"send requires audience", Action{Kind: KindSend, Config: json.RawMessage(`{"dry_run":true}`)}, true},
		{"send ok", Action{Kind: KindSend, Config: json.RawMessage(`{"audience_id":"all","subject_template":"Weekly {{date}}"}`)}, false},
		{"unknown kind", Action{Kind: "publish"}, true},
		{"malformed json", Action{Kind: KindGenerate, Config: json.RawMessage(`{`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	assert.Error(t, ValidateAll(nil))

	err := ValidateAll([]Action{{Kind: KindScrape}, {Kind: KindSend}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actions[1]")

	assert.NoError(t, ValidateAll([]Action{{Kind: KindScrape}, {Kind: KindGenerate}}))
}

func TestNewAndDecode(t *testing.T) {
	a, err := New(KindSend, SendConfig{AudienceID: "vip", DryRun: true})
	require.NoError(t, err)

	decoded, err := a.Decode()
	require.NoError(t, err)
	assert.Equal(t, SendConfig{AudienceID: "vip", DryRun: true}, decoded)

	_, err = New(KindSend, SendConfig{})
	assert.Error(t, err)
}

func TestActionJSON(t *testing.T) {
	var a Action
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"generate","config":{"max_articles":5}}`), &a))
	assert.Equal(t, KindGenerate, a.Kind)
	require.NoError(t, a.Validate())

	cfg, err := a.Decode()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.(GenerateConfig).MaxArticles)
}
