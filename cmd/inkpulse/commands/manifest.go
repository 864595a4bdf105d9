package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/pulse/schedule"
)

// Manifest declares the jobs of one workspace, for `jobs apply`.
//
//	workspace_id = "acme"
//
//	[[jobs]]
//	name = "Morning digest"
//	schedule = "daily"
//	at = "08:00"
//	timezone = "America/New_York"
//
//	  [[jobs.actions]]
//	  kind = "send"
//	  config = { audience_id = "all" }
type Manifest struct {
	WorkspaceID string        `toml:"workspace_id" yaml:"workspace_id"`
	Jobs        []ManifestJob `toml:"jobs" yaml:"jobs"`
}

// ManifestJob is one declared job. Jobs are matched to stored ones by ID, or by name.
type ManifestJob struct {
	ID          string           `toml:"id" yaml:"id"`
	Name        string           `toml:"name" yaml:"name"`
	Description string           `toml:"description" yaml:"description"`
	Schedule    string           `toml:"schedule" yaml:"schedule"`
	At          string           `toml:"at" yaml:"at"`
	Days        []string         `toml:"days" yaml:"days"`
	Timezone    string           `toml:"timezone" yaml:"timezone"`
	Paused      bool             `toml:"paused" yaml:"paused"`
	Actions     []ManifestAction `toml:"actions" yaml:"actions"`
}

// ManifestAction is a pipeline step with a free-form config table
type ManifestAction struct {
	Kind   string                 `toml:"kind" yaml:"kind"`
	Config map[string]interface{} `toml:"config" yaml:"config"`
}

// LoadManifest reads a .toml, .yaml or .yml manifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}
	return ParseManifest(data, filepath.Ext(path))
}

// ParseManifest decodes a manifest; ext selects the format (".toml", ".yaml", ".yml")
func ParseManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, errors.Wrap(err, "invalid TOML manifest")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Newf("unknown manifest key %q", undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "invalid YAML manifest")
		}
	default:
		return nil, errors.Newf("unsupported manifest format %q (use .toml, .yaml or .yml)", ext)
	}
	if strings.TrimSpace(m.WorkspaceID) == "" {
		return nil, errors.New("manifest: workspace_id is required")
	}
	return &m, nil
}

// JobSpec converts a declared job into a validated-on-create job spec
func (j ManifestJob) JobSpec() (schedule.JobSpec, error) {
	spec := schedule.JobSpec{
		Name:        j.Name,
		Description: j.Description,
		Spec: schedule.Spec{
			Type:     schedule.ScheduleType(strings.ToLower(strings.TrimSpace(j.Schedule))),
			Timezone: j.Timezone,
		},
	}
	if spec.Spec.Type == "" {
		spec.Spec.Type = schedule.ScheduleDaily
	}

	at, err := schedule.ParseTimeOfDay(j.At)
	if err != nil {
		return schedule.JobSpec{}, err
	}
	spec.Spec.Time = at

	if len(j.Days) > 0 {
		days, err := schedule.ParseWeekdays(j.Days)
		if err != nil {
			return schedule.JobSpec{}, err
		}
		spec.Spec.Days = days
	}

	for i, a := range j.Actions {
		kind, err := action.ParseKind(a.Kind)
		if err != nil {
			return schedule.JobSpec{}, errors.Wrapf(err, "actions[%d]", i)
		}
		step := action.Action{Kind: kind}
		if len(a.Config) > 0 {
			raw, err := json.Marshal(a.Config)
			if err != nil {
				return schedule.JobSpec{}, errors.Wrapf(err, "actions[%d]: config", i)
			}
			step.Config = raw
		}
		spec.Actions = append(spec.Actions, step)
	}
	return spec, nil
}
