package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigError is a fatal configuration problem, reported before any
// phase starts.
type ConfigError struct {
	// Path locates the offending element ("phases.build.linux[2]").
	Path string
	// Msg describes the problem.
	Msg string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Path, e.Msg)
}

func configErrorf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// rawConfig mirrors the document's top level. Phases and modality steps
// need order- and strictness-aware decoding, so they stay as nodes.
type rawConfig struct {
	Version        VersionConfig `yaml:"version"`
	Phases         yaml.Node     `yaml:"phases"`
	PostSubmit     []yaml.Node   `yaml:"post-submit"`
	CILocks        []LockSpec    `yaml:"ci-locks"`
	Volumes        []VolumeSpec  `yaml:"volumes"`
	PassThroughEnv []string      `yaml:"pass-through-environment-vars"`
	Modality       yaml.Node     `yaml:"modality-source-preparation"`
}

// Load reads a YAML config file and produces the validated Config model.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErrorf("", "config file not found: %s", path)
		}
		return nil, configErrorf("", "cannot read config file %q: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML config document.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, configErrorf("", "invalid YAML: %v", err)
	}

	cfg := &Config{
		Version:        raw.Version,
		CILocks:        raw.CILocks,
		Volumes:        raw.Volumes,
		PassThroughEnv: raw.PassThroughEnv,
	}
	if cfg.Version.TagPrefix == "" {
		cfg.Version.TagPrefix = "v"
	}
	if cfg.Version.Format == "" {
		cfg.Version.Format = "semver"
	}

	phases, err := decodePhases(&raw.Phases)
	if err != nil {
		return nil, err
	}
	cfg.Phases = phases

	for i := range raw.PostSubmit {
		step, err := decodeStep(&raw.PostSubmit[i], fmt.Sprintf("post-submit[%d]", i))
		if err != nil {
			return nil, err
		}
		cfg.PostSubmit = append(cfg.PostSubmit, step)
	}

	modality, err := decodeModality(&raw.Modality)
	if err != nil {
		return nil, err
	}
	cfg.Modality = modality

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodePhases walks the phases mapping node directly so declaration
// order survives (a Go map would lose it) and duplicate phase names are
// caught rather than silently collapsed.
func decodePhases(node *yaml.Node) ([]Phase, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf("phases", "must be a mapping of phase name to variants")
	}

	seen := map[string]bool{}
	var phases []Phase
	for i := 0; i < len(node.Content); i += 2 {
		nameNode, valNode := node.Content[i], node.Content[i+1]
		name := nameNode.Value
		if seen[name] {
			return nil, configErrorf("phases", "duplicate phase name %q", name)
		}
		seen[name] = true

		variants, err := decodeVariants(valNode, "phases."+name)
		if err != nil {
			return nil, err
		}
		phases = append(phases, Phase{Name: name, Variants: variants})
	}
	return phases, nil
}

func decodeVariants(node *yaml.Node, path string) ([]Variant, error) {
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf(path, "must be a mapping of variant name to steps")
	}

	seen := map[string]bool{}
	var variants []Variant
	for i := 0; i < len(node.Content); i += 2 {
		nameNode, valNode := node.Content[i], node.Content[i+1]
		name := nameNode.Value
		if seen[name] {
			return nil, configErrorf(path, "duplicate variant name %q", name)
		}
		seen[name] = true

		if valNode.Kind != yaml.SequenceNode {
			return nil, configErrorf(path+"."+name, "must be a sequence of steps")
		}
		var steps []Step
		for j := range valNode.Content {
			step, err := decodeStep(valNode.Content[j], fmt.Sprintf("%s.%s[%d]", path, name, j))
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		variants = append(variants, Variant{Name: name, Steps: steps})
	}
	return variants, nil
}

// stepKeys is the closed set of step descriptor fields. Anything else is
// rejected at load time rather than deferred into execution.
var stepKeys = map[string]bool{
	"description":                 true,
	"sh":                          true,
	"with-credentials":            true,
	"volumes":                     true,
	"image":                       true,
	"timeout":                     true,
	"run-on-change":               true,
	"foreach":                     true,
	"archive":                     true,
	"junit":                       true,
	"node-label":                  true,
	"wait-on-full-previous-phase": true,
}

func decodeStep(node *yaml.Node, path string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return Step{}, configErrorf(path, "step must be a mapping")
	}
	for i := 0; i < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !stepKeys[key] {
			return Step{}, configErrorf(path, "unknown step key %q", key)
		}
	}

	var step Step
	if err := node.Decode(&step); err != nil {
		return Step{}, configErrorf(path, "invalid step: %v", err)
	}
	return step, nil
}

func decodeModality(node *yaml.Node) (map[string][]Step, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, configErrorf("modality-source-preparation", "must be a mapping")
	}

	out := map[string][]Step{}
	for i := 0; i < len(node.Content); i += 2 {
		name, valNode := node.Content[i].Value, node.Content[i+1]
		if valNode.Kind != yaml.SequenceNode {
			return nil, configErrorf("modality-source-preparation."+name, "must be a sequence of steps")
		}
		var steps []Step
		for j := range valNode.Content {
			step, err := decodeStep(valNode.Content[j], fmt.Sprintf("modality-source-preparation.%s[%d]", name, j))
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		out[name] = steps
	}
	return out, nil
}
