package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format names a pipeline definition syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// DefaultPipelineFile is read when no pipeline path is given.
const DefaultPipelineFile = "pipeline.toml"

// ParseFormat maps a format name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "toml", "":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("unsupported pipeline format %q", s)
	}
}

// hclPipeline is the HCL shape: one labelled block per job.
//
//	version = "1"
//	job "build" {
//	  steps      = ["go build ./..."]
//	  depends_on = []
//	}
type hclPipeline struct {
	Version string   `hcl:"version,optional"`
	Jobs    []hclJob `hcl:"job,block"`
}

type hclJob struct {
	Name      string   `hcl:"name,label"`
	Steps     []string `hcl:"steps"`
	DependsOn []string `hcl:"depends_on,optional"`
}

// ParsePipeline parses pipeline content in the given format.
func ParsePipeline(data []byte, format Format) (*Pipeline, error) {
	var pipeline Pipeline
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &pipeline); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &pipeline); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatHCL:
		var doc hclPipeline
		if err := hclsimple.Decode("pipeline.hcl", data, nil, &doc); err != nil {
			return nil, fmt.Errorf("parse hcl: %w", err)
		}
		pipeline.Version = doc.Version
		pipeline.Jobs = make(map[string]Job, len(doc.Jobs))
		for _, j := range doc.Jobs {
			if _, exists := pipeline.Jobs[j.Name]; exists {
				return nil, invalidf("duplicate job name: %q", j.Name)
			}
			pipeline.Jobs[j.Name] = Job{Steps: j.Steps, DependsOn: j.DependsOn}
		}
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q", format)
	}

	if err := pipeline.normalize(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline file, picking the format from its extension.
func LoadPipeline(path string) (*Pipeline, error) {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pipeline, err := ParsePipeline(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pipeline, nil
}

// normalize fills job names from map keys and rejects shapes the scheduler cannot run.
func (p *Pipeline) normalize() error {
	if len(p.Jobs) == 0 {
		return invalidf("no jobs defined")
	}
	for name, j := range p.Jobs {
		if name == "" {
			return invalidf("job name is required")
		}
		if len(j.Steps) == 0 {
			return invalidf("job %q has no steps", name)
		}
		for i, step := range j.Steps {
			if strings.TrimSpace(step) == "" {
				return invalidf("job %q step %d is empty", name, i)
			}
		}
		j.Name = name
		p.Jobs[name] = j
	}
	return nil
}
