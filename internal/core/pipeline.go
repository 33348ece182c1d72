package core

import (
	"fmt"
	"sort"
)

// Pipeline represents the entire CI pipeline: a set of jobs keyed by name.
// It is not mutated after load and is safe for concurrent reads.
type Pipeline struct {
	Version string         `yaml:"version" toml:"version"`
	Jobs    map[string]Job `yaml:"jobs" toml:"jobs"`
}

// NewPipeline builds a pipeline from a list of jobs. Job names must be unique and non-empty.
func NewPipeline(version string, jobs ...Job) (*Pipeline, error) {
	p := &Pipeline{Version: version, Jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		if j.Name == "" {
			return nil, invalidf("job name is required")
		}
		if _, exists := p.Jobs[j.Name]; exists {
			return nil, invalidf("duplicate job name: %q", j.Name)
		}
		p.Jobs[j.Name] = j
	}
	return p, nil
}

// Len returns the number of jobs.
func (p *Pipeline) Len() int { return len(p.Jobs) }

// Job returns a job by name.
func (p *Pipeline) Job(name string) (Job, bool) {
	j, ok := p.Jobs[name]
	return j, ok
}

// Names returns the job names in sorted order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.Jobs))
	for name := range p.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the dependency structure eagerly: unknown dependency names,
// self-dependencies and cycles. Run does not call it; unresolved
// dependencies there show up as a stall instead.
func (p *Pipeline) Validate() error {
	for _, name := range p.Names() {
		for _, dep := range p.Jobs[name].DependsOn {
			if dep == name {
				return cycleError([]string{name, name})
			}
			if _, ok := p.Jobs[dep]; !ok {
				return &PipelineError{Kind: ErrUnknownDependency, Msg: fmt.Sprintf("job %q depends on %q", name, dep)}
			}
		}
	}
	return p.detectCycles()
}

// detectCycles walks dependencies depth-first and reports the first cycle found.
func (p *Pipeline) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		visiting[name] = true
		stack = append(stack, name)
		deps := append([]string(nil), p.Jobs[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if visiting[dep] {
				start := len(stack) - 1
				for start > 0 && stack[start] != dep {
					start--
				}
				path := append(append([]string(nil), stack[start:]...), dep)
				return cycleError(path)
			}
			if _, ok := p.Jobs[dep]; !ok || visited[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range p.Names() {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
