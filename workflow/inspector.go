package workflow

import (
	"encoding/json"
	"fmt"

	"responder/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format identifies how a submitted workflow document is encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps the wire value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown workflow format %q (expected json or yaml)", s)
	}
}

const schemaCacheSize = 256

// Inspector validates workflow documents before they are stored or executed.
// It holds a cache of compiled response schema validators keyed by catalog
// version so hot paths do not recompile schemas.
type Inspector struct {
	catalog     *Catalog
	allowCycles bool
	logger      *zap.SugaredLogger
	schemaCache *lru.Cache[string, *gojsonschema.Schema]
}

// NewInspector creates an inspector bound to the given catalog.
func NewInspector(catalog *Catalog, allowCycles bool, logger *zap.SugaredLogger) (*Inspector, error) {
	cache, err := lru.New[string, *gojsonschema.Schema](schemaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &Inspector{
		catalog:     catalog,
		allowCycles: allowCycles,
		logger:      logger,
		schemaCache: cache,
	}, nil
}

// Parse decodes a document into a workflow without validating it.
func (i *Inspector) Parse(document []byte, format Format) (*core.Workflow, error) {
	var wf core.Workflow
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(document, &wf); err != nil {
			return nil, fmt.Errorf("invalid JSON workflow document: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(document, &wf); err != nil {
			return nil, fmt.Errorf("invalid YAML workflow document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown workflow format %q", format)
	}
	return &wf, nil
}

// Inspect parses and validates a document. A nil error and empty finding list
// means the document is safe to store and execute. Parse failures are
// reported as findings, not as errors; the error return covers internal
// faults only.
func (i *Inspector) Inspect(document []byte, format Format) ([]core.InspectorError, error) {
	wf, err := i.Parse(document, format)
	if err != nil {
		return []core.InspectorError{{
			Path:     "$",
			Message:  err.Error(),
			Severity: core.SeverityError,
		}}, nil
	}
	return i.InspectWorkflow(wf), nil
}

// InspectWorkflow validates an already-parsed workflow.
func (i *Inspector) InspectWorkflow(wf *core.Workflow) []core.InspectorError {
	findings := []core.InspectorError{}

	if len(wf.Steps) == 0 {
		findings = append(findings, core.InspectorError{
			Path:     "$.steps",
			Message:  "workflow must declare at least one step",
			Severity: core.SeverityError,
		})
		return findings
	}

	seen := make(map[string]bool, len(wf.Steps))
	for idx, step := range wf.Steps {
		path := fmt.Sprintf("$.steps[%d]", idx)
		findings = append(findings, i.inspectStep(wf, &step, path, seen)...)
		if step.ID != "" {
			seen[step.ID] = true
		}
	}

	if !i.allowCycles {
		if _, err := TopoOrder(wf.Steps); err != nil {
			findings = append(findings, core.InspectorError{
				Path:     "$.steps",
				Message:  err.Error(),
				Severity: core.SeverityError,
			})
		}
	}

	return findings
}

func (i *Inspector) inspectStep(wf *core.Workflow, step *core.Step, path string, seen map[string]bool) []core.InspectorError {
	var findings []core.InspectorError

	fail := func(field, message string) {
		findings = append(findings, core.InspectorError{
			Path:     path + "." + field,
			Message:  message,
			Severity: core.SeverityError,
		})
	}

	if step.ID == "" {
		fail("id", "step id is required")
	} else if seen[step.ID] {
		fail("id", fmt.Sprintf("duplicate step id %q", step.ID))
	}

	if !step.Kind.IsValid() {
		fail("kind", fmt.Sprintf("unknown step kind %q", step.Kind))
		return findings
	}

	switch step.Kind {
	case core.StepKindAction:
		if step.ActionType == "" {
			fail("action_type", "action steps must declare an action type")
		} else if _, ok := i.catalog.Get(step.ActionType); !ok {
			fail("action_type", fmt.Sprintf("action type %q is not in the catalog", step.ActionType))
		}
	case core.StepKindInquiry:
		if step.Prompt == "" {
			fail("prompt", "inquiry steps must declare a prompt")
		}
		if len(step.ResponseSchema) == 0 {
			fail("response_schema", "inquiry steps must declare a response schema")
		} else if _, err := i.CompileSchema(step.ResponseSchema); err != nil {
			fail("response_schema", fmt.Sprintf("response schema does not compile: %v", err))
		}
		if step.FallbackStep != "" && wf.StepByID(step.FallbackStep) == nil {
			fail("fallback_step", fmt.Sprintf("fallback step %q does not exist", step.FallbackStep))
		}
	case core.StepKindParallel:
		if len(step.Branches) == 0 {
			fail("branches", "parallel steps must name at least one branch")
		}
		for _, branch := range step.Branches {
			if wf.StepByID(branch) == nil {
				fail("branches", fmt.Sprintf("branch step %q does not exist", branch))
			}
		}
	}

	for _, dep := range step.DependsOn {
		if wf.StepByID(dep) == nil {
			fail("depends_on", fmt.Sprintf("dependency %q does not exist", dep))
		}
		if dep == step.ID {
			fail("depends_on", "step cannot depend on itself")
		}
	}

	return findings
}

// CompileSchema compiles a JSON schema document, caching the result. The
// cache key includes the catalog version so a registry reload drops stale
// validators.
func (i *Inspector) CompileSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	key := fmt.Sprintf("%d:%s", i.catalog.Version(), string(raw))
	if cached, ok := i.schemaCache.Get(key); ok {
		return cached, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	i.schemaCache.Add(key, schema)
	return schema, nil
}

// TopoOrder returns the steps in dependency order. Steps with no ordering
// constraint between them keep their declaration order. An error is returned
// if the dependency graph contains a cycle.
func TopoOrder(steps []core.Step) ([]core.Step, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make(map[int][]int, len(steps))
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	// Kahn's algorithm with a declaration-ordered ready list.
	var ready []int
	for i := range steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]core.Step, 0, len(steps))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, steps[next])

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				// Insert preserving declaration order among ready steps.
				pos := len(ready)
				for k, r := range ready {
					if dep < r {
						pos = k
						break
					}
				}
				ready = append(ready[:pos], append([]int{dep}, ready[pos:]...)...)
			}
		}
	}

	if len(ordered) != len(steps) {
		return nil, fmt.Errorf("workflow step graph contains a cycle")
	}
	return ordered, nil
}
