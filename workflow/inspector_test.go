package workflow

import (
	"encoding/json"
	"testing"

	"responder/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestInspector(t *testing.T, allowCycles bool) *Inspector {
	t.Helper()
	catalog := NewCatalog(BuiltinDescriptors())
	insp, err := NewInspector(catalog, allowCycles, zap.NewNop().Sugar())
	require.NoError(t, err)
	return insp
}

func TestInspect_ValidJSONDocument(t *testing.T) {
	insp := newTestInspector(t, false)

	doc := []byte(`{
		"name": "containment",
		"steps": [
			{"id": "lookup", "kind": "action", "action_type": "enrich_indicator", "parameters": {"indicator": "1.2.3.4"}},
			{"id": "block", "kind": "action", "action_type": "block_ip", "depends_on": ["lookup"]}
		]
	}`)

	findings, err := insp.Inspect(doc, FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestInspect_ValidYAMLDocument(t *testing.T) {
	insp := newTestInspector(t, false)

	doc := []byte(`
name: notify
steps:
  - id: alert_team
    kind: action
    action_type: send_notification
    parameters:
      channel: soc
      message: incident opened
`)

	findings, err := insp.Inspect(doc, FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestInspect_MalformedDocument(t *testing.T) {
	insp := newTestInspector(t, false)

	findings, err := insp.Inspect([]byte(`{"steps": [`), FormatJSON)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "$", findings[0].Path)
	assert.Equal(t, core.SeverityError, findings[0].Severity)
}

func TestInspect_UnknownActionType(t *testing.T) {
	insp := newTestInspector(t, false)

	doc := []byte(`{"steps": [{"id": "s1", "kind": "action", "action_type": "launch_missiles"}]}`)
	findings, err := insp.Inspect(doc, FormatJSON)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "launch_missiles")
}

func TestInspect_DuplicateStepID(t *testing.T) {
	insp := newTestInspector(t, false)

	doc := []byte(`{"steps": [
		{"id": "s1", "kind": "action", "action_type": "block_ip"},
		{"id": "s1", "kind": "action", "action_type": "block_ip"}
	]}`)
	findings, err := insp.Inspect(doc, FormatJSON)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "duplicate")
}

func TestInspect_UnresolvedDependency(t *testing.T) {
	insp := newTestInspector(t, false)

	doc := []byte(`{"steps": [{"id": "s1", "kind": "action", "action_type": "block_ip", "depends_on": ["ghost"]}]}`)
	findings, err := insp.Inspect(doc, FormatJSON)
	require.NoError(t, err)
	// One finding for the bad reference, one from the order check.
	assert.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Message, "ghost")
}

func TestInspect_CycleRejected(t *testing.T) {
	doc := []byte(`{"steps": [
		{"id": "a", "kind": "action", "action_type": "block_ip", "depends_on": ["b"]},
		{"id": "b", "kind": "action", "action_type": "block_ip", "depends_on": ["a"]}
	]}`)

	t.Run("cycles forbidden by default", func(t *testing.T) {
		insp := newTestInspector(t, false)
		findings, err := insp.Inspect(doc, FormatJSON)
		require.NoError(t, err)
		require.NotEmpty(t, findings)
		assert.Contains(t, findings[len(findings)-1].Message, "cycle")
	})

	t.Run("cycles permitted when configured", func(t *testing.T) {
		insp := newTestInspector(t, true)
		findings, err := insp.Inspect(doc, FormatJSON)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestInspect_InquiryStepRequirements(t *testing.T) {
	insp := newTestInspector(t, false)

	t.Run("missing prompt and schema", func(t *testing.T) {
		doc := []byte(`{"steps": [{"id": "ask", "kind": "inquiry"}]}`)
		findings, err := insp.Inspect(doc, FormatJSON)
		require.NoError(t, err)
		assert.Len(t, findings, 2)
	})

	t.Run("invalid response schema", func(t *testing.T) {
		doc := []byte(`{"steps": [{"id": "ask", "kind": "inquiry", "prompt": "approve?", "response_schema": {"type": 42}}]}`)
		findings, err := insp.Inspect(doc, FormatJSON)
		require.NoError(t, err)
		require.Len(t, findings, 1)
		assert.Contains(t, findings[0].Message, "compile")
	})

	t.Run("valid inquiry step", func(t *testing.T) {
		doc := []byte(`{"steps": [{"id": "ask", "kind": "inquiry", "prompt": "approve?",
			"response_schema": {"type": "object", "required": ["approved"], "properties": {"approved": {"type": "boolean"}}}}]}`)
		findings, err := insp.Inspect(doc, FormatJSON)
		require.NoError(t, err)
		assert.Empty(t, findings)
	})
}

func TestTopoOrder_DeclarationOrderTieBreak(t *testing.T) {
	steps := []core.Step{
		{ID: "c", Kind: core.StepKindAction, ActionType: "block_ip", DependsOn: []string{"a"}},
		{ID: "a", Kind: core.StepKindAction, ActionType: "block_ip"},
		{ID: "b", Kind: core.StepKindAction, ActionType: "block_ip"},
	}

	ordered, err := TopoOrder(steps)
	require.NoError(t, err)

	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	// c waits for a; once a completes, c and b are both ready and c was
	// declared first.
	assert.Equal(t, []string{"a", "c", "b"}, ids)
}

func TestCatalog_ListFilterAndReload(t *testing.T) {
	catalog := NewCatalog(BuiltinDescriptors())

	all := catalog.List("")
	assert.Len(t, all, len(BuiltinDescriptors()))

	incident := catalog.List("incident")
	for _, d := range incident {
		assert.Equal(t, "incident", d.PayloadType)
	}
	assert.NotEmpty(t, incident)

	v := catalog.Version()
	catalog.Reload([]core.ActionDescriptor{{Type: "only_one", PayloadType: "generic", InputSchema: json.RawMessage(`{}`)}})
	assert.Greater(t, catalog.Version(), v)
	assert.Len(t, catalog.List(""), 1)

	_, ok := catalog.Get("block_ip")
	assert.False(t, ok)
}
