package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: one write
setup:
  online: false
flow:
  - op: write
    method: POST
    url: /api/x
    priority: high
    expect:
      queued: true
assertions:
  - type: queue_length
    count: 1
`))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.NotNil(t, s.Setup.Online)
	assert.False(t, *s.Setup.Online)
	require.Len(t, s.Flow, 1)
	assert.Equal(t, OpWrite, s.Flow[0].Op)
	assert.Equal(t, true, s.Flow[0].Expect["queued"])
	assert.Equal(t, 1, s.Assertions[0].Count)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nflow: [{op: sync}]\nassertions: [{type: queue_length}]\n",
			want: "name is required",
		},
		{
			name: "empty flow",
			yaml: "name: n\ndescription: d\nflow: []\nassertions: [{type: queue_length}]\n",
			want: "flow list is required",
		},
		{
			name: "unknown op",
			yaml: "name: n\ndescription: d\nflow: [{op: teleport}]\nassertions: [{type: queue_length}]\n",
			want: `unknown op "teleport"`,
		},
		{
			name: "write without url",
			yaml: "name: n\ndescription: d\nflow: [{op: write, method: POST}]\nassertions: [{type: queue_length}]\n",
			want: "method and url are required",
		},
		{
			name: "bad priority",
			yaml: "name: n\ndescription: d\nflow: [{op: write, method: POST, url: /x, priority: urgent}]\nassertions: [{type: queue_length}]\n",
			want: "flow[0]",
		},
		{
			name: "set_online without value",
			yaml: "name: n\ndescription: d\nflow: [{op: set_online}]\nassertions: [{type: queue_length}]\n",
			want: "online is required",
		},
		{
			name: "bad duration",
			yaml: "name: n\ndescription: d\nflow: [{op: advance, duration: soon}]\nassertions: [{type: queue_length}]\n",
			want: "duration",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nflow: [{op: sync}]\nassertions: [{type: vibes}]\n",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "queue_state without where",
			yaml: "name: n\ndescription: d\nflow: [{op: sync}]\nassertions: [{type: queue_state}]\n",
			want: "where is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nflowz: []\nflow: [{op: sync}]\nassertions: [{type: queue_length}]\n",
			want: "failed to parse YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	assert.NotEmpty(t, paths)
	for _, p := range paths {
		_, err := LoadScenario(p)
		assert.NoError(t, err, p)
	}
}
