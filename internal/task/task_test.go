package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshalPriority(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"integer priority", `{"task_id":"t1","task_type":"email","priority":9}`, 9},
		{"absent priority", `{"task_id":"t1","task_type":"email"}`, DefaultPriority},
		{"null priority", `{"task_id":"t1","task_type":"email","priority":null}`, DefaultPriority},
		{"string priority", `{"task_id":"t1","task_type":"email","priority":"high"}`, DefaultPriority},
		{"float priority", `{"task_id":"t1","task_type":"email","priority":2.5}`, DefaultPriority},
		{"bool priority", `{"task_id":"t1","task_type":"email","priority":true}`, DefaultPriority},
		{"negative priority", `{"task_id":"t1","task_type":"email","priority":-3}`, DefaultPriority},
		{"zero priority", `{"task_id":"t1","task_type":"email","priority":0}`, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tc.body), &msg))
			assert.Equal(t, "t1", msg.TaskID)
			assert.Equal(t, tc.want, msg.PriorityOrDefault())
		})
	}
}

func TestMessageUnmarshalMalformedBody(t *testing.T) {
	var msg Message
	assert.Error(t, json.Unmarshal([]byte("not json"), &msg))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}
