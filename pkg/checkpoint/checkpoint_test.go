package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arx88/taskforge/pkg/task"
)

func TestCreate_DeepCopiesVariables(t *testing.T) {
	m := NewManager()

	nested := map[string]interface{}{"inner": "original"}
	vars := map[string]interface{}{
		"top":    "v1",
		"nested": nested,
		"list":   []interface{}{1, 2, 3},
	}

	cp := m.Create("after step 1", "step-1", map[string]task.StepState{"step-1": task.StepSucceeded}, vars)

	// Mutate the caller's maps/slices after the checkpoint was taken.
	vars["top"] = "mutated"
	nested["inner"] = "mutated"

	assert.Equal(t, "v1", cp.Variables["top"])
	innerMap := cp.Variables["nested"].(map[string]interface{})
	assert.Equal(t, "original", innerMap["inner"])
}

func TestCreate_AssignsMonotonicIDs(t *testing.T) {
	m := NewManager()

	cp1 := m.Create("first", "step-1", nil, nil)
	cp2 := m.Create("second", "step-2", nil, nil)

	assert.NotEqual(t, cp1.CheckpointID, cp2.CheckpointID)
	assert.Len(t, m.List(), 2)
}

func TestGet_FindsByID(t *testing.T) {
	m := NewManager()
	cp := m.Create("first", "step-1", nil, nil)

	got, ok := m.Get(cp.CheckpointID)
	require.True(t, ok)
	assert.Equal(t, cp, got)

	_, ok = m.Get("does-not-exist")
	assert.False(t, ok)
}

func TestLatest_ReturnsMostRecentOrNil(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Latest())

	m.Create("first", "step-1", nil, nil)
	second := m.Create("second", "step-2", nil, nil)

	assert.Equal(t, second, m.Latest())
}

func TestCreate_StampsTimestamp(t *testing.T) {
	m := NewManager()
	before := time.Now()
	cp := m.Create("first", "step-1", nil, nil)
	after := time.Now()

	assert.False(t, cp.Timestamp.Before(before))
	assert.False(t, cp.Timestamp.After(after))
}
