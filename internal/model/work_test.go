package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coordd/coord/internal/model"
)

func TestStatusRank_ForwardOrdering(t *testing.T) {
	// The observable sequence of states must be non-decreasing under this
	// ordering, except for heartbeat-timeout reclamation.
	assert.Less(t, model.StatusRank(model.WorkPending), model.StatusRank(model.WorkClaimed))
	assert.Less(t, model.StatusRank(model.WorkClaimed), model.StatusRank(model.WorkInProgress))
	assert.Less(t, model.StatusRank(model.WorkInProgress), model.StatusRank(model.WorkCompleted))
	assert.Equal(t, model.StatusRank(model.WorkCompleted), model.StatusRank(model.WorkFailed))
	assert.Equal(t, -1, model.StatusRank(model.WorkStatus("unknown")))
}

func TestWorkStatus_Terminal(t *testing.T) {
	assert.True(t, model.WorkCompleted.Terminal())
	assert.True(t, model.WorkFailed.Terminal())
	assert.False(t, model.WorkPending.Terminal())
	assert.False(t, model.WorkClaimed.Terminal())
	assert.False(t, model.WorkInProgress.Terminal())
}

func TestValidPriority(t *testing.T) {
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityCritical} {
		assert.True(t, model.ValidPriority(p))
	}
	assert.False(t, model.ValidPriority("urgent"))
	assert.False(t, model.ValidPriority(""))
}

func TestValidateWorkType(t *testing.T) {
	assert.NoError(t, model.ValidateWorkType("build"))
	assert.NoError(t, model.ValidateWorkType("deploy to staging"))
	assert.Error(t, model.ValidateWorkType(""))
	assert.Error(t, model.ValidateWorkType(strings.Repeat("x", 201)))
}

func TestValidateOpenMap(t *testing.T) {
	assert.NoError(t, model.ValidateOpenMap("payload", nil, 0))
	assert.NoError(t, model.ValidateOpenMap("payload", map[string]any{"target": "x"}, 0))

	// Size limit.
	big := map[string]any{"blob": strings.Repeat("a", 64)}
	assert.Error(t, model.ValidateOpenMap("payload", big, 32))

	// Depth limit.
	deep := map[string]any{}
	cur := deep
	for i := 0; i < model.MaxMapDepth+1; i++ {
		next := map[string]any{}
		cur["n"] = next
		cur = next
	}
	assert.Error(t, model.ValidateOpenMap("payload", deep, 0))
}

func TestDuration_JSON(t *testing.T) {
	var d model.Duration
	assert.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, int64(90_000_000_000), int64(d))

	assert.NoError(t, d.UnmarshalJSON([]byte(`5000000000`)))
	assert.Equal(t, int64(5_000_000_000), int64(d))

	out, err := d.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"5s"`, string(out))

	assert.Error(t, d.UnmarshalJSON([]byte(`"fast"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`{}`)))
}
