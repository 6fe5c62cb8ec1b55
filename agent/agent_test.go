package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func echoHandler(name string) core.Handler {
	return NewFuncHandler(core.Skill{Name: name}, func(tc *core.TaskContext) (*core.Result, error) {
		return core.TextResult(name, tc.Input.Text()), nil
	})
}

func TestAddSkillAndDescriptor(t *testing.T) {
	a := New("alpha", func(o *Options) {
		o.Description = "test agent"
		o.Version = "1.2.3"
	})
	require.NoError(t, a.AddSkill(echoHandler("echo")))
	require.NoError(t, a.AddSkill(echoHandler("reverse")))

	desc := a.Descriptor()
	assert.Equal(t, "alpha", desc.Name)
	assert.Equal(t, "test agent", desc.Description)
	assert.Equal(t, "1.2.3", desc.Version)
	require.Len(t, desc.Skills, 2)
	assert.Equal(t, "echo", desc.Skills[0].Name)

	_, ok := a.Handler("echo")
	assert.True(t, ok)
	_, ok = a.Handler("unknown")
	assert.False(t, ok)
}

func TestAddDuplicateSkill(t *testing.T) {
	a := New("alpha")
	require.NoError(t, a.AddSkill(echoHandler("echo")))
	err := a.AddSkill(echoHandler("echo"))
	assert.True(t, errors.Is(err, core.ErrDuplicateSkill))
}

func TestAdmitWithoutQueueRunsImmediately(t *testing.T) {
	a := New("alpha")

	commit, err := a.Admit()
	require.NoError(t, err)

	done := make(chan struct{})
	commit(func() { close(done) })
	<-done
}
