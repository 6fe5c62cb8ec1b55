package agent

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/model"
)

// Compile time check to ensure ModelHandler satisfies the Handler interface.
var _ core.Handler = (*ModelHandler)(nil)

// ModelHandlerOptions holds configuration overrides passed to NewModelHandler().
type ModelHandlerOptions struct {
	// Instructions prime the model for every invocation of the skill.
	Instructions string
	// Stream, when true, forwards partial model output as progress artifacts
	// before the final result.
	Stream bool
	// ArtifactName names the produced artifact(s). Defaults to the skill name.
	ArtifactName string
}

// ModelHandler serves a skill by driving a language model: the task input
// becomes the user turn, streamed partials surface as appended artifact
// chunks and the final model turn completes the task.
type ModelHandler struct {
	skill   core.Skill
	model   model.Model
	options ModelHandlerOptions
}

// NewModelHandler builds a handler serving skill with the given model.
func NewModelHandler(skill core.Skill, m model.Model, optFns ...func(o *ModelHandlerOptions)) *ModelHandler {
	opts := ModelHandlerOptions{
		ArtifactName: skill.Name,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelHandler{skill: skill, model: m, options: opts}
}

// Skill returns the capability metadata.
func (h *ModelHandler) Skill() core.Skill { return h.skill }

// Invoke runs a single generation turn. Cancellation propagates through the
// invocation context into the provider call.
func (h *ModelHandler) Invoke(tc *core.TaskContext) (*core.Result, error) {
	req := model.Request{
		Instructions: h.options.Instructions,
		Contents:     []core.Content{tc.Input},
		Stream:       h.options.Stream,
	}

	respCh, errCh := h.model.Generate(tc.Context, req)

	var final *model.Response
	for resp := range respCh {
		if resp.Partial {
			chunk := core.TextArtifact(h.options.ArtifactName, resp.Content.Text())
			chunk.Append = true
			if err := tc.Progress(chunk); err != nil {
				return nil, err
			}
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("model %q: %w", h.model.Info().Name, err)
	}
	if final == nil {
		return nil, fmt.Errorf("model %q returned no final response", h.model.Info().Name)
	}

	out := core.TextArtifact(h.options.ArtifactName, final.Content.Text())
	out.LastChunk = true
	return &core.Result{
		Message:   "generation " + final.FinishReason,
		Artifacts: []core.Artifact{out},
	}, nil
}
