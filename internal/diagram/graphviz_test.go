package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

func TestRenderImageChain(t *testing.T) {
	model, err := Build(chainConstellation(), nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// Verify PNG magic bytes: 0x89 P N G.
	assert.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRenderImagePipelineWithLoop(t *testing.T) {
	model, err := Build(pipelineConstellation(), nil)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}

func TestRenderImageWithStatus(t *testing.T) {
	outputs := []*store.NodeOutputRecord{
		{NodeID: "fetch", Status: schema.NodeStatusCompleted, DurationMs: 100},
		{NodeID: "digest", Status: schema.NodeStatusRunning},
	}

	model, err := Build(chainConstellation(), outputs)
	require.NoError(t, err)

	png, err := RenderImage(model)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, byte(0x89), png[0])
}
