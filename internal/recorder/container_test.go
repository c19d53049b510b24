package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContainer(t *testing.T) {
	c, err := DetectContainer("/tmp/out.MP4")
	require.NoError(t, err)
	assert.Equal(t, ContainerMP4, c)

	c, err = DetectContainer("/tmp/out.ts")
	require.NoError(t, err)
	assert.Equal(t, ContainerTS, c)
}

func TestDetectContainerRejectsUnknownExtension(t *testing.T) {
	_, err := DetectContainer("/tmp/out.xyz")
	assert.ErrorIs(t, err, ErrUnsupportedContainer)
}

func TestValidateCompatibilityWarnsOnUnsupportedCodec(t *testing.T) {
	warnings := ValidateCompatibility(ContainerWebM, "h264", "opus")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "h264")
}

func TestValidateCompatibilityIsSilentWhenEverythingMatches(t *testing.T) {
	warnings := ValidateCompatibility(ContainerMP4, "h264", "aac")
	assert.Empty(t, warnings)
}

func TestValidateCompatibilityIgnoresAbsentMediaTypes(t *testing.T) {
	warnings := ValidateCompatibility(ContainerTS, "h264", "")
	assert.Empty(t, warnings)
}
