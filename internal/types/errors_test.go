package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassificationThroughWrapping(t *testing.T) {
	cause := errors.New("exit status 127")
	err := fmt.Errorf("resolve audio: %w", NewError(KindToolMissing, CodeYtDlpNotInstalled, "yt-dlp is not installed", cause))

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindToolMissing, e.Kind)
	assert.Equal(t, CodeYtDlpNotInstalled, CodeOf(err))
	assert.True(t, IsKind(err, KindToolMissing))
	assert.False(t, IsKind(err, KindGate))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "resolve audio: yt-dlp is not installed", err.Error())
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.False(t, IsKind(nil, KindExternal))
}

func TestDurationMinutesRoundsUp(t *testing.T) {
	assert.Equal(t, 0, DurationMinutes(0))
	assert.Equal(t, 1, DurationMinutes(1))
	assert.Equal(t, 2, DurationMinutes(120))
	assert.Equal(t, 3, DurationMinutes(121))
	assert.Equal(t, 120, DurationMinutes(7200))
}
