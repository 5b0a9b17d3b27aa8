package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.True(t, s.Valid())
	assert.True(t, s.Enabled(UpdateSite))
	assert.False(t, s.Enabled(UpdateFoundShows))
	assert.Len(t, s, len(Options()))
}

func TestToggle(t *testing.T) {
	s := Defaults()
	next := s.Toggle(UpdateFoundShows)

	assert.True(t, next.Enabled(UpdateFoundShows))
	assert.False(t, s.Enabled(UpdateFoundShows), "toggle must not mutate the receiver")
	assert.True(t, next.Enabled(UpdateSite))

	assert.False(t, next.Toggle(UpdateFoundShows).Enabled(UpdateFoundShows))
}

func TestToggle_ResetsOnShapeDrift(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
	}{
		{"missing key", Settings{"update_site": false}},
		{"extra key", Settings{"update_site": false, "update_found_shows": true, "legacy": true}},
		{"renamed key", Settings{"update_site": false, "update_found_anime": true}},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.s.Valid())

			next := tt.s.Toggle(UpdateSite)

			want := Defaults()
			want["update_site"] = !want["update_site"]
			assert.Equal(t, want, next)
		})
	}
}

func TestParseOption(t *testing.T) {
	for _, o := range Options() {
		parsed, err := ParseOption(o.Key())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
		assert.NotEmpty(t, Label(o))
	}

	_, err := ParseOption("update_everything")
	assert.Error(t, err)
}
