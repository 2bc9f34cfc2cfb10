package aqua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackValid(t *testing.T) {
	cases := []struct {
		name string
		t    *Track
		want bool
	}{
		{"nil track", nil, false},
		{"encoded only", &Track{Encoded: "E1"}, true},
		{"uri only", &Track{URI: "https://example.com/a.mp3"}, true},
		{"both set", &Track{Encoded: "E1", URI: "https://example.com/a.mp3"}, true},
		{"neither set", &Track{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.t.Valid())
		})
	}
}

func TestTrackCloneIsIndependentCopy(t *testing.T) {
	orig := &Track{
		Identifier: "id1",
		Encoded:    "E1",
		Playlist:   &PlaylistInfo{Name: "mix", SelectedTrack: 2},
	}
	clone := orig.Clone()

	require.NotSame(t, orig, clone)
	require.NotSame(t, orig.Playlist, clone.Playlist)

	clone.Playlist.Name = "other"
	assert.Equal(t, "mix", orig.Playlist.Name)
}

func TestTrackCloneClearsDisposed(t *testing.T) {
	orig := &Track{Encoded: "E1"}
	orig.Dispose()
	clone := orig.Clone()
	assert.False(t, clone.disposed)
}

func TestTrackCloneNil(t *testing.T) {
	var orig *Track
	assert.Nil(t, orig.Clone())
}

func TestTrackDisposeNilSafe(t *testing.T) {
	var tr *Track
	tr.Dispose() // must not panic
}

func TestIsValidBase64(t *testing.T) {
	cases := []struct {
		name string
		s    string
		want bool
	}{
		{"empty string", "", false},
		{"plain alnum", "QUJD", true},
		{"with padding", "QUI=", true},
		{"url-safe chars", "QUJD_-", true},
		{"invalid char", "QUJD!", false},
		{"length mod 4 is one", "ABCDE", false},
		{"length mod 4 is two", "ABCDEF", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, isValidBase64(c.s))
		})
	}
}
