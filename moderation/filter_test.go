package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilter_Mask(t *testing.T) {
	f, err := NewFilter([]string{"darn", "heck"}, '*')
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "hello there", "hello there"},
		{"plain", "well darn it", "well **** it"},
		{"case", "DARN", "****"},
		{"leet", "h3ck no", "**** no"},
		{"separated", "d.a.r.n!", "*******!"},
		{"two words", "darn heck", "**** ****"},
		{"unicode kept", "héllo darn", "héllo ****"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, f.Mask(tt.in))
		})
	}
}

func TestFilter_EmptyWordList(t *testing.T) {
	req := require.New(t)

	f, err := NewFilter(nil, '#')
	req.NoError(err)
	req.Equal("anything goes", f.Mask("anything goes"))

	f, err = NewFilter([]string{" ", "..."}, '#')
	req.NoError(err)
	req.Equal("still fine", f.Mask("still fine"))

	var nilFilter *Filter
	req.Equal("nil ok", nilFilter.Mask("nil ok"))
}
