package bittorrent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	for _, tt := range []struct {
		in       string
		expected Event
		err      error
	}{
		{"", None, nil},
		{"started", Started, nil},
		{"Started", Started, nil},
		{"stopped", Stopped, nil},
		{"completed", Completed, nil},
		{"COMPLETED", Completed, nil},
		{"garbage", None, ErrUnknownEvent},
		{"none ", None, ErrUnknownEvent},
	} {
		t.Run("event: "+tt.in, func(t *testing.T) {
			got, err := NewEvent(tt.in)
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.expected, got)
		})
	}
}
