package varinterval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adcrn/tyto/bittorrent"
)

var configTests = []struct {
	cfg      Config
	expected error
}{
	{Config{0.5, 60, true}, nil},
	{Config{1.0, 60, true}, nil},
	{Config{0.0, 60, true}, ErrInvalidModifyResponseProbability},
	{Config{1.1, 60, true}, ErrInvalidModifyResponseProbability},
	{Config{0.5, 0, true}, ErrInvalidMaxIncreaseDelta},
	{Config{0.5, -10, true}, ErrInvalidMaxIncreaseDelta},
}

func TestCheckConfig(t *testing.T) {
	for _, tt := range configTests {
		t.Run(fmt.Sprintf("%+v", tt.cfg), func(t *testing.T) {
			require.ErrorIs(t, checkConfig(tt.cfg), tt.expected)
		})
	}
}

func TestHandleAnnounce(t *testing.T) {
	h, err := NewHook(Config{
		ModifyResponseProbability: 1,
		MaxIncreaseDelta:          10,
		ModifyMinInterval:         true,
	})
	require.Nil(t, err)
	require.NotNil(t, h)

	ctx := context.Background()
	req := &bittorrent.AnnounceRequest{InfoHash: "00000000000000000001"}
	resp := &bittorrent.AnnounceResponse{Interval: 30 * time.Minute, MinInterval: 15 * time.Minute}

	nCtx, err := h.HandleAnnounce(ctx, req, resp)
	require.Nil(t, err)
	require.Equal(t, ctx, nCtx)
	require.Greater(t, resp.Interval, 30*time.Minute)
	require.LessOrEqual(t, resp.Interval, 30*time.Minute+10*time.Second)
	require.Greater(t, resp.MinInterval, 15*time.Minute)

	// The same request always yields the same interval.
	resp2 := &bittorrent.AnnounceResponse{Interval: 30 * time.Minute, MinInterval: 15 * time.Minute}
	_, err = h.HandleAnnounce(ctx, req, resp2)
	require.Nil(t, err)
	require.Equal(t, resp.Interval, resp2.Interval)
}
