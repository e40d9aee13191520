package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nested struct {
	Addr        string        `cfg:"addr"`
	ReadTimeout time.Duration `cfg:"read_timeout"`
	Count       int           `cfg:"count"`
}

func TestUnmarshal(t *testing.T) {
	mc := MapConfig{
		"addr":         "0.0.0.0:6969",
		"read_timeout": "5s",
		"count":        1024,
	}

	var out nested
	require.Nil(t, mc.Unmarshal(&out))
	require.Equal(t, "0.0.0.0:6969", out.Addr)
	require.Equal(t, 5*time.Second, out.ReadTimeout)
	require.Equal(t, 1024, out.Count)
}

func TestUnmarshalNil(t *testing.T) {
	var mc MapConfig
	require.ErrorIs(t, mc.Unmarshal(&nested{}), ErrNilConfigMap)
}

func TestDuration(t *testing.T) {
	mc := MapConfig{"interval": "90s", "timeout": 30}

	d, err := mc.Duration("interval", 0)
	require.Nil(t, err)
	require.Equal(t, 90*time.Second, d)

	d, err = mc.Duration("timeout", 0)
	require.Nil(t, err)
	require.Equal(t, 30*time.Second, d)

	d, err = mc.Duration("missing", time.Minute)
	require.Nil(t, err)
	require.Equal(t, time.Minute, d)
}
