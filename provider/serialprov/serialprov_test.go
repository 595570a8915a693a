package serialprov

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseAddr(t *testing.T) {
	cfg, err := ParseAddr("/dev/ttyUSB0:115200:8:N:1")
	require.NoError(t, err)
	assert.Equal(t, Config{Path: "/dev/ttyUSB0", Baud: 115200, DataBits: 8, Parity: 'N', StopBits: 1}, cfg)
}

func TestParseAddrWrongFieldCount(t *testing.T) {
	_, err := ParseAddr("/dev/ttyUSB0:115200")
	require.Error(t, err)
}

func TestParseAddrBadBaud(t *testing.T) {
	_, err := ParseAddr("/dev/ttyUSB0:notanumber:8:N:1")
	require.Error(t, err)
}

func TestBaudConst(t *testing.T) {
	v, err := baudConst(115200)
	require.NoError(t, err)
	assert.EqualValues(t, unix.B115200, v)

	_, err = baudConst(1234)
	require.Error(t, err)
}

func TestDataBitsConst(t *testing.T) {
	v, err := dataBitsConst(8)
	require.NoError(t, err)
	assert.EqualValues(t, unix.CS8, v)

	_, err = dataBitsConst(9)
	require.Error(t, err)
}
