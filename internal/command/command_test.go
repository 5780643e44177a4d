package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseToArgsRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()
	cases := [][][]byte{
		{[]byte("set"), []byte("k"), []byte("v")},
		{[]byte("MGET"), []byte("a"), []byte("b"), []byte("c")},
		{[]byte("zadd"), []byte("z"), []byte("1"), []byte("a")},
	}
	for _, args := range cases {
		cmd, err := Parse(r, args)
		require.NoError(t, err)

		again, err := Parse(r, cmd.ToArgs())
		require.NoError(t, err)
		require.Equal(t, cmd.Desc.Name, again.Desc.Name)
		require.Equal(t, cmd.Args, again.Args)
	}
}

func TestKeysDerivation(t *testing.T) {
	r := NewDefaultRegistry()

	cmd, err := Parse(r, [][]byte{[]byte("MSET"), []byte("k1"), []byte("v1"), []byte("k2"), []byte("v2")})
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2"}, cmd.Keys())

	cmd, err = Parse(r, [][]byte{[]byte("GET"), []byte("k1")})
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, cmd.Keys())

	cmd, err = Parse(r, [][]byte{[]byte("MULTI")})
	require.NoError(t, err)
	require.Empty(t, cmd.Keys())
}

func TestArityValidation(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := Parse(r, [][]byte{[]byte("GET")})
	require.Error(t, err)

	_, err = Parse(r, [][]byte{[]byte("SET"), []byte("k")})
	require.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := Parse(r, [][]byte{[]byte("NOPE")})
	require.Error(t, err)
}
