package pubsub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"news.*", "news.tech", true},
		{"news.*", "sports.tech", false},
		{"news.?ech", "news.tech", true},
		{"news.?ech", "news.ttech", false},
		{"*", "anything", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, globMatch(c.pattern, c.s), "pattern=%q s=%q", c.pattern, c.s)
	}
}
