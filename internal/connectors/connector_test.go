package connectors

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"aiconnect/internal/ai"
)

func TestJoinChoicesKeepsOrder(t *testing.T) {
	cases := [][]string{
		{"only"},
		{"a", "b"},
		{"first", "", "third"},
	}
	for _, texts := range cases {
		got := JoinChoices(texts)
		require.Equal(t, strings.Join(texts, "\n--\n"), got)
	}
	require.Equal(t, "", JoinChoices(nil))
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	defaults := CallOptions{MaxTokens: 1000, Temperature: 0.7}

	got := Resolve(defaults)
	require.Equal(t, 1000, got.MaxTokens)
	require.InDelta(t, 0.7, got.Temperature, 1e-6)

	got = Resolve(defaults, WithMaxTokens(-5), WithTemperature(0))
	require.Equal(t, -5, got.MaxTokens)
	require.Zero(t, got.Temperature)
}

func TestAccumulatorJoinsDeltas(t *testing.T) {
	var echo bytes.Buffer
	acc := NewAccumulator(&echo)
	acc.SetID("chatcmpl-1")
	acc.SetRole(0, ai.RoleAssistant)
	acc.Add(0, "Hel")
	acc.Add(0, "lo")

	require.Equal(t, "chatcmpl-1", acc.ID())
	require.Equal(t, []string{"Hello"}, acc.Texts())
	require.Equal(t, "Hello", echo.String())
	require.Equal(t, []ai.MessageResponse{{Role: ai.RoleAssistant, Content: "Hello"}}, acc.Messages())
}

func TestAccumulatorOrdersChoicesByIndex(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Add(1, "b")
	acc.Add(0, "a")
	acc.Add(1, "c")

	require.Equal(t, []string{"a", "bc"}, acc.Texts())
}

func TestExternalIDOrNew(t *testing.T) {
	require.Equal(t, "cmpl-1", ExternalIDOrNew("cmpl-1"))
	generated := ExternalIDOrNew("")
	require.Len(t, generated, 36)
}
