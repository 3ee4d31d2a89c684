package cmd

import (
	"net/http"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{
		"Referer: https://embed.example/",
		"user-agent:VLC/3.0",
		"X-Empty:",
	})
	require.NoError(t, err)
	assert.Equal(t, http.Header{
		"Referer":    {"https://embed.example/"},
		"User-Agent": {"VLC/3.0"},
		"X-Empty":    {""},
	}, headers)
}

func TestParseHeaders_Invalid(t *testing.T) {
	for _, raw := range []string{"no-colon", ": value", "   :x"} {
		_, err := parseHeaders([]string{raw})
		assert.Error(t, err, raw)
	}
}

func TestParseHeaders_Empty(t *testing.T) {
	headers, err := parseHeaders(nil)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestOverrides_OnlyWhenChanged(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "0.0.0.0", "")
	flags.Int("port", 8080, "")
	require.NoError(t, flags.Parse([]string{"--port", "9000"}))

	host, port := "127.0.0.1", 0
	overrideString(flags, "host", &host)
	overrideInt(flags, "port", &port)

	assert.Equal(t, "127.0.0.1", host, "unset flag keeps the configured value")
	assert.Equal(t, 9000, port)
}
