package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCommands(t *testing.T) {
	cases := map[string]string{
		"sweep":    "expiration-sweep",
		"dispatch": "notification-dispatch",
		"purge":    "notification-purge",
	}
	for use := range cases {
		cmd := jobCmd(use, cases[use], "desc")
		assert.Equal(t, use, cmd.Use)
		require.NotNil(t, cmd.RunE)
		assert.Error(t, cmd.Args(cmd, []string{"extra"}))
		assert.NoError(t, cmd.Args(cmd, nil))
	}
}
