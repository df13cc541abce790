package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/wastex/internal/apperr"
)

type light string

func TestTable(t *testing.T) {
	tbl := New[light]("light",
		On[light]("red", "green"),
		On[light]("green", "yellow"),
		On[light]("yellow", "red", "off"),
	).Terminal("off")

	assert.True(t, tbl.Can("red", "green"))
	assert.False(t, tbl.Can("red", "yellow"))
	assert.True(t, tbl.IsTerminal("off"))
	assert.False(t, tbl.IsTerminal("red"))

	require.NoError(t, tbl.Check("yellow", "off"))
	err := tbl.Check("off", "red")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
	assert.Contains(t, err.Error(), `from "off" to "red"`)
}
