package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lightTable() Table {
	return Table{
		Name:     "light",
		Policy:   Exhaustive,
		States:   []string{"Off", "On"},
		Commands: []string{"Toggle"},
		Events:   []string{"Toggled"},
		Decls: []Decl{
			{Kind: KindCommand, From: Wildcard, Input: "Toggle"},
			{Kind: KindEvent, From: "Off", Input: "Toggled"},
			{Kind: KindEvent, From: "On", Input: "Toggled"},
		},
		Entry: []string{"On"},
	}
}

func TestTableCheckValid(t *testing.T) {
	tbl := lightTable()
	assert.Empty(t, tbl.Check())
}

func TestTablePairs(t *testing.T) {
	tbl := lightTable()
	tbl.Decls = append(tbl.Decls, Decl{Kind: KindCommand, From: "On", Input: "Toggle", Ignore: true})

	assert.Equal(t, []Pair{
		{Kind: KindCommand, State: "Off", Input: "Toggle", Resolution: ResolvedAnyRule},
		{Kind: KindCommand, State: "On", Input: "Toggle", Resolution: ResolvedIgnore},
		{Kind: KindEvent, State: "Off", Input: "Toggled", Resolution: ResolvedRule},
		{Kind: KindEvent, State: "On", Input: "Toggled", Resolution: ResolvedRule},
	}, tbl.Pairs())
}

func TestTableCheckProblems(t *testing.T) {
	tbl := lightTable()
	tbl.States = append(tbl.States, "Off")
	tbl.Decls = tbl.Decls[:2]
	tbl.Decls = append(tbl.Decls, Decl{Kind: KindEvent, From: "Broken", Input: "Toggled"})
	tbl.Exit = []string{"Dimmed"}

	assert.Equal(t, []string{
		"state Off declared twice",
		"event rule references undeclared state Broken",
		"exit hook references undeclared state Dimmed",
		"state On has no rule or ignore for event Toggled",
	}, tbl.Check())
}

func TestTableLenientIgnoresGaps(t *testing.T) {
	tbl := lightTable()
	tbl.Policy = Lenient
	tbl.Decls = nil
	assert.Empty(t, tbl.Check())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("exhaustive")
	require.NoError(t, err)
	assert.Equal(t, Exhaustive, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Lenient, p)

	_, err = ParsePolicy("strict")
	assert.Error(t, err)
}

func TestOutcomeChange(t *testing.T) {
	assert.Equal(t, "no-change", Unchanged[int]().String())
	assert.Equal(t, "mutated", Mutated(1).String())
	assert.Equal(t, "transitioned", Transition(2).String())

	_, ok := Unchanged[int]().Next()
	assert.False(t, ok)
	v, ok := Mutated(5).Next()
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}
