package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kona/internal/store"
)

func TestParseScript(t *testing.T) {
	script := `
# seed users
put user/1 alice smith
set user/2 "bob\x00"
PUT "key with space" ""
del user/3
delete "quoted key"
`
	ops, err := parseScript(strings.NewReader(script))
	require.NoError(t, err)
	assert.Equal(t, []store.Op{
		{Kind: store.OpPut, Key: []byte("user/1"), Value: []byte("alice smith")},
		{Kind: store.OpPut, Key: []byte("user/2"), Value: []byte("bob\x00")},
		{Kind: store.OpPut, Key: []byte("key with space"), Value: []byte{}},
		{Kind: store.OpDelete, Key: []byte("user/3")},
		{Kind: store.OpDelete, Key: []byte("quoted key")},
	}, ops)
}

func TestParseScriptUnquotedEmptyValue(t *testing.T) {
	ops, err := parseScript(strings.NewReader("put k\n"))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.NotNil(t, ops[0].Value)
	assert.Empty(t, ops[0].Value)
}

func TestParseScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"unknown verb", "merge k v", `line 1: unknown command "merge"`},
		{"missing key", "\nput", "line 2: put: missing key"},
		{"extra del arg", "del k v", "line 1: del k: unexpected"},
		{"bad quoted key", `put "open v`, "line 1: bad quoted key"},
		{"bad quoted value", `put k "open`, "line 1: put k: bad quoted value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScript(strings.NewReader(tt.script))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScriptTabs(t *testing.T) {
	ops, err := parseScript(strings.NewReader("put\tk\tv  w\ndel \t \"q k\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []store.Op{
		{Kind: store.OpPut, Key: []byte("k"), Value: []byte("v  w")},
		{Kind: store.OpDelete, Key: []byte("q k")},
	}, ops)
}
