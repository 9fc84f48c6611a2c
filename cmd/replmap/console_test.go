package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmsadair/replmap"
)

// fakeMap is a replicatedMap that applies mutations immediately.
type fakeMap struct {
	entries map[string]int
}

func newFakeMap() *fakeMap {
	return &fakeMap{entries: make(map[string]int)}
}

func (m *fakeMap) Put(key string, value int) error {
	if key == "" {
		return replmap.ErrInvalidArgument
	}
	m.entries[key] = value
	return nil
}

func (m *fakeMap) Get(key string) (int, bool) {
	value, ok := m.entries[key]
	return value, ok
}

func (m *fakeMap) ContainsKey(key string) bool {
	_, ok := m.entries[key]
	return ok
}

func (m *fakeMap) Remove(key string) (int, bool, error) {
	value, ok := m.entries[key]
	delete(m.entries, key)
	return value, ok, nil
}

func (m *fakeMap) Entries() map[string]int {
	return m.entries
}

func (m *fakeMap) Address() replmap.Address {
	return "127.0.0.1:7600"
}

func (m *fakeMap) TransportAddress() string {
	return "grpc://127.0.0.1:7600"
}

func (m *fakeMap) View() replmap.View {
	return replmap.View{ID: replmap.ViewID{Creator: "127.0.0.1:7600", Seq: 1}, Members: []replmap.Address{"127.0.0.1:7600"}}
}

func runConsole(t *testing.T, m replicatedMap, input string) string {
	var out bytes.Buffer
	require.NoError(t, newConsole(m, strings.NewReader(input), &out).run())
	return strings.ReplaceAll(out.String(), prompt, "")
}

// TestConsoleCommands checks the output of every command.
func TestConsoleCommands(t *testing.T) {
	m := newFakeMap()

	input := strings.Join([]string{
		"put b 2",
		"PUT a -1",
		"get a",
		"get missing",
		"containskey b",
		"ContainsKey missing",
		"map",
		"remove b",
		"remove b",
		"log",
		"addr",
		"view",
		"",
		"quit",
		"get a",
	}, "\n")

	expected := strings.Join([]string{
		"result: -1",
		"result: null",
		"result: true",
		"result: false",
		"state:",
		"a: -1",
		"b: 2",
		"result: 2",
		"result: null",
		"state:",
		"a: -1",
		"127.0.0.1:7600 (grpc://127.0.0.1:7600)",
		"[127.0.0.1:7600|1] (1) [127.0.0.1:7600]",
		"",
	}, "\n")

	require.Equal(t, expected, runConsole(t, m, input))
}

// TestConsoleMalformed checks that malformed commands print an error and never reach the map.
func TestConsoleMalformed(t *testing.T) {
	m := newFakeMap()

	output := runConsole(t, m, "put a\nput a one\nget\nremove a b\nfrobnicate\nexit\n")

	require.Equal(t, 5, strings.Count(output, "error: "))
	require.Contains(t, output, `value must be an integer: "one"`)
	require.Contains(t, output, `unknown command "frobnicate"`)
	require.Empty(t, m.entries)
}

// TestConsoleEndOfInput checks that the console stops at the end of its input.
func TestConsoleEndOfInput(t *testing.T) {
	m := newFakeMap()

	output := runConsole(t, m, "put a 1")
	require.Equal(t, "\n", output)
	require.Equal(t, map[string]int{"a": 1}, m.entries)
}
