package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/jmsadair/replmap"
)

const prompt = "C: "

const usage = `commands:
  put <key> <value>   set key to an integer value
  get <key>           print the local value of key
  containskey <key>   print whether key is present locally
  remove <key>        remove key and print its last local value
  map, log            print the local entries
  addr                print the address of this member
  view                print the current view
  quit, exit          leave the group`

// replicatedMap is the part of *replmap.Map the console uses.
type replicatedMap interface {
	Put(key string, value int) error
	Get(key string) (int, bool)
	ContainsKey(key string) bool
	Remove(key string) (int, bool, error)
	Entries() map[string]int
	Address() replmap.Address
	TransportAddress() string
	View() replmap.View
}

// console reads commands line by line and runs them against a map.
type console struct {
	m   replicatedMap
	in  *bufio.Scanner
	out io.Writer
}

func newConsole(m replicatedMap, in io.Reader, out io.Writer) *console {
	return &console{m: m, in: bufio.NewScanner(in), out: out}
}

// run executes commands until quit, exit, or the end of the input.
func (c *console) run() error {
	for {
		fmt.Fprint(c.out, prompt)
		if !c.in.Scan() {
			fmt.Fprintln(c.out)
			return c.in.Err()
		}

		quit, err := c.execute(c.in.Text())
		if err != nil {
			fmt.Fprintf(c.out, "error: %s\n", err.Error())
		}
		if quit {
			return nil
		}
	}
}

// execute runs a single command and reports whether the console should stop.
// The command name is case-insensitive, its arguments are not.
func (c *console) execute(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	command, args := strings.ToLower(fields[0]), fields[1:]
	switch command {
	case "quit", "exit":
		return true, nil
	case "put":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: put <key> <value>")
		}
		value, err := strconv.Atoi(args[1])
		if err != nil {
			return false, fmt.Errorf("value must be an integer: %q", args[1])
		}
		return false, c.m.Put(args[0], value)
	case "get":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: get <key>")
		}
		value, ok := c.m.Get(args[0])
		c.printResult(value, ok)
	case "containskey":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: containskey <key>")
		}
		fmt.Fprintf(c.out, "result: %t\n", c.m.ContainsKey(args[0]))
	case "remove":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: remove <key>")
		}
		value, ok, err := c.m.Remove(args[0])
		if err != nil {
			return false, err
		}
		c.printResult(value, ok)
	case "map", "log":
		entries := c.m.Entries()
		keys := maps.Keys(entries)
		slices.Sort(keys)
		fmt.Fprintln(c.out, "state:")
		for _, key := range keys {
			fmt.Fprintf(c.out, "%s: %d\n", key, entries[key])
		}
	case "addr":
		fmt.Fprintf(c.out, "%s (%s)\n", c.m.Address(), c.m.TransportAddress())
	case "view":
		fmt.Fprintln(c.out, c.m.View())
	case "help":
		fmt.Fprintln(c.out, usage)
	default:
		return false, fmt.Errorf("unknown command %q, type help for a list of commands", fields[0])
	}

	return false, nil
}

// printResult prints a possibly absent value. Absent values print as null.
func (c *console) printResult(value int, ok bool) {
	if !ok {
		fmt.Fprintln(c.out, "result: null")
		return
	}
	fmt.Fprintf(c.out, "result: %d\n", value)
}
