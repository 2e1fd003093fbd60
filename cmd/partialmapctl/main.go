// Command partialmapctl is a small inspection CLI: it builds its own Map
// in process over the blob store at -dir (it does not connect to another
// running client) and reports that Map's flush health, working set size,
// and current GC root set, rendered with rodaine/table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jenn-le/partialmap"
	"github.com/jenn-le/partialmap/cmd/internal/localhost"
	"github.com/jenn-le/partialmap/host"
	"github.com/rodaine/table"
)

var dirFlag = flag.String("dir", filepath.Join(os.Getenv("HOME"), ".partialmapd"), "Where blob data is stored.")

func demoMap() (*partialmap.Map, error) {
	rt, err := localhost.New(*dirFlag, "partialmap")
	if err != nil {
		return nil, err
	}
	m, err := partialmap.New(partialmap.DefaultConfig(), rt, host.JSONCodec{})
	if err != nil {
		return nil, err
	}
	rt.Bind(m.Apply)
	return m, nil
}

func main() {
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: partialmapctl <health|gc|workingset>")
		os.Exit(1)
	}

	m, err := demoMap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch cmd {
	case "health":
		printHealth(m)
	case "gc":
		if err := printGC(m); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "workingset":
		fmt.Println(m.WorkingSetSize())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(1)
	}
}

func printHealth(m *partialmap.Map) {
	h := m.Health()
	t := table.New("Healthy", "Last Flush", "Consecutive Errors", "Last Error")
	lastErr := ""
	if h.LastError != nil {
		lastErr = h.LastError.Error()
	}
	t.AddRow(h.Healthy(), h.LastFlushAt, h.ConsecErrors, lastErr)
	t.Print()
}

func printGC(m *partialmap.Map) error {
	handles, err := m.GCData(context.Background())
	if err != nil {
		return err
	}
	t := table.New("Handle")
	for _, h := range handles.Slice() {
		t.AddRow(string(h))
	}
	t.Print()
	return nil
}
