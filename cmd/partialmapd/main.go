// Command partialmapd is a single-process demo host for partialmap: it
// wires a Map to a local blob store and an in-memory sequencer and
// exposes get/set/delete/clear as one-shot CLI operations.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/jenn-le/partialmap"
	"github.com/jenn-le/partialmap/cmd/internal/localhost"
	"github.com/jenn-le/partialmap/host"
)

func main() {
	dir := flag.String("dir", filepath.Join(os.Getenv("HOME"), ".partialmapd"), "Where to store blob data.")
	logFile := flag.String("logfile", "", "Path to log file (default: stderr).")
	opLogFile := flag.String("oplog", "", "Path to rotated op log (default: disabled).")
	op := flag.String("op", "get", "Operation: get, set, delete, clear.")
	key := flag.String("key", "", "Key to operate on.")
	value := flag.String("value", "", "Value for set.")
	flag.Parse()

	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if err := os.MkdirAll(*dir, 0755); err != nil {
		log.Fatal(err)
	}

	rt, err := localhost.New(*dir, "partialmap")
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

	m, err := partialmap.New(partialmap.DefaultConfig(), rt, host.JSONCodec{})
	if err != nil {
		log.Fatal(err)
	}
	rt.Bind(m.Apply)

	if *opLogFile != "" {
		l := partialmap.NewOpLogger(*opLogFile)
		defer l.Close()
		m.SetOpLog(l)
	}

	ctx := context.Background()
	switch *op {
	case "get":
		v, ok, err := m.Get(ctx, []byte(*key))
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Printf("key %q not found", *key)
			return
		}
		os.Stdout.Write(v)
	case "set":
		if err := m.Set(ctx, []byte(*key), []byte(*value)); err != nil {
			log.Fatal(err)
		}
	case "delete":
		if err := m.Delete(ctx, []byte(*key)); err != nil {
			log.Fatal(err)
		}
	case "clear":
		if err := m.Clear(ctx); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown op %q", *op)
	}
}
