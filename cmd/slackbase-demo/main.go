// Command slackbase-demo wires up an engine, drives a handful of
// operations against it, and exits. It is not a shell: spec.md scopes
// an interactive REPL out, and this binary exists only to show the
// public API strung together end to end.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/badgerbees/slackbase/engine"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	dir, err := os.MkdirTemp("", "slackbase-demo-*")
	if err != nil {
		logrus.Fatalf("demo: create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	e, err := engine.Open(dir+"/demo", engine.WithCacheCapacity(256))
	if err != nil {
		logrus.Fatalf("demo: open: %v", err)
	}
	defer e.Close()

	if err := e.Put("user:1", []byte("alice")); err != nil {
		logrus.Fatalf("demo: put: %v", err)
	}
	if err := e.Put("user:2", []byte("bob")); err != nil {
		logrus.Fatalf("demo: put: %v", err)
	}
	if err := e.Putex("session:1", []byte("token-abc"), 60); err != nil {
		logrus.Fatalf("demo: putex: %v", err)
	}

	v, ok, err := e.Get("user:1")
	if err != nil {
		logrus.Fatalf("demo: get: %v", err)
	}
	fmt.Printf("user:1 = %q (found=%v)\n", v, ok)

	rows, err := e.ScanPrefix("user:")
	if err != nil {
		logrus.Fatalf("demo: scan: %v", err)
	}
	for _, kv := range rows {
		fmt.Printf("scan: %s = %s\n", kv.Key, kv.Value)
	}

	sha, err := e.ScriptRegister(`return SET(KEYS[1], ARGV[1])`, "assign", "sets KEYS[1] to ARGV[1]")
	if err != nil {
		logrus.Fatalf("demo: script register: %v", err)
	}
	if _, err := e.ScriptRun(sha, []string{"user:3"}, []string{"carol"}); err != nil {
		logrus.Fatalf("demo: script run: %v", err)
	}

	stats, err := e.Stats()
	if err != nil {
		logrus.Fatalf("demo: stats: %v", err)
	}
	fmt.Printf("stats: reads=%d writes=%d hits=%d misses=%d keys=%d\n",
		stats.Reads, stats.Writes, stats.Hits, stats.Misses, stats.IndexSize)
}
