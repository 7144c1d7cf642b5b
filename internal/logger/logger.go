// Package logger hands out named child loggers backed by hclog, the way
// dragonboat's internal/logger package hands out a package-scoped plog
// variable via logger.GetLogger(name).
package logger

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.Mutex
	root = hclog.New(&hclog.LoggerOptions{
		Name:  "snapraft",
		Level: hclog.Info,
		Output: os.Stderr,
	})
	named = make(map[string]hclog.Logger)
)

// Get returns a named child logger, creating and caching it on first
// use. Call sites look like:
//
//	var log = logger.Get("replication")
func Get(name string) hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := named[name]; ok {
		return l
	}
	l := root.Named(name)
	named[name] = l
	return l
}

// SetLevel adjusts the root logger's level; used by cmd/snapctl to turn
// on debug output with -v.
func SetLevel(level hclog.Level) {
	root.SetLevel(level)
}
