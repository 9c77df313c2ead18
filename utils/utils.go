package utils

import (
	log "github.com/sirupsen/logrus"
	"runtime/debug"
)

// Recoverer runs f and restarts it after a panic, at most maxPanics times.
// Once the budget is spent the panic propagates.
func Recoverer(maxPanics int, name string, f func()) {
	defer func() {
		if err := recover(); err != nil {
			log.WithField("task", name).Errorf("Task panicked: %v\n%s", err, debug.Stack())
			if maxPanics == 0 {
				panic(err)
			}
			go Recoverer(maxPanics-1, name, f)
		}
	}()
	f()
}
