/*
Demo application driving the strata rendering core with the testbed scene.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/stratagfx/strata/engine"
	"github.com/stratagfx/strata/testbed"
)

func main() {
	scene := testbed.NewScene()

	eng, err := engine.New(scene, "strata.toml")
	if err != nil {
		panic(err)
	}

	if err := eng.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		_ = eng.Shutdown()
	}()

	if err := eng.Run(); err != nil {
		panic(err)
	}
}
