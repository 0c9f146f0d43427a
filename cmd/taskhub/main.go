// Command taskhub is the task-queue orchestration service: API server,
// admin dashboard, worker, monitor, and health probe in one binary.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
