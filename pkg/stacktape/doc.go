// Package stacktape embeds a continuous sampling profiler in a Go program.
//
// A Session samples the stacks of every goroutine at a fixed cadence and
// reconstructs the function calls that ran, with their start and duration.
// A second loop records process and system resource usage. Messages logged
// through the session (or through a hooked zerolog logger, a wrapped writer
// or, optionally, stdout) are kept as markers with the stack that emitted
// them. When the session stops, the recording is compressed and written to
// storage, and a viewer can be notified.
//
// Basic integration:
//
//	import "github.com/coral-mesh/stacktape/pkg/stacktape"
//
//	func main() {
//	    session := stacktape.New(stacktape.Options{})
//	    defer session.Shutdown()
//
//	    if err := session.Start("my-app"); err != nil {
//	        log.Printf("profiling disabled: %v", err)
//	    }
//
//	    session.Info("loading", len(items), "items")
//	    done := session.Span("import", "items", len(items))
//	    importItems(items)
//	    done()
//	}
//
// The scoped form starts and stops around a function:
//
//	err := session.Enabled("my-app", run)
//
// Configuration comes from ~/.stacktape/config.yaml (or the file named by
// STACKTAPE_CONFIG) and STACKTAPE_* environment variables. Setting
// STACKTAPE_DISABLE=true turns every session into a no-op.
//
// Child processes started while a session runs inherit STACKTAPE_ID as
// their STACKTAPE_PARENT_ID, linking their recordings to the parent's.
package stacktape
