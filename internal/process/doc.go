// Package process runs and supervises shell commands on behalf of an agent.
//
// The package offers three levels of abstraction:
//
// Handle wraps os/exec for a single spawned process:
//   - Every process leads its own process group
//   - Exactly one reaper; exit code and signal shared through Done
//
// Registry tracks handles by id:
//   - Per-session grouping, killed when a session terminates
//   - Graceful-then-forceful tree kills with a configurable grace window
//   - Entries removed exactly once, on exit or after a kill
//
// Pool hands out host terminals and runs an Execution in them:
//   - Terminals reused by task and current directory
//   - Merged output, throttled line notifications and polling cursor
//   - Idempotent abort that also reaches detached background children
//
// Example usage with Pool:
//
//	reg := process.NewRegistry(process.RegistryOptions{})
//	defer reg.Close()
//	pool := process.NewPool(&process.PoolOptions{Registry: reg})
//	exec, err := pool.Run("/src/app", "task-1", "go test ./...")
//	if err != nil {
//	    return err
//	}
//	res := exec.Wait()
//	fmt.Println(res.ExitCode, exec.Output())
package process
