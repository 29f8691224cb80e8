// Package process runs one emulator instance as a child process.
//
// A Runner starts its process once, captures stdout/stderr line by line into
// the logger, and reports the exit through OnExit and Done. It never
// restarts: a crashed emulator shows up as an offline device and the
// developer decides whether to launch it again.
//
// Example usage:
//
//	r := process.New(process.Config{
//	    Name:   "Pixel_9_API_35",
//	    Binary: "/opt/android/emulator/emulator",
//	    Args:   []string{"-avd", "Pixel_9_API_35", "-no-snapshot-load"},
//	})
//	if err := r.Start(ctx); err != nil {
//	    return err
//	}
//	defer r.Stop()
package process
