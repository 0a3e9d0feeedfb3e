// Package preflight provides startup validation checks for bench runs.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so process limits are read from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks for a run that may hold maxJobs
// children in flight at once.
func RunAll(maxJobs int, workerPath string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	for _, c := range []Check{
		checkFileDescriptors(maxJobs),
		checkProcessLimit(maxJobs),
		checkWorkerBinary(workerPath),
		checkShell(),
	} {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	return result
}

// checkFileDescriptors verifies sufficient descriptors are available.
// Every in-flight job holds two pipe ends in the worker, plus the
// worker's fixed descriptors and the bench's own overhead.
func checkFileDescriptors(maxJobs int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	required := maxJobs*2 + 64
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d jobs)", actual, required, maxJobs),
	}
}

// checkProcessLimit verifies sufficient process slots: one child (in
// its own process group, possibly with grandchildren) per job.
func checkProcessLimit(maxJobs int) Check {
	required := maxJobs + 50

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[3] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[3], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkWorkerBinary verifies the worker binary exists and reports a
// version.
func checkWorkerBinary(path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "worker_binary",
			Passed:  false,
			Message: fmt.Sprintf("not found: %s: %v", path, err),
		}
	}

	version := "unknown"
	if out, err := exec.Command(resolved, "-version").Output(); err == nil {
		// "go-exec-worker 1.0.0"
		fields := strings.Fields(strings.TrimSpace(string(out)))
		if len(fields) >= 2 {
			version = fields[1]
		}
	}

	return Check{
		Name:    "worker_binary",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", resolved, version),
	}
}

// checkShell verifies /bin/sh exists; command lines with shell
// metacharacters run through it.
func checkShell() Check {
	if _, err := os.Stat("/bin/sh"); err != nil {
		return Check{
			Name:    "shell",
			Passed:  false,
			Message: fmt.Sprintf("/bin/sh: %v", err),
		}
	}
	return Check{
		Name:    "shell",
		Passed:  true,
		Message: "/bin/sh present",
	}
}
