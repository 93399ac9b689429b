// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

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

// Config holds the inputs the checks validate.
type Config struct {
	Interpreter string // interpreter command, resolved via PATH
	Helper      string // spawn helper path
	LogFile     string // helper log file path, empty = none
	AppRoot     string // application root directory
}

// RunAll executes all preflight checks.
func RunAll(cfg Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}

	interpCheck := checkInterpreter(cfg.Interpreter)
	result.Checks = append(result.Checks, interpCheck)
	if !interpCheck.Passed {
		result.Passed = false
	}

	helperCheck := checkHelper(cfg.Helper)
	result.Checks = append(result.Checks, helperCheck)
	if !helperCheck.Passed {
		result.Passed = false
	}

	appRootCheck := checkAppRoot(cfg.AppRoot)
	result.Checks = append(result.Checks, appRootCheck)
	if !appRootCheck.Passed {
		result.Passed = false
	}

	if cfg.LogFile != "" {
		logCheck := checkLogFile(cfg.LogFile)
		result.Checks = append(result.Checks, logCheck)
		if !logCheck.Passed {
			result.Passed = false
		}
	}

	// File descriptor headroom (warning only: one helper plus one passed
	// socket per worker is cheap, but a tiny ulimit still bites)
	result.Checks = append(result.Checks, checkFileDescriptors())

	return result
}

// checkInterpreter verifies the interpreter resolves via PATH and runs.
func checkInterpreter(interpreter string) Check {
	path, err := exec.LookPath(interpreter)
	if err != nil {
		return Check{
			Name:    "interpreter",
			Passed:  false,
			Message: fmt.Sprintf("%q not found in PATH: %v", interpreter, err),
		}
	}

	version := interpreterVersion(path)
	return Check{
		Name:    "interpreter",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%s)", path, version),
	}
}

// interpreterVersion runs `interpreter --version` and returns the first line.
func interpreterVersion(path string) string {
	output, err := exec.Command(path, "--version").Output()
	if err != nil {
		return "version unknown"
	}
	lines := strings.SplitN(string(output), "\n", 2)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "version unknown"
	}
	return strings.TrimSpace(lines[0])
}

// checkHelper verifies the spawn helper exists and is a regular file.
func checkHelper(helper string) Check {
	info, err := os.Stat(helper)
	if err != nil {
		return Check{
			Name:    "helper",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", helper, err),
		}
	}
	if info.IsDir() {
		return Check{
			Name:    "helper",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", helper),
		}
	}

	return Check{
		Name:    "helper",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%d bytes)", helper, info.Size()),
	}
}

// checkAppRoot verifies the application root exists and is a directory.
func checkAppRoot(appRoot string) Check {
	info, err := os.Stat(appRoot)
	if err != nil {
		return Check{
			Name:    "app_root",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", appRoot, err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "app_root",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", appRoot),
		}
	}

	return Check{
		Name:    "app_root",
		Passed:  true,
		Message: appRoot,
	}
}

// checkLogFile verifies the helper log file can be opened in append mode.
func checkLogFile(path string) Check {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Check{
			Name:    "log_file",
			Passed:  false,
			Message: fmt.Sprintf("cannot open %s for append: %v", path, err),
		}
	}
	f.Close()

	return Check{
		Name:    "log_file",
		Passed:  true,
		Message: fmt.Sprintf("writable at %s", filepath.Clean(path)),
	}
}

// checkFileDescriptors verifies there is file descriptor headroom.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Channel socketpair, helper log file, metrics listener, plus one
	// passed socket per outstanding worker handle
	required := 256
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   true, // Don't fail on this
		Warning:  actual < required,
		Message:  fmt.Sprintf("ulimit -n %d (recommend %d)", actual, required),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "interpreter":
		return "install the interpreter or pass -interpreter with its command"
	case "helper":
		return "pass -helper with the spawn helper's path"
	case "app_root":
		return "pass -app-root with the application's root directory"
	case "log_file":
		return "pass -log-file with a writable path"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
