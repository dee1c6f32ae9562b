// Command gdprctl operates a gdprvault deployment: it runs the retention jobs from
// cron and drives erasure requests by hand.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hengadev/gdprvault"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = map[string]command{
	"init":            {"Write a configuration file with defaults", initCommand},
	"retention-check": {"File erasure requests for patients past retention", retentionCheckCommand},
	"sweep":           {"Execute approved requests whose cooloff has elapsed", sweepCommand},
	"file":            {"File an erasure request", fileCommand},
	"evaluate":        {"Approve or deny a pending request", evaluateCommand},
	"cancel":          {"Cancel an approved request during cooloff", cancelCommand},
	"execute":         {"Anonymize the patient of an approved request", executeCommand},
	"list":            {"List a patient's erasure requests", listCommand},
	"status":          {"Show a patient's retention status", statusCommand},
	"reencrypt":       {"Re-encrypt identities still under an old key version", reencryptCommand},
	"seal":            {"Wrap key material with AWS KMS for the kms secret source", sealCommand},
	"health":          {"Probe the database, key material and execution backlog", healthCommand},
	"version":         {"Show version information", versionCommand},
}

var commandOrder = []string{
	"init", "retention-check", "sweep", "file", "evaluate", "cancel",
	"execute", "list", "status", "reencrypt", "seal", "health", "version",
}

// environment is what every command writes to.
type environment struct {
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	env := &environment{stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
	if err := cmd.run(ctx, env, args[1:]); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return exitCode(err)
	}
	return 0
}

// exitCode lets cron wrappers tell bad input from a refused transition.
func exitCode(err error) int {
	switch {
	case gdprvault.IsValidationError(err), gdprvault.IsTenantScopeError(err):
		return 2
	case gdprvault.IsNotFoundError(err):
		return 3
	case gdprvault.IsConflictError(err), gdprvault.IsNotEligibleError(err):
		return 4
	default:
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: gdprctl <command> [options]\n")
	fmt.Fprintf(w, "\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nRun 'gdprctl <command> -h' for help on a specific command.\n")
}
