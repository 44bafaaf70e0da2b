// cmd/foundry/main.go
//
// This is the entry point for the foundry CLI.
// Every pipeline process is a subcommand of the same binary:
//
//	foundry init                      create .foundry/ in the project
//	foundry ingest -id ... -title ... queue a raw signal
//	foundry worker -agent writer -- ./agents/writer.sh
//	foundry orchestrate               sweep loop, reaper and HTTP bridge
//	foundry serve                     HTTP bridge only
//	foundry status                    dashboard (plain text when piped)
//	foundry clusters | tasks | reap   one-shot inspection and repair

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

func commands() []command {
	return []command{
		{"init", "create the .foundry directory and default config", runInit},
		{"ingest", "queue a signal for analysis", runIngest},
		{"worker", "run an agent watcher around a command", runWorker},
		{"orchestrate", "run the pipeline sweep, lease reaper and bridge", runOrchestrate},
		{"serve", "run only the HTTP signal bridge", runServe},
		{"status", "show queue, corpus and journal state", runStatus},
		{"clusters", "list corpus clusters", runClusters},
		{"tasks", "list tasks by status", runTasks},
		{"reap", "requeue tasks whose lease expired", runReap},
		{"mode", "show or set the pipeline mode", runMode},
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	for _, cmd := range commands() {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(os.Args[2:]); err != nil {
			die("%s: %v", name, err)
		}
		return
	}
	usage()
	die("unknown command %q", name)
}

func usage() {
	var b strings.Builder
	b.WriteString("usage: foundry <command> [flags]\n\ncommands:\n")
	for _, cmd := range commands() {
		fmt.Fprintf(&b, "  %-12s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprint(os.Stderr, b.String())
}

// newFlagSet returns a flag set carrying the shared -project flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	project := fs.String("project", "", "path to the project directory (defaults to cwd)")
	return fs, project
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
