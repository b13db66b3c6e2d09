package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/flowgate/flowgate/internal/auth"
	"github.com/flowgate/flowgate/internal/config"
	"github.com/flowgate/flowgate/internal/controller"
	"github.com/flowgate/flowgate/internal/watch"
)

const version = "1.0.0"

const defaultConfig = "workflow.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		runStatus(os.Args[2:])
	case "next":
		runNext(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "uncheck":
		runUncheck(os.Args[2:])
	case "set":
		runSet(os.Args[2:])
	case "review":
		runReview(os.Args[2:])
	case "track":
		runTrack(os.Args[2:])
	case "phase":
		runPhase(os.Args[2:])
	case "secret-generate":
		runSecretGenerate(os.Args[2:])
	case "version":
		fmt.Printf("flowgate %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: flowgate <command> [options]

commands:
  status            show the current stage and checklist
  next <target>     transition to the target stage
  check <n...>      mark checklist items by index
  uncheck <n...>    clear checklist items by index
  set <stage>       jump directly to a stage
  review <agent>    record a sub-agent review
  track <cmd>       create | list | switch | join | delete
  phase <cmd>       add | remove | list | graph
  secret-generate   create the approval token
  version           print version
`)
}

// newController loads the config and builds the controller, exiting on
// any setup failure.
func newController(configPath string) *controller.Controller {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	ctrl, err := controller.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return ctrl
}

func emit(out string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
	if strings.HasPrefix(out, "error:") {
		os.Exit(1)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	track := fs.String("track", "", "target track")
	watchMode := fs.Bool("watch", false, "re-render on state file changes")
	fs.Parse(args)

	ctrl := newController(*configPath)
	out, err := ctrl.Status(*track)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)

	if !*watchMode {
		return
	}

	cfg, _ := config.Load(*configPath)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := watch.New(cfg.StateFile, func() {
		// Reload from scratch so changes made by other processes show up.
		ctrl := newController(*configPath)
		out, err := ctrl.Status(*track)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		fmt.Println("\n" + out)
	})
	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runNext(args []string) {
	fs := flag.NewFlagSet("next", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	force := fs.Bool("force", false, "bypass failed conditions")
	reason := fs.String("reason", "", "justification for --force")
	track := fs.String("track", "", "target track")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowgate next [options] <target-stage>")
		os.Exit(1)
	}

	ctrl := newController(*configPath)
	emit(ctrl.NextStage(fs.Arg(0), *force, *reason, *track))
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	token := fs.String("token", "", "approval token for [USER-APPROVE] items")
	evidence := fs.String("evidence", "", "evidence note to attach")
	track := fs.String("track", "", "target track")
	fs.Parse(args)

	indices, err := parseIndices(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctrl := newController(*configPath)
	emit(ctrl.Check(indices, *token, *evidence, *track))
}

func runUncheck(args []string) {
	fs := flag.NewFlagSet("uncheck", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	track := fs.String("track", "", "target track")
	fs.Parse(args)

	indices, err := parseIndices(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctrl := newController(*configPath)
	emit(ctrl.Uncheck(indices, *track))
}

func runSet(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	module := fs.String("module", "", "active module name")
	force := fs.Bool("force", false, "bypass the phase graph safeguard")
	token := fs.String("token", "", "approval token required with --force")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowgate set [options] <stage>")
		os.Exit(1)
	}

	ctrl := newController(*configPath)
	emit(ctrl.SetStage(fs.Arg(0), *module, *force, *token))
}

func runReview(args []string) {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	summary := fs.String("summary", "", "review summary")
	track := fs.String("track", "", "target track")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowgate review [options] <agent>")
		os.Exit(1)
	}

	ctrl := newController(*configPath)
	emit(ctrl.RecordReview(fs.Arg(0), *summary, *track))
}

func runTrack(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowgate track <create|list|switch|join|delete> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("track create", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		label := fs.String("label", "", "human-readable label")
		module := fs.String("module", "", "module the track works on")
		stage := fs.String("stage", "", "starting stage (default: first stage)")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: flowgate track create [options] <id>")
			os.Exit(1)
		}
		ctrl := newController(*configPath)
		emit(ctrl.TrackCreate(fs.Arg(0), *label, *module, *stage))
	case "list":
		fs := flag.NewFlagSet("track list", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		ctrl := newController(*configPath)
		emit(ctrl.TrackList())
	case "switch":
		fs := flag.NewFlagSet("track switch", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: flowgate track switch <id>")
			os.Exit(1)
		}
		ctrl := newController(*configPath)
		emit(ctrl.TrackSwitch(fs.Arg(0)))
	case "join":
		fs := flag.NewFlagSet("track join", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		ctrl := newController(*configPath)
		emit(ctrl.TrackJoin())
	case "delete":
		fs := flag.NewFlagSet("track delete", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: flowgate track delete <id>")
			os.Exit(1)
		}
		ctrl := newController(*configPath)
		emit(ctrl.TrackDelete(fs.Arg(0)))
	default:
		fmt.Fprintf(os.Stderr, "unknown track subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: flowgate track <create|list|switch|join|delete> [options]")
		os.Exit(1)
	}
}

func runPhase(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: flowgate phase <add|remove|list|graph> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("phase add", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		label := fs.String("label", "", "human-readable label")
		module := fs.String("module", "", "module the phase targets")
		deps := fs.String("depends-on", "", "comma-separated dependency phase IDs")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: flowgate phase add [options] <id>")
			os.Exit(1)
		}
		var dependsOn []string
		if *deps != "" {
			for _, d := range strings.Split(*deps, ",") {
				dependsOn = append(dependsOn, strings.TrimSpace(d))
			}
		}
		ctrl := newController(*configPath)
		emit(ctrl.PhaseAdd(fs.Arg(0), *label, *module, dependsOn))
	case "remove":
		fs := flag.NewFlagSet("phase remove", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "usage: flowgate phase remove <id>")
			os.Exit(1)
		}
		ctrl := newController(*configPath)
		emit(ctrl.PhaseRemove(fs.Arg(0)))
	case "list":
		fs := flag.NewFlagSet("phase list", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		ctrl := newController(*configPath)
		emit(ctrl.PhaseList())
	case "graph":
		fs := flag.NewFlagSet("phase graph", flag.ExitOnError)
		configPath := fs.String("config", defaultConfig, "config file path")
		fs.Parse(args[1:])
		ctrl := newController(*configPath)
		emit(ctrl.PhaseGraphView())
	default:
		fmt.Fprintf(os.Stderr, "unknown phase subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: flowgate phase <add|remove|list|graph> [options]")
		os.Exit(1)
	}
}

func runSecretGenerate(args []string) {
	fs := flag.NewFlagSet("secret-generate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate token: %v\n", err)
		os.Exit(1)
	}
	token := hex.EncodeToString(buf)

	if err := auth.SaveSecret(cfg.SecretFile, token); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("token: %s\n", token)
	fmt.Println("store it somewhere safe; only its hash is kept on disk")
}

func parseIndices(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one checklist index is required")
	}
	indices := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q", a)
		}
		indices = append(indices, n)
	}
	return indices, nil
}
