// Command sandbox-client runs one prompt against a sandbox service and
// streams the turn to stdout. It also mints budget tokens for tests and CI.
//
//	sandbox-client [-config sandbox.yaml] [-resume id] "prompt"
//	sandbox-client mint-token -secret s [-turns n] [-cost usd] [-ttl 1h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/localrivet/sandboxsdk/auth"
	"github.com/localrivet/sandboxsdk/client"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "mint-token" {
		if err := mintToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "mint-token: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox-client: %v\n", err)
		if code := client.ErrorCode(err); code != "" {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

// hostInfoArgs is the input of the host_info tool.
type hostInfoArgs struct {
	Field string `json:"field" enum:"os,arch,cpus,hostname" description:"Which host property to report"`
}

// hostInfoTool lets the agent ask about the machine the client runs on.
func hostInfoTool() client.Tool {
	return client.TypedTool("host_info", "Report a property of the client host", func(ctx context.Context, args *hostInfoArgs) (interface{}, error) {
		switch args.Field {
		case "os":
			return runtime.GOOS, nil
		case "arch":
			return runtime.GOARCH, nil
		case "cpus":
			return runtime.NumCPU(), nil
		case "hostname":
			return os.Hostname()
		}
		return nil, fmt.Errorf("unknown field %q", args.Field)
	})
}

func run(args []string) error {
	fs := flag.NewFlagSet("sandbox-client", flag.ContinueOnError)
	configPath := fs.String("config", "", "Config file (.json, .yaml or .toml); defaults to SANDBOX_* environment variables")
	resume := fs.String("resume", "", "Resume an existing session by id")
	model := fs.String("model", "", "Model override")
	secret := fs.String("verify-secret", "", "Verify the token as a budget token signed with this secret before dialing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		return errors.New("a prompt is required")
	}

	var (
		cfg *client.Config
		err error
	)
	if *configPath != "" {
		cfg, err = client.LoadFromFile(*configPath, nil)
	} else {
		cfg, err = client.LoadFromEnv(nil)
	}
	if err != nil {
		return err
	}

	var opts []client.Option
	if *secret != "" {
		opts = append(opts, client.WithTokenVerifier(auth.SecretVerifier{Secret: []byte(*secret)}))
	}
	c, err := client.New(*cfg, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionCfg := client.SessionConfig{Model: *model, Tools: []client.Tool{hostInfoTool()}}
	var s *client.Session
	if *resume != "" {
		s, err = c.ResumeSession(ctx, *resume, sessionCfg)
	} else {
		s, err = c.NewSession(ctx, sessionCfg)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s ready\n", s.ID())

	for ev, err := range s.Stream(ctx, prompt) {
		if err != nil {
			return err
		}
		switch ev.Type {
		case client.EventTextDelta:
			fmt.Print(ev.Text)
		case client.EventToolUse:
			fmt.Fprintf(os.Stderr, "\n[tool_use %s]\n", ev.ToolUse.Name)
		case client.EventToolResult:
			fmt.Fprintf(os.Stderr, "[tool_result %s in %s]\n", ev.ToolCall.ToolName, ev.ToolCall.Duration)
		case client.EventResult:
			fmt.Println()
			fmt.Fprintf(os.Stderr, "turns=%d cost=$%.4f error=%t\n", ev.Result.NumTurns, ev.Result.TotalCostUSD, ev.Result.IsError)
		}
	}
	return s.Close()
}

func mintToken(args []string) error {
	fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("SANDBOX_TOKEN_SECRET"), "HS256 signing secret")
	subject := fs.String("sub", "", "Subject claim")
	turns := fs.Int("turns", 0, "Maximum turns, 0 for unlimited")
	cost := fs.Float64("cost", 0, "Maximum cost in USD, 0 for unlimited")
	session := fs.String("session", "", "Pin the token to a session id")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	claims := auth.BudgetClaims{MaxTurns: *turns, MaxCostUSD: *cost, SessionID: *session}
	claims.Subject = *subject
	token, err := auth.NewBudgetToken([]byte(*secret), claims, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
