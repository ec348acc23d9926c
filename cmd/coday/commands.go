package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/coday/internal/config"
	"github.com/haasonsaas/coday/internal/events"
	"github.com/haasonsaas/coday/internal/model"
	"github.com/haasonsaas/coday/internal/scheduler"
	"github.com/haasonsaas/coday/internal/session"
	"github.com/haasonsaas/coday/internal/thread"
	"github.com/haasonsaas/coday/pkg/models"
)

// loadCredentials merges user.yml provider keys with environment
// variables; the environment wins.
func loadCredentials(configDir string) (map[string]model.Credentials, error) {
	userCfg, err := config.LoadUser(configDir)
	if err != nil {
		return nil, err
	}
	creds := make(map[string]model.Credentials)
	for provider, pc := range userCfg.Providers {
		creds[provider] = model.Credentials{APIKey: pc.APIKey, BaseURL: pc.BaseURL}
	}
	for provider, env := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	} {
		if key := os.Getenv(env); key != "" {
			c := creds[provider]
			c.APIKey = key
			creds[provider] = c
		}
	}
	return creds, nil
}

func resolveProject(projectFlag, nameFlag string) (name, root string, err error) {
	root, err = filepath.Abs(projectFlag)
	if err != nil {
		return "", "", err
	}
	name = nameFlag
	if name == "" {
		name = filepath.Base(root)
	}
	return name, root, nil
}

func buildRunCmd() *cobra.Command {
	var projectFlag, nameFlag string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session",
		Long: `Starts a conversational session on a project. Submissions route to
the thread's current agent; address another agent with "name, ...".

Commands: /new, /threads, /thread <id>, /chain <name> [arg], /stop, /exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, root, err := resolveProject(projectFlag, nameFlag)
			if err != nil {
				return err
			}
			configDir := defaultConfigDir()
			creds, err := loadCredentials(configDir)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			bus.StartHeartbeat(0)
			s := session.New(bus, configDir, creds)
			defer s.Close()

			ctx := cmd.Context()
			if err := s.SelectProject(ctx, name, root); err != nil {
				return err
			}

			cfg, err := config.LoadProject(root)
			if err != nil {
				return err
			}
			if len(cfg.Scheduled) > 0 {
				sched := scheduler.New(s)
				if err := sched.Configure(cfg.Scheduled); err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			ch, history, unsubscribe := bus.Subscribe()
			defer unsubscribe()
			go renderEvents(os.Stdout, ch, history)

			// First Ctrl-C stops the run; a second within two seconds exits.
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				var lastStop time.Time
				for {
					select {
					case <-sigs:
						if time.Since(lastStop) < 2*time.Second {
							close(done)
							return
						}
						lastStop = time.Now()
						s.Stop()
					case <-done:
						return
					}
				}
			}()

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			for {
				select {
				case <-done:
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if exit, err := handleLine(ctx, s, line); exit {
						return nil
					} else if err != nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", ".", "Project root directory")
	cmd.Flags().StringVar(&nameFlag, "name", "", "Project name (default: directory name)")
	return cmd
}

func handleLine(ctx context.Context, s *session.Session, line string) (exit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/exit" || line == "/quit":
		return true, nil
	case line == "/stop":
		s.Stop()
		return false, nil
	case line == "/new":
		_, err := s.NewThread()
		return false, err
	case line == "/threads":
		sums, err := s.Threads(ctx)
		if err != nil {
			return false, err
		}
		for _, sum := range sums {
			name := sum.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%s  %s  (%d entries, %s)\n",
				sum.ID, name, sum.EntryCount, sum.ModifiedAt.Local().Format(time.RFC3339))
		}
		return false, nil
	case strings.HasPrefix(line, "/thread "):
		return false, s.SelectThread(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/thread ")))
	case strings.HasPrefix(line, "/chain "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "/chain "))
		name, arg, _ := strings.Cut(rest, " ")
		return false, s.RunChain(name, strings.TrimSpace(arg))
	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %q", line)
	default:
		return false, s.Submit(line)
	}
}

func buildPromptCmd() *cobra.Command {
	var projectFlag, nameFlag string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Run a single prompt headlessly and print the final answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, root, err := resolveProject(projectFlag, nameFlag)
			if err != nil {
				return err
			}
			configDir := defaultConfigDir()
			creds, err := loadCredentials(configDir)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			s := session.New(bus, configDir, creds)
			defer s.Close()

			if err := s.SelectProject(cmd.Context(), name, root); err != nil {
				return err
			}

			ch, _, unsubscribe := bus.Subscribe()
			defer unsubscribe()

			if err := s.Submit(args[0]); err != nil {
				return err
			}

			deadline := time.After(timeout)
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return fmt.Errorf("event stream closed")
					}
					switch ev.Kind {
					case models.EventMessage:
						if ev.Role == models.RoleAssistant {
							fmt.Println(ev.PlainText())
							return nil
						}
					case models.EventError:
						return fmt.Errorf("%s", ev.Message)
					}
				case <-deadline:
					s.Stop()
					return fmt.Errorf("timed out after %s", timeout)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", ".", "Project root directory")
	cmd.Flags().StringVar(&nameFlag, "name", "", "Project name (default: directory name)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Abort after this long")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	var projectFlag string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(projectFlag)
			if err != nil {
				return err
			}
			cfg, err := config.LoadProject(root)
			if err != nil {
				return err
			}
			fmt.Printf("%s: OK (%d agents, %d prompt chains, %d mcp servers, %d scheduled runs)\n",
				filepath.Join(root, config.ProjectFileName),
				len(cfg.Agents), len(cfg.PromptChains), len(cfg.MCPServers), len(cfg.Scheduled))
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", ".", "Project root directory")
	return cmd
}

func buildThreadsCmd() *cobra.Command {
	var projectFlag, nameFlag string
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List saved threads for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _, err := resolveProject(projectFlag, nameFlag)
			if err != nil {
				return err
			}
			store, err := thread.NewFileStore(
				filepath.Join(defaultConfigDir(), "projects", name, "threads"))
			if err != nil {
				return err
			}
			sums, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sums) == 0 {
				fmt.Println("no saved threads")
				return nil
			}
			for _, sum := range sums {
				threadName := sum.Name
				if threadName == "" {
					threadName = "(unnamed)"
				}
				fmt.Printf("%s  %-40s  %d entries  %s\n",
					sum.ID, threadName, sum.EntryCount, sum.ModifiedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", ".", "Project root directory")
	cmd.Flags().StringVar(&nameFlag, "name", "", "Project name (default: directory name)")
	return cmd
}

func buildScheduleCmd() *cobra.Command {
	var projectFlag string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show configured scheduled runs and their next fire times",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(projectFlag)
			if err != nil {
				return err
			}
			cfg, err := config.LoadProject(root)
			if err != nil {
				return err
			}
			if len(cfg.Scheduled) == 0 {
				fmt.Println("no scheduled runs")
				return nil
			}
			now := time.Now()
			for _, run := range cfg.Scheduled {
				next, err := scheduler.NextAfter(run.Cron, now)
				if err != nil {
					return err
				}
				agentName := run.Agent
				if agentName == "" {
					agentName = "(default)"
				}
				fmt.Printf("%-20s %-16s %-12s next %s  %q\n",
					run.ID, run.Cron, agentName, next.Format(time.RFC3339), run.Prompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", ".", "Project root directory")
	return cmd
}
