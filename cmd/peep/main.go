package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/splax/minivercel/pkg/api/client"
	"github.com/splax/minivercel/pkg/logbus"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
}

var (
	buildVersion = "dev"

	apiBase string
)

var errBuildFailed = errors.New("build failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errBuildFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peep",
		Short:         "Deploy static sites from git",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", "", "API base URL (default $PEEP_API_URL, then config file, then "+apiclient.DefaultBaseURL+")")
	root.AddCommand(newDeployCmd(), newLogsCmd(), newStatusCmd(), newHistoryCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func newDeployCmd() *cobra.Command {
	var (
		slug     string
		noFollow bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <git-url>",
		Short: "Queue a build and follow its logs",
		Long: `Queue a build of a public git repository and stream its logs until
the build succeeds or fails. The command exits non-zero when the build fails.

Examples:
  peep deploy https://github.com/acme/site.git
  peep deploy https://github.com/acme/site.git --slug acme-site`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())

			submitCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			sub, err := client.Submit(submitCtx, args[0], slug)
			cancel()
			if err != nil {
				return err
			}
			out.line("🚀", styleInfo, fmt.Sprintf("queued %s", sub.ProjectSlug))
			out.line("🔗", styleInfo, sub.URL)
			if noFollow {
				return nil
			}
			return follow(cmd.Context(), client, out, sub.ProjectSlug, sub.URL)
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "project slug (generated when empty)")
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "return after queueing")
	return cmd
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <slug>",
		Short: "Follow build logs of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return follow(cmd.Context(), client, newPrinter(cmd.OutOrStdout()), args[0], "")
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <slug>",
		Short: "Show the latest deployment of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			dep, err := client.Latest(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "project:  %s\n", dep.ProjectID)
			fmt.Fprintf(w, "status:   %s\n", dep.Status)
			fmt.Fprintf(w, "phase:    %s\n", dep.Phase)
			fmt.Fprintf(w, "url:      %s\n", dep.URL)
			fmt.Fprintf(w, "started:  %s\n", dep.StartedAt.Format(time.RFC3339))
			if dep.CompletedAt != nil {
				fmt.Fprintf(w, "finished: %s\n", dep.CompletedAt.Format(time.RFC3339))
			}
			if dep.Message != "" {
				fmt.Fprintf(w, "message:  %s\n", dep.Message)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <slug>",
		Short: "List recent deployments of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			deployments, err := client.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, dep := range deployments {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", dep.ID, dep.Status, dep.Phase, dep.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of deployments")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config <api-url>",
		Short: "Save the default API base URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.APIBaseURL = strings.TrimSpace(args[0])
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "api base url set to %s\n", cfg.APIBaseURL)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(buildVersion))
		},
	}
}

func follow(ctx context.Context, client *apiclient.Client, out *printer, projectID, siteURL string) error {
	final, err := client.FollowLogs(ctx, projectID, func(f apiclient.Frame) {
		switch {
		case f.Log == nil:
			out.line("·", styleHint, f.Data)
		case f.Log.Status == logbus.StatusFailure:
			out.line("✖", styleError, f.Log.Text)
			if f.Log.Detail != "" {
				out.line(" ", styleHint, f.Log.Detail)
			}
		case f.Log.Status == logbus.StatusSuccess:
			out.line("✔", styleSuccess, f.Log.Text)
		default:
			out.line("›", stylePlain, f.Log.Text)
		}
	})
	if err != nil {
		return err
	}
	if final.Status == logbus.StatusFailure {
		return errBuildFailed
	}
	if siteURL != "" {
		out.line("🌐", styleSuccess, "live at "+siteURL)
	}
	return nil
}

func newClient() (*apiclient.Client, error) {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("PEEP_API_URL"))
	}
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		base = cfg.APIBaseURL
	}
	return apiclient.New(base)
}

var (
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	styleHint    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
	stylePlain   = lipgloss.NewStyle()
)

// printer decorates lines with symbols and colour only on a terminal.
type printer struct {
	w   io.Writer
	tty bool
}

func newPrinter(w io.Writer) *printer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, tty: tty}
}

func (p *printer) line(symbol string, style lipgloss.Style, text string) {
	if !p.tty {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, style.Render(symbol+" "+text))
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "peep", "config.json"), nil
}
