package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/punchliner/api/internal/cache"
	"github.com/punchliner/api/internal/logger"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/orchestrator"
	"github.com/punchliner/api/internal/apiclient"
)

type globalFlags struct {
	server  string
	token   string
	verbose bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "punchliner",
		Short:         "Request and follow Punchliner generations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flags.server, "server", envOr("PUNCHLINER_SERVER", "http://localhost:8000"), "API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("PUNCHLINER_TOKEN"), "bearer token")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log requests")

	root.AddCommand(
		requestCmd(flags, false),
		requestCmd(flags, true),
		statusCmd(flags),
		cancelCmd(flags),
	)

	return root
}

func (f *globalFlags) client() *apiclient.Client {
	return apiclient.New(f.server, apiclient.WithToken(f.token))
}

func (f *globalFlags) logger() zerolog.Logger {
	level := "warn"
	if f.verbose {
		level = "debug"
	}
	return logger.NewWithWriter(os.Stderr, "development", level)
}

type requestFlags struct {
	kind     string
	style    string
	link     string
	imageURL string
	timeout  time.Duration
	asJSON   bool
}

// requestCmd builds "request" or, with fresh set, "retry". Both follow the
// task until it finishes and print the artifact URL.
func requestCmd(g *globalFlags, fresh bool) *cobra.Command {
	rf := &requestFlags{}

	use, short := "request <content>", "Generate an artifact for a joke"
	if fresh {
		use, short = "retry <content>", "Generate again, ignoring cached results"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := model.Kind(rf.kind)
			if !kind.Valid() {
				return fmt.Errorf("unknown kind %q", rf.kind)
			}

			params := map[string]string{model.ParamContent: args[0]}
			if rf.style != "" {
				params[model.ParamStyle] = rf.style
			}
			if rf.link != "" {
				params[model.ParamLink] = rf.link
			}
			if rf.imageURL != "" {
				params[model.ParamImageURL] = rf.imageURL
			}
			req := model.NewGenerationRequest(kind, params)

			ctx, cancel := context.WithTimeout(cmd.Context(), rf.timeout)
			defer cancel()

			api := g.client()
			var launcher orchestrator.Launcher = api
			if fresh {
				launcher = api.Fresh()
			}

			log := g.logger()
			caches := map[model.Kind]cache.ArtifactCache{
				kind: cache.NewMemory(time.Hour, 16, 0, log),
			}
			orch := orchestrator.New(caches, launcher, log, nil)

			out := cmd.OutOrStdout()
			observe := progressPrinter(cmd.ErrOrStderr())

			var (
				res *orchestrator.Result
				err error
			)
			if fresh {
				res, err = orch.Retry(ctx, req, observe)
			} else {
				res, err = orch.RequestArtifact(ctx, req, observe)
			}
			if err != nil {
				return err
			}

			if rf.asJSON {
				return json.NewEncoder(out).Encode(res)
			}
			fmt.Fprintln(out, res.URL)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rf.kind, "kind", "k", string(model.KindImage), "image, video or shareCard")
	cmd.Flags().StringVar(&rf.style, "style", "", "image style")
	cmd.Flags().StringVar(&rf.link, "link", "", "share card target link")
	cmd.Flags().StringVar(&rf.imageURL, "image-url", "", "source image for videos")
	cmd.Flags().DurationVar(&rf.timeout, "timeout", 6*time.Minute, "give up after")
	cmd.Flags().BoolVar(&rf.asJSON, "json", false, "print the result as JSON")

	return cmd
}

func statusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <taskId>",
		Short: "Show the state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := g.client().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}
}

func cancelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <taskId>",
		Short: "Cancel a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res.TaskID, res.Status)
			return nil
		},
	}
}

func progressPrinter(w io.Writer) orchestrator.Observer {
	return func(ev model.Event) {
		switch {
		case ev.Cached:
			fmt.Fprintln(w, "cached")
		case ev.Status == model.TaskStatusProcessing:
			fmt.Fprintf(w, "\r%s %3d%%", ev.Status, ev.Progress)
		case ev.Status.IsTerminal():
			fmt.Fprintf(w, "\r%s %3d%%\n", ev.Status, ev.Progress)
		default:
			fmt.Fprintln(w, ev.Status)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
