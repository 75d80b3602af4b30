package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vidgen/pkg/client"
)

var rootCmd = &cobra.Command{
	Use:   "genctl",
	Short: "Operate a vidgen engine",
	Long: `genctl submits video briefs to a running engine and inspects its state.
- Jobs: submit, status, list, cancel.
- Providers: list the fallback chain, enable or disable entries, reload the engine file (admin token required).
- Reporting: budget windows, the event stream and per-provider stats.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GENCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080", "engine base URL")
	rootCmd.PersistentFlags().String("admin-token", "", "bearer token for provider administration")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "per-request timeout")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("admin-token", rootCmd.PersistentFlags().Lookup("admin-token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newClient() *client.Client {
	c := client.New(viper.GetString("server"))
	c.AdminToken = viper.GetString("admin-token")
	if t := viper.GetDuration("timeout"); t > 0 {
		c.Timeout = t
	}
	return c
}

func submitCmd() *cobra.Command {
	var (
		b    client.Brief
		wait bool
		poll time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a video brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Prompt = args[0]
			c := newClient()
			id, err := c.Submit(cmd.Context(), b)
			if err != nil {
				return err
			}
			if !wait {
				if viper.GetBool("json") {
					return printJSON(map[string]string{"job_id": id})
				}
				fmt.Println(id)
				return nil
			}
			job, err := c.Wait(cmd.Context(), id, poll)
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
	cmd.Flags().StringVar(&b.Platform, "platform", "", "target platform profile")
	cmd.Flags().IntVar(&b.DurationSeconds, "duration", 15, "duration in seconds")
	cmd.Flags().StringVar(&b.Style, "style", "", "style hint")
	cmd.Flags().StringVar(&b.Priority, "priority", "normal", "low|normal|high|urgent")
	cmd.Flags().StringVar(&b.MaxCost, "max-cost", "", "per-job budget in USD")
	cmd.Flags().StringVar(&b.AspectRatio, "aspect", "", "aspect ratio override")
	cmd.Flags().StringVar(&b.Resolution, "resolution", "", "resolution override")
	cmd.Flags().StringVar(&b.SourceImageURL, "image", "", "source image URL to animate")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job resolves")
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "status poll interval with --wait")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
}

func listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := newClient().Jobs(cmd.Context(), status)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(jobs)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Platform", "Attempts", "Cost", "Provider"})
			for _, j := range jobs {
				provider := ""
				if j.Artifact != nil {
					provider = j.Artifact.Provider
				}
				tw.AppendRow(table.Row{j.ID, j.Status, j.Priority, j.Brief.Platform, fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts), j.TotalCost, provider})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (queued|running|retry_wait|succeeded|failed|cancelled)")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := newClient().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(job)
		},
	}
}

func providersCmd() *cobra.Command {
	prv := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and administer the provider chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := newClient().Providers(cmd.Context())
			if err != nil {
				return err
			}
			return printChain(ch)
		},
	}
	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <provider-id>",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a provider",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ch, err := newClient().SetEnabled(cmd.Context(), args[0], enabled)
				if err != nil {
					return err
				}
				return printChain(ch)
			},
		}
	}
	prv.AddCommand(toggle("enable", true), toggle("disable", false))
	prv.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Re-read the engine provider file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := newClient().Reload(cmd.Context())
			if err != nil {
				return err
			}
			return printChain(ch)
		},
	})
	return prv
}

func budgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "budget",
		Short: "Show budget windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newClient().Budget(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(b)
			}
			tw := newTable()
			tw.SetTitle("tolerance " + b.Tolerance)
			tw.AppendHeader(table.Row{"Scope", "Key", "Period start", "Limit", "Spent", "Reserved"})
			for _, w := range b.Windows {
				tw.AppendRow(table.Row{w.Scope, w.Key, w.PeriodStart.Format(time.RFC3339), w.Limit, w.Spent, w.Reserved})
			}
			tw.Render()
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	var (
		since  int64
		limit  int
		follow bool
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			for {
				page, err := c.Events(cmd.Context(), since, limit)
				if err != nil {
					return err
				}
				if err := printEvents(page.Items); err != nil {
					return err
				}
				if page.LastSeq > since {
					since = page.LastSeq
				}
				if !follow {
					return nil
				}
				if err := sleep(cmd.Context(), every); err != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "max events per page")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	cmd.Flags().DurationVar(&every, "interval", 2*time.Second, "poll interval with --follow")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Per-provider attempt statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newClient().ProviderStats(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(stats)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Provider", "Attempts", "Succeeded", "Failed", "Timed out", "Skipped", "Cost", "Success"})
			for _, s := range stats {
				tw.AppendRow(table.Row{s.Provider, s.Attempts, s.Succeeded, s.Failed, s.TimedOut, s.Skipped, s.TotalCost, fmt.Sprintf("%.0f%%", s.SuccessRate*100)})
			}
			tw.Render()
			return nil
		},
	}
}

func printJob(job client.Job) error {
	if viper.GetBool("json") {
		return printJSON(job)
	}
	tw := newTable()
	tw.SetTitle(job.ID)
	tw.AppendRow(table.Row{"Status", job.Status})
	tw.AppendRow(table.Row{"Priority", job.Priority})
	tw.AppendRow(table.Row{"Platform", job.Brief.Platform})
	tw.AppendRow(table.Row{"Attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts)})
	tw.AppendRow(table.Row{"Total cost", job.TotalCost})
	if job.Error != "" {
		tw.AppendRow(table.Row{"Error", job.ErrorKind + ": " + job.Error})
	}
	if a := job.Artifact; a != nil {
		tw.AppendRow(table.Row{"Provider", a.Provider})
		tw.AppendRow(table.Row{"URL", a.URL})
		tw.AppendRow(table.Row{"Size", fmt.Sprintf("%dx%d %s", a.Width, a.Height, a.Format)})
		if len(a.Corrections) > 0 {
			tw.AppendRow(table.Row{"Corrections", strings.Join(a.Corrections, ", ")})
		}
	}
	tw.Render()

	if len(job.History) > 0 {
		hist := newTable()
		hist.AppendHeader(table.Row{"Provider", "Status", "Estimated", "Charged", "Error"})
		for _, a := range job.History {
			hist.AppendRow(table.Row{a.Provider, a.Status, a.Estimated, a.Charged, a.Error})
		}
		hist.Render()
	}
	return nil
}

func printChain(ch client.Chain) error {
	if viper.GetBool("json") {
		return printJSON(ch)
	}
	tw := newTable()
	tw.SetTitle(fmt.Sprintf("chain v%d", ch.Version))
	tw.AppendHeader(table.Row{"#", "ID", "Kind", "Enabled", "Cost", "RPM left", "Max s", "Image"})
	for i, p := range ch.Providers {
		rpm := "-"
		if p.RateLimit.Limit > 0 {
			rpm = fmt.Sprintf("%d/%d", p.RateLimit.Remaining, p.RateLimit.Limit)
		}
		tw.AppendRow(table.Row{i + 1, p.ID, p.Kind, p.Enabled, p.CostPerUnit + "/" + p.CostUnit, rpm, p.MaxDurationSeconds, p.ImageToVideo})
	}
	tw.Render()
	return nil
}

func printEvents(items []client.Event) error {
	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range items {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range items {
		fmt.Printf("%6d  %s  %-16s  job=%s provider=%s status=%s cost=%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Kind, e.JobID, e.Provider, e.Status, e.Cost)
	}
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
