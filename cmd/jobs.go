package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/linkkeeper/internal/app"
	"github.com/JakeFAU/linkkeeper/internal/jobs"
)

type runner interface {
	Run(ctx context.Context, opts jobs.Options) (jobs.Summary, error)
}

// jobCommand describes one batch subcommand and the flags it accepts.
type jobCommand struct {
	use     string
	aliases []string
	short   string
	long    string
	pick    func(app.Jobs) runner

	batch  bool
	limit  bool
	dryRun bool
	domain bool
}

func (j jobCommand) build() *cobra.Command {
	var opts jobs.Options
	cmd := &cobra.Command{
		Use:     j.use,
		Aliases: j.aliases,
		Short:   j.short,
		Long:    j.long,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runJob(cmd, appInstance, j.pick(appInstance.Jobs()), opts)
		},
	}
	flags := cmd.Flags()
	if j.batch {
		flags.IntVar(&opts.Limit, "batch", 0, "records per run (0 uses the configured batch size)")
	}
	if j.limit {
		flags.IntVar(&opts.Limit, "limit", 0, "stop after this many records (0 means no limit)")
	}
	if j.dryRun {
		flags.BoolVar(&opts.DryRun, "dry-run", false, "report intended writes without performing them")
	}
	if j.domain {
		flags.StringVar(&opts.Domain, "domain", "", "capture only this domain instead of the priority list")
	}
	return cmd
}

func runJob(cmd *cobra.Command, appInstance App, job runner, opts jobs.Options) error {
	sum, err := job.Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, sum.String())
	for _, action := range sum.Actions {
		fmt.Fprintf(out, "  would %s\n", action)
	}
	if uerr := sum.Err(); uerr != nil {
		hint := appInstance.Config().CapabilityHints()[sum.Unavailable]
		fmt.Fprintf(cmd.ErrOrStderr(), "%v: %s\n", uerr, hint)
	}
	return nil
}

func newProcessQueueCmd() *cobra.Command {
	return jobCommand{
		use:   "process-queue",
		short: "Resolve newly discovered links into link records",
		long: `Claims a batch of discovery queue items, normalizes each URL and
either creates its link record or attaches the citing document to the
existing one. Unparseable URLs are discarded.`,
		pick:  func(j app.Jobs) runner { return j.Drain },
		batch: true,
	}.build()
}

func newCheckLinksCmd() *cobra.Command {
	return jobCommand{
		use:   "check-links",
		short: "Probe the least recently checked links",
		long: `Probes a batch of links, oldest check first, pacing requests per
domain. A link is declared dead after the configured number of consecutive
failures.`,
		pick:  func(j app.Jobs) runner { return j.Health },
		batch: true,
	}.build()
}

func newSubmitArchiveCmd() *cobra.Command {
	return jobCommand{
		use:   "submit-archive",
		short: "Record or request public archive snapshots",
		long: `Looks up the newest public snapshot of each candidate link and
submits the link for capture when the snapshot is missing or stale.
Submission needs archive credentials; without them only lookups run.`,
		pick:   func(j app.Jobs) runner { return j.Archive },
		batch:  true,
		dryRun: true,
	}.build()
}

func newSnapshotCmd() *cobra.Command {
	return jobCommand{
		use:   "snapshot-critical",
		short: "Capture priority domains to self-hosted WARC storage",
		long: `Fetches every live link on the priority domains, writes the response
as a WARC file and uploads it to the configured object store.`,
		pick:   func(j app.Jobs) runner { return j.Snapshot },
		limit:  true,
		domain: true,
	}.build()
}

func newRemediateCmd() *cobra.Command {
	return jobCommand{
		use:   "remediate-dead",
		short: "Patch citations of long-dead links with their archive URL",
		long: `Rewrites citation templates that reference long-dead, archived links
so they carry archive-url, archive-date and url-status=dead. Links that
cannot be patched automatically are listed on the review page. Without
wiki credentials the run is a dry run.`,
		pick:   func(j app.Jobs) runner { return j.Remediate },
		dryRun: true,
	}.build()
}

func newSyncCmd() *cobra.Command {
	return jobCommand{
		use:     "sync-externallinks",
		aliases: []string{"sync"},
		short:   "Queue every external link the wiki knows about",
		long: `Walks the wiki's external link table and queues each http(s) link
that points off the wiki, together with the page that cites it.`,
		pick:  func(j app.Jobs) runner { return j.Sync },
		limit: true,
	}.build()
}
