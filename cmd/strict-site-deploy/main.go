package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-site-deploy/internal/cdn"
	"github.com/yuya-takeyama/strict-site-deploy/internal/cert"
	"github.com/yuya-takeyama/strict-site-deploy/internal/config"
	"github.com/yuya-takeyama/strict-site-deploy/internal/dns"
	"github.com/yuya-takeyama/strict-site-deploy/internal/logging"
	"github.com/yuya-takeyama/strict-site-deploy/internal/orchestrator"
	"github.com/yuya-takeyama/strict-site-deploy/internal/s3client"
	"github.com/yuya-takeyama/strict-site-deploy/internal/syncer"
	"github.com/yuya-takeyama/strict-site-deploy/internal/walker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

type options struct {
	configPath     string
	region         string
	profile        string
	rootDomain     string
	subdomain      string
	source         string
	excludes       []string
	dryRun         bool
	quiet          bool
	verbose        bool
	planJSONFile   string
	resultJSONFile string
	pollInterval   time.Duration
	pollTimeout    time.Duration
	pollForever    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(&options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strict-site-deploy",
		Short: "Provision and sync an S3 + CloudFront static site",
		Long: `strict-site-deploy creates the bucket, certificate, DNS records and
CloudFront distribution of a static site, and keeps the bucket in exact
sync with a local directory using MD5 content hashes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the TOML config file")
	pf.StringVar(&opts.region, "region", "", "AWS region for the bucket")
	pf.StringVar(&opts.profile, "profile", "", "AWS profile to use")
	pf.StringVar(&opts.rootDomain, "root-domain", "", "Route 53 hosted zone of the site (e.g. example.com)")
	pf.StringVar(&opts.subdomain, "subdomain", "", "Site name below the root domain (e.g. www)")
	pf.StringVar(&opts.source, "source", "", "Local directory holding the site")
	pf.StringSliceVar(&opts.excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	pf.BoolVar(&opts.dryRun, "dryrun", false, "Shows operations without executing")
	pf.BoolVar(&opts.quiet, "quiet", false, "Suppress non-error output")
	pf.BoolVar(&opts.verbose, "verbose", false, "Enable debug output")
	pf.StringVar(&opts.planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	pf.StringVar(&opts.resultJSONFile, "result-json-file", "", "Path to output result as JSON file")
	pf.DurationVar(&opts.pollInterval, "poll-interval", 0, "Delay between readiness queries")
	pf.DurationVar(&opts.pollTimeout, "poll-timeout", 0, "Give up waiting on a resource after this long")
	pf.BoolVar(&opts.pollForever, "poll-forever", false, "Wait on resources without a time limit")

	rootCmd.AddCommand(
		newDeployCmd(opts),
		newUndeployCmd(opts),
		newSyncCmd(opts),
		newDeleteFilesCmd(opts),
		newDownloadCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// loadConfig reads the config file and applies the flags the user set.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.Region = o.region
	}
	if flags.Changed("profile") {
		cfg.Profile = o.profile
	}
	if flags.Changed("root-domain") {
		cfg.RootDomain = o.rootDomain
	}
	if flags.Changed("subdomain") {
		cfg.Subdomain = o.subdomain
	}
	if flags.Changed("source") {
		cfg.Source = o.source
	}
	if flags.Changed("exclude") {
		cfg.Excludes = o.excludes
	}
	if flags.Changed("poll-interval") {
		cfg.Poll.Interval = o.pollInterval
	}
	if flags.Changed("poll-timeout") {
		cfg.Poll.Timeout = o.pollTimeout
	}
	if flags.Changed("poll-forever") {
		cfg.Poll.Forever = o.pollForever
	}

	return cfg, nil
}

// app holds the clients shared by all commands.
type app struct {
	cfg    *config.Config
	aws    aws.Config
	log    *logging.Logger
	store  *s3client.Client
	syncer *syncer.Syncer
	dryRun bool
}

func (o *options) newApp(cmd *cobra.Command, needSource bool) (*app, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if needSource {
		err = cfg.ValidateSource()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log := logging.NewLogger(cmd.ErrOrStderr(), cmd.OutOrStdout(), o.quiet, o.verbose)
	store := s3client.NewAWSClient(awsCfg, cfg.PollPolicy())

	return &app{
		cfg:    cfg,
		aws:    awsCfg,
		log:    log,
		store:  store,
		syncer: syncer.New(store, log.With("bucket", cfg.BucketName()), syncer.Options{DryRun: o.dryRun}),
		dryRun: o.dryRun,
	}, nil
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Site{
		Bucket:        a.cfg.BucketName(),
		RootDomain:    a.cfg.RootDomain,
		IndexDocument: a.cfg.IndexDocument,
		PriceClass:    a.cfg.PriceClass,
	}, orchestrator.Deps{
		Buckets:       a.store,
		Certificates:  cert.NewAWSManager(a.aws, a.cfg.PollPolicy()),
		Records:       dns.NewAWSRecords(a.aws, a.cfg.PollPolicy()),
		Distributions: cdn.NewAWSDistributions(a.aws, a.cfg.DistributionPolicy(), a.cfg.Poll.DistributionDelay),
		Cleaner:       a.syncer,
	}, a.log, orchestrator.Options{DryRun: a.dryRun})
}

func newDeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Create every resource of the site, skipping those that exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, false)
			if err != nil {
				return report(cmd, err)
			}
			return report(cmd, a.orchestrator().Deploy(cmd.Context()))
		},
	}
}

func newUndeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy",
		Short: "Delete every resource of the site, including its files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, false)
			if err != nil {
				return report(cmd, err)
			}
			return report(cmd, a.orchestrator().Undeploy(cmd.Context()))
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Make the bucket hold exactly the files of the source directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, true)
			if err != nil {
				return report(cmd, err)
			}
			w, err := walker.NewWalker(a.cfg.Source, a.cfg.Excludes)
			if err != nil {
				return report(cmd, err)
			}
			return report(cmd, opts.runSync(cmd.Context(), a, w))
		},
	}
}

func newDeleteFilesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-files",
		Short: "Delete every file from the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, false)
			if err != nil {
				return report(cmd, err)
			}
			return report(cmd, opts.runSync(cmd.Context(), a, walker.Empty()))
		},
	}
}

// runSync plans, writes the requested reports and applies the plan.
func (o *options) runSync(ctx context.Context, a *app, source syncer.Source) error {
	bucket := a.cfg.BucketName()

	if o.planJSONFile != "" {
		items, err := a.syncer.Plan(ctx, bucket, source)
		if err != nil {
			return fmt.Errorf("failed to generate plan: %w", err)
		}
		if err := syncer.WritePlanResult(o.planJSONFile, syncer.NewPlanResult(bucket, source.Root(), items)); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}

	result, syncErr := a.syncer.Sync(ctx, bucket, source)

	if o.resultJSONFile != "" && !o.dryRun {
		if err := syncer.WriteSyncResult(o.resultJSONFile, syncer.NewSyncResult(result)); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	var failed int64
	if result.Failed != nil {
		failed = 1
	}
	a.log.PrintSummary(result.Uploaded, result.Deleted, failed, result.BytesUploaded, result.Duration)
	return syncErr
}

func newDownloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "download <target-dir>",
		Short: "Copy every file of the bucket into a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, false)
			if err != nil {
				return report(cmd, err)
			}
			files, n, err := a.syncer.Download(cmd.Context(), a.cfg.BucketName(), args[0])
			a.log.Info("downloaded %d files (%d bytes) to %s", files, n, args[0])
			return report(cmd, err)
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every resource of the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd, false)
			if err != nil {
				return report(cmd, err)
			}
			statuses, err := a.orchestrator().Status(cmd.Context())
			printStatus(cmd.OutOrStdout(), a.cfg.BucketName(), statuses)
			return report(cmd, err)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Root().Version)
		},
	}
}

func report(cmd *cobra.Command, err error) error {
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}
