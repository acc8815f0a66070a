package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bitleak/bert/chain"
	"github.com/bitleak/bert/config"
	"github.com/bitleak/bert/log"
	"github.com/bitleak/bert/queue"
	"github.com/bitleak/bert/runner"
	"github.com/bitleak/bert/server"
	"github.com/bitleak/bert/server/handlers"
)

// withDeps loads the config, builds the deps and hands them to fn.
func (a *App) withDeps(ctx context.Context, fn func(d *Deps) error) error {
	conf, err := a.loadConfig()
	if err != nil {
		return err
	}
	d, err := Build(ctx, conf, a.codecs, log.Get())
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

// selectJobs returns the named jobs, or the whole chain when names is empty.
func (a *App) selectJobs(names []string) ([]*chain.Job, error) {
	if len(names) == 0 {
		return a.registry.BuildChain()
	}
	jobs := make([]*chain.Job, 0, len(names))
	for _, name := range names {
		job, ok := a.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("job %q isn't bound", name)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (a *App) runCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "run every job of the chain once, in order",
		Example: "run -c conf/bert.toml\nrun --admin-port 7778\nrun --batch records.json --job load",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return a.withDeps(ctx, func(d *Deps) error {
				if cmd.Flags().Changed("admin-port") {
					d.Conf.AdminPort, _ = cmd.Flags().GetInt("admin-port")
				}
				jobs, err := a.registry.BuildChain()
				if err != nil {
					return err
				}
				logger := log.Get()
				opts := []runner.Option{runner.WithLogger(logger)}
				if d.Cache != nil {
					opts = append(opts, runner.WithCacheBackend(d.Cache))
				}
				r := runner.New(d.Conf, d.Factory, d.Codecs, d.Tracker, opts...)

				if batchPath, _ := cmd.Flags().GetString("batch"); batchPath != "" {
					name, _ := cmd.Flags().GetString("job")
					return a.handleBatch(ctx, r, batchPath, name)
				}

				adminSrv := server.AdminServer(d.Conf.AdminHost, d.Conf.AdminPort, log.GetAccessLogger(), logger, &handlers.Deps{
					Conf:     d.Conf,
					Registry: a.registry,
					Factory:  d.Factory,
					Codecs:   d.Codecs,
					Tracker:  d.Tracker,
				})
				unregister := registerSignal(r.Stop, cancel, func() {
					if err := log.ReopenLogs(d.Conf.LogDir); err != nil {
						logger.WithError(err).Error("Failed to reopen the logs")
					}
				})
				defer unregister()

				logger.WithField("jobs", len(jobs)).Info("Running the chain")
				err = r.RunJobs(ctx, jobs)
				if adminSrv != nil {
					adminSrv.Close()
				}
				if err != nil {
					return err
				}
				logger.Info("Bye bye")
				return nil
			})
		},
	}
	runCmd.Flags().Int("admin-port", 0, "admin api port, 0 disables it")
	runCmd.Flags().String("batch", "", "run one job over the event batch in this JSON file")
	runCmd.Flags().String("job", "", "the job handling --batch")
	return runCmd
}

func (a *App) handleBatch(ctx context.Context, r *runner.Runner, path, name string) error {
	if name == "" {
		return errors.New("--batch needs --job")
	}
	job, ok := a.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("job %q isn't bound", name)
	}
	batch, err := queue.ReadBatch(path)
	if err != nil {
		return err
	}
	return r.HandleBatch(ctx, job, batch.Inserts())
}

func (a *App) chainCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "chain",
		Short:   "print the jobs of the chain and their queue keys",
		Aliases: []string{"jobs", "ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.registry.BuildChain()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, job := range jobs {
				fmt.Fprintf(out, "%s (%s, workers: %d, cached: %t)\n", job.Name(), job.PipelineType(), job.Workers(), job.Cached())
				fmt.Fprintf(out, "* Space: %s\n", job.Space())
				fmt.Fprintf(out, "* Work: %s\n", job.WorkKey())
				fmt.Fprintf(out, "* Done: %s\n", job.DoneKey())
			}
			return nil
		},
	}
}

func (a *App) sizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "size [job...]",
		Short:   "get the work and done queue sizes of jobs",
		Example: "size\nsize extract load",
		Aliases: []string{"len"},
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := a.selectJobs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withDeps(ctx, func(d *Deps) error {
				out := cmd.OutOrStdout()
				for _, job := range jobs {
					c, err := d.Codecs.Load(d.Conf.JobSettings(job.Name()).Encoding)
					if err != nil {
						return err
					}
					work, err := d.Factory.New(job.WorkKey(), c).Size(ctx)
					if err != nil {
						return err
					}
					done, err := d.Factory.New(job.DoneKey(), c).Size(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: work %d, done %d\n", job.Name(), work, done)
				}
				return nil
			})
		},
	}
}

func (a *App) stalledCommand() *cobra.Command {
	stalledCmd := &cobra.Command{
		Use:     "stalled",
		Short:   "list the execution records left by crashed runs",
		Example: "stalled --older-than 1h\nstalled --release",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			release, _ := cmd.Flags().GetBool("release")
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			ctx := cmd.Context()
			return a.withDeps(ctx, func(d *Deps) error {
				if olderThan <= 0 {
					olderThan = d.Conf.StalledAfter()
				}
				stalled, err := d.Tracker.ScanStalled(ctx, olderThan)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range stalled {
					fmt.Fprintf(out, "%s: job %s, started at %s\n", e.Identity, e.Job, e.CreatedAt.Format(time.RFC3339))
					if !release {
						continue
					}
					if _, err := d.Tracker.Release(ctx, e.Identity); err != nil {
						return err
					}
					log.Get().WithFields(logrus.Fields{
						"job":      e.Job,
						"identity": e.Identity,
					}).Info("Released a stalled execution")
				}
				fmt.Fprintf(out, "Stalled: %d\n", len(stalled))
				return nil
			})
		},
	}
	stalledCmd.Flags().Duration("older-than", 0, "age of the records to report, stalled_after_minute by default")
	stalledCmd.Flags().Bool("release", false, "remove the reported records")
	return stalledCmd
}

func (a *App) cacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "snapshot and restore the done queue of a job",
	}
	withCache := func(cmd *cobra.Command, name string, fn func(d *Deps, job *chain.Job) error) error {
		job, ok := a.registry.Lookup(name)
		if !ok {
			return fmt.Errorf("job %q isn't bound", name)
		}
		return a.withDeps(cmd.Context(), func(d *Deps) error {
			if d.Cache == nil {
				return &config.ConfigError{Field: "cache", Reason: fmt.Sprintf("no cache backend for queue type %q", d.Conf.QueueType)}
			}
			return fn(d, job)
		})
	}

	fillCmd := &cobra.Command{
		Use:     "fill [job]",
		Short:   "copy the done queue of the job into its cache",
		Example: "fill extract --max 1000",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxFill, _ := cmd.Flags().GetInt64("max")
			return withCache(cmd, args[0], func(d *Deps, job *chain.Job) error {
				if err := d.Cache.Clear(cmd.Context(), job.DoneKey()); err != nil {
					return err
				}
				n, err := d.Cache.FillCacheFromQueue(cmd.Context(), job.DoneKey(), maxFill)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached [%d] items\n", n)
				return nil
			})
		},
	}
	fillCmd.Flags().Int64("max", 0, "upper limit of the items to cache, all by default")

	restoreCmd := &cobra.Command{
		Use:     "restore [job]",
		Short:   "replace the done queue of the job with its cache",
		Example: "restore extract",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt64("limit")
			return withCache(cmd, args[0], func(d *Deps, job *chain.Job) error {
				if err := d.Cache.ClearQueue(cmd.Context(), job.DoneKey()); err != nil {
					return err
				}
				n, err := d.Cache.FillQueueFromCache(cmd.Context(), job.DoneKey(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored [%d] items\n", n)
				return nil
			})
		},
	}
	restoreCmd.Flags().Int64("limit", 0, "upper limit of the items to restore, all by default")

	clearCmd := &cobra.Command{
		Use:   "clear [job]",
		Short: "drop the cache of the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, args[0], func(d *Deps, job *chain.Job) error {
				if err := d.Cache.Clear(cmd.Context(), job.DoneKey()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared")
				return nil
			})
		},
	}

	cacheCmd.AddCommand(fillCmd, restoreCmd, clearCmd)
	return cacheCmd
}
