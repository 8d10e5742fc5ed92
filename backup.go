package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/netdisk-go/internal/mirror"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

const metricsShutdownTimeout = 5 * time.Second

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <local-dir> [remote-dir]",
		Short: "Copy a local folder tree to the backend",
		Long: `Copy a local folder tree to the backend. Files already present with the
same size and a modification time at least as new are skipped, so repeated
runs only upload what changed.

With --watch the command keeps running and copies changes as they happen
until interrupted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runBackup,
	}

	cmd.Flags().IntP("workers", "w", mirror.DefaultWorkers, "concurrent uploads")
	cmd.Flags().Bool("delete", false, "delete remote entries that no longer exist locally")
	cmd.Flags().Bool("dry-run", false, "print the planned actions without executing them")
	cmd.Flags().Bool("watch", false, "keep running and copy local changes as they happen")
	cmd.Flags().Duration("settle", mirror.DefaultSettle, "quiet period before a watch pass starts")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9108)")

	return cmd
}

type backupFlags struct {
	workers     int
	delete      bool
	dryRun      bool
	watch       bool
	settle      time.Duration
	metricsAddr string
}

func readBackupFlags(cmd *cobra.Command) (backupFlags, error) {
	var (
		f    backupFlags
		errs []error
		err  error
	)

	f.workers, err = cmd.Flags().GetInt("workers")
	errs = append(errs, err)
	f.delete, err = cmd.Flags().GetBool("delete")
	errs = append(errs, err)
	f.dryRun, err = cmd.Flags().GetBool("dry-run")
	errs = append(errs, err)
	f.watch, err = cmd.Flags().GetBool("watch")
	errs = append(errs, err)
	f.settle, err = cmd.Flags().GetDuration("settle")
	errs = append(errs, err)
	f.metricsAddr, err = cmd.Flags().GetString("metrics-addr")
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return f, err
	}

	if f.workers < 1 {
		return f, fmt.Errorf("--workers must be at least 1, got %d", f.workers)
	}

	if f.dryRun && f.watch {
		return f, errors.New("--dry-run and --watch cannot be combined")
	}

	return f, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	localDir := args[0]

	remoteDir := pathutil.Root
	if len(args) > 1 {
		remoteDir = pathutil.Normalize(args[1])
	}

	flags, err := readBackupFlags(cmd)
	if err != nil {
		return err
	}

	if fi, err := os.Stat(localDir); err != nil {
		return fmt.Errorf("reading %q: %w", localDir, err)
	} else if !fi.IsDir() {
		return fmt.Errorf("%q is not a folder; use put to upload a file", localDir)
	}

	logger := buildLogger()
	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	sess, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if !flags.dryRun {
		if err := netdisk.MkdirAll(ctx, sess.FS, remoteDir); err != nil {
			return err
		}
	}

	m := mirror.New(mirror.Options{
		Local:   localDir,
		Remote:  sess.FS.OpenDir(remoteDir),
		Workers: flags.workers,
		Delete:  flags.delete,
		Logger:  logger,
	})

	if flags.dryRun {
		return printPlan(ctx, cmd, m)
	}

	if flags.metricsAddr != "" {
		_, stopMetrics, err := serveMetrics(flags.metricsAddr, sess, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if !flags.watch {
		report, err := m.Run(ctx)
		if persistErr := sess.Persist(); persistErr != nil {
			err = errors.Join(err, persistErr)
		}

		if report != nil {
			printReport(report)
		}

		if err != nil {
			return err
		}

		if report.Failed() > 0 {
			return fmt.Errorf("%d of %d actions failed", report.Failed(), report.Failed()+report.Uploaded+report.Created+report.Deleted)
		}

		return nil
	}

	lockPath, err := watchLockPath(sess.Name, localDir)
	if err != nil {
		return err
	}

	release, err := acquireWatchLock(lockPath)
	if err != nil {
		return err
	}
	defer release()

	statusf("Watching %s (Ctrl-C to stop)\n", localDir)

	return m.Watch(ctx, flags.settle, func(report *mirror.Report, err error) error {
		if persistErr := sess.Persist(); persistErr != nil {
			return persistErr
		}

		if report != nil {
			printReport(report)
		}

		if err != nil {
			var tokenErr *netdisk.TokenError
			if errors.As(err, &tokenErr) {
				return err
			}

			logger.Warn("backup pass failed", slog.String("error", err.Error()))
		}

		return nil
	})
}

func printPlan(ctx context.Context, cmd *cobra.Command, m *mirror.Mirror) error {
	actions, unchanged, err := m.Plan(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		size := ""
		if a.Type == mirror.ActionUpload {
			size = formatSize(a.Size)
		}

		rows = append(rows, []string{a.Type.String(), a.Path, size})
	}

	printTable(cmd.OutOrStdout(), []string{"ACTION", "PATH", "SIZE"}, rows)
	statusf("%d actions planned, %d files unchanged\n", len(actions), unchanged)

	return nil
}

func printReport(r *mirror.Report) {
	statusf("Uploaded %d files (%s), created %d folders, deleted %d, unchanged %d, failed %d\n",
		r.Uploaded, formatSize(r.Bytes), r.Created, r.Deleted, r.Unchanged, r.Failed())

	for _, e := range r.Errors {
		fmt.Fprintf(os.Stderr, "  %s %s: %v\n", e.Action.Type, e.Action.Path, e.Err)
	}
}

// serveMetrics exposes the session's limiter metrics at /metrics until the
// returned func is called. It returns the address actually bound.
func serveMetrics(addr string, sess *Session, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sess.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}
