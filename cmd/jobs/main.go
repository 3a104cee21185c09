// Command jobs runs the scheduled jobs and admin repairs by hand.
//
//	jobs [-config path] [-dev] <command> [flags] [args]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fleet-billing/internal/application"
	"fleet-billing/internal/config"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/infra/logging"
	"fleet-billing/internal/infra/metrics"
	"fleet-billing/internal/infra/sched"
	"fleet-billing/internal/infra/scheduler"
	"fleet-billing/internal/usecase"
)

const usage = `usage: jobs [-config path] [-dev] <command> [flags]

commands:
  check-expired-devices   [--dry-run] [--max-devices N] [--force-device ID]
  check-expired-users     [--dry-run]
  send-device-expiry-sms  [--dry-run] [--max-devices N] [--force-device ID]
  send-user-expiry-sms    [--dry-run]
  cleanup-expired-users   [--dry-run]
  cleanup-expired-devices [--dry-run]
  reverify-payment        [--dry-run] <payment id>
  reverify-all-payments   [--dry-run] [--status S] [--limit N]
  retry-fulfillment       [--limit N]
  expire-abandoned        [--limit N]
  reset-milestones        <device|user> <id>    device id is "<user id>:<device id>"
  extend-user             <tracking user id> <days>
`

var (
	version = "dev"
	commit  = "none"
)

// opts are the per-command flags. Not every command reads every flag.
type opts struct {
	dryRun      bool
	status      string
	maxDevices  int
	forceDevice int64
	limit       int
	args        []string
}

func parseOpts(name string, argv []string) (opts, error) {
	var o opts
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&o.dryRun, "dry-run", false, "report only, write nothing")
	fs.StringVar(&o.status, "status", "", "payment status filter")
	fs.IntVar(&o.maxDevices, "max-devices", 0, "devices per user cap")
	fs.Int64Var(&o.forceDevice, "force-device", 0, "restrict to one device id")
	fs.IntVar(&o.limit, "limit", 0, "max items")
	if err := fs.Parse(argv); err != nil {
		return o, err
	}
	o.args = fs.Args()
	return o, nil
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	o, err := parseOpts(cmd, flag.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, "jobs")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer c.Close()

	r := &runner{c: c, log: logger, out: os.Stdout,
		sch: scheduler.New(cfg.Location(), c.Locker, cfg.Scheduler.LockTTL, logger)}
	if err := r.run(ctx, cmd, o); err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		c.Close()
		os.Exit(1)
	}
}

type runner struct {
	c   *application.Container
	sch *scheduler.Scheduler
	log *zerolog.Logger
	out io.Writer
}

var errUsage = errors.New("bad arguments")

func (r *runner) run(ctx context.Context, cmd string, o opts) error {
	scan := usecase.ScanOptions{DryRun: o.dryRun, MaxDevicesPerUser: o.maxDevices, ForceDeviceID: o.forceDevice}
	notify := usecase.NotifyOptions{DryRun: o.dryRun, MaxDevicesPerUser: o.maxDevices, ForceDeviceID: o.forceDevice}

	switch cmd {
	case "check-expired-devices":
		return r.sch.Run(ctx, sched.JobDetectDevices, func(ctx context.Context) error {
			rep, err := r.c.Scan.DetectExpiredDevices(ctx, scan)
			r.printScan(rep)
			return err
		})
	case "check-expired-users":
		return r.sch.Run(ctx, sched.JobDetectUsers, func(ctx context.Context) error {
			rep, err := r.c.Scan.DetectExpiredUsers(ctx, scan)
			r.printScan(rep)
			return err
		})
	case "send-device-expiry-sms", "send-user-expiry-sms":
		job := sched.NewNotificationJob(r.c.Notification, r.c.NotificationLog, r.log)
		return r.sch.Run(ctx, sched.JobNotify, func(ctx context.Context) error {
			var (
				rep     usecase.NotifyReport
				err     error
				subject = "devices"
			)
			if cmd == "send-device-expiry-sms" {
				rep, err = r.c.Notification.NotifyDevices(ctx, notify)
			} else {
				subject = "users"
				rep, err = r.c.Notification.NotifyUsers(ctx, notify)
			}
			job.RecordReport(ctx, subject, rep, o.dryRun)
			r.printNotify(rep)
			return err
		})
	case "cleanup-expired-users":
		n, err := r.c.Retention.CleanupExpiredUsers(ctx, o.dryRun)
		fmt.Fprintf(r.out, "expired users purged: %d (dry run: %v)\n", n, o.dryRun)
		return err
	case "cleanup-expired-devices":
		n, err := r.c.Retention.CleanupExpiredDevices(ctx, o.dryRun)
		fmt.Fprintf(r.out, "expired devices purged: %d (dry run: %v)\n", n, o.dryRun)
		return err
	case "reverify-payment":
		if len(o.args) != 1 {
			return fmt.Errorf("%w: reverify-payment needs a payment id", errUsage)
		}
		return r.reverify(ctx, o.args[0], o.dryRun)
	case "reverify-all-payments":
		status := model.PaymentStatus(o.status)
		if status != "" && !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", errUsage, o.status)
		}
		rep, err := r.c.Reconcile.ReverifyAll(ctx, usecase.ReverifyAllOptions{Status: status, Limit: o.limit, DryRun: o.dryRun})
		r.printBatch("reverify-all", rep)
		return err
	case "retry-fulfillment":
		rep, err := r.c.Reconcile.RetryFulfillment(ctx, o.limit)
		r.printBatch("retry-fulfillment", rep)
		return err
	case "expire-abandoned":
		rep, err := r.c.Reconcile.ExpireAbandoned(ctx, r.c.Config.Payment.PendingExpiry, o.limit)
		r.printBatch("expire-abandoned", rep)
		return err
	case "reset-milestones":
		if len(o.args) != 2 {
			return fmt.Errorf("%w: reset-milestones needs <kind> <id>", errUsage)
		}
		if err := r.c.Retention.ResetMilestones(ctx, model.ShadowKind(o.args[0]), o.args[1]); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "milestones reset: %s %s\n", o.args[0], o.args[1])
		return nil
	case "extend-user":
		if len(o.args) != 2 {
			return fmt.Errorf("%w: extend-user needs <tracking user id> <days>", errUsage)
		}
		id, err := strconv.ParseInt(o.args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: tracking user id %q", errUsage, o.args[0])
		}
		days, err := strconv.Atoi(o.args[1])
		if err != nil {
			return fmt.Errorf("%w: days %q", errUsage, o.args[1])
		}
		exp, err := r.c.Expiration.ExtendUser(ctx, id, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "tracking user %d extended to %s\n", id, exp.Format(time.RFC3339))
		return nil
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func (r *runner) reverify(ctx context.Context, id string, dryRun bool) error {
	out, err := r.c.Reconcile.Reverify(ctx, id, dryRun)
	if out != nil && out.Payment != nil {
		p := out.Payment
		fmt.Fprintf(r.out, "payment %s\n  user:        %s\n  method:      %s\n  status:      %s\n  amount:      %s\n  authority:   %s\n  reference:   %s\n  device:      %s\n  fulfillment: %s\n  created:     %s\n",
			p.ID, p.UserID, p.Method, p.Status, p.Amount, p.Authority, p.Reference(), p.DeviceID, p.Fulfillment,
			p.CreatedAt.Format(time.RFC3339))
	}
	if err != nil {
		return err
	}
	if res := out.Result; res != nil {
		fmt.Fprintf(r.out, "result: success=%v status=%s code=%s reference=%s replayed=%v\n",
			res.Success, res.Status, res.Code, res.Reference, res.Replayed)
	}
	if f := out.Fulfillment; f != nil {
		fmt.Fprintf(r.out, "fulfillment retried: applied=%v err=%v\n", f.Applied, f.Err)
	}
	return nil
}

func (r *runner) printScan(rep usecase.ScanReport) {
	fmt.Fprintf(r.out, "users=%d scanned=%d expired=%d saved=%d capped=%d errors=%d\n",
		rep.Users, rep.Scanned, rep.Expired, rep.Saved, rep.Capped, rep.Errors)
}

func (r *runner) printNotify(rep usecase.NotifyReport) {
	for _, d := range rep.Dispatches {
		status := "ok"
		if d.Err != nil {
			status = d.Err.Error()
		}
		fmt.Fprintf(r.out, "  %s %d %s via %s: %s\n", d.Subject, d.ID, d.Milestone, d.Channel, status)
	}
	fmt.Fprintf(r.out, "scanned=%d due=%d sent=%d failed=%d skipped=%d\n",
		rep.Scanned, rep.Due, rep.Sent, rep.Failed, rep.Skipped)
}

func (r *runner) printBatch(name string, rep usecase.BatchReport) {
	fmt.Fprintf(r.out, "%s: scanned=%d succeeded=%d failed=%d pending=%d skipped=%d errors=%d\n",
		name, rep.Scanned, rep.Succeeded, rep.Failed, rep.Pending, rep.Skipped, rep.Errors)
}
