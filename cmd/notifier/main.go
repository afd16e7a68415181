// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
	"storj.io/common/errs2"
	"storj.io/common/fpath"
	"storj.io/common/process"

	"github.com/StorXNetwork/StorXNotify/notification"
	"github.com/StorXNetwork/StorXNotify/notification/client"
	"github.com/StorXNetwork/StorXNotify/notification/notificationdb"
	"github.com/StorXNetwork/StorXNotify/notification/redisqueue"
	"github.com/StorXNetwork/StorXNotify/notification/templates"
)

var mon = monkit.Package()

var (
	rootCmd = &cobra.Command{
		Use:   "notifier",
		Short: "Notification scheduling and delivery service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the notification dispatcher",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the notification database to the latest version",
		RunE:  cmdMigrate,
	}
	importTemplatesCmd = &cobra.Command{
		Use:   "import-templates <file.yaml>",
		Short: "Create or update templates from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE:  cmdImportTemplates,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Enqueue a sweep of inactive device tokens",
		RunE:  cmdCleanup,
	}
	queueStatsCmd = &cobra.Command{
		Use:   "queue-stats",
		Short: "Print the job queue counters and dead-lettered jobs",
		RunE:  cmdQueueStats,
	}

	runCfg struct {
		notification.Config
	}
	setupCfg struct {
		notification.Config
	}

	confDir string
)

func init() {
	defaultConfDir := fpath.ApplicationDir("storx", "notifier")
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for notifier configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(importTemplatesCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(queueStatsCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(migrateCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(importTemplatesCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(cleanupCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(queueStatsCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()
	defer mon.Task()(&ctx)(&err)

	db, err := openDatabase(cmd, log)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	peer, err := notification.NewPeer(ctx, log, db, &runCfg.Config)
	if err != nil {
		log.Error("Failed to create notification peer", zap.Error(err))
		mon.Counter("notifier_cmd_peer_creation_failed").Inc(1)
		return err
	}

	log.Info("Starting notifier",
		zap.Int("workers", runCfg.Dispatcher.Workers),
		zap.String("ledger", runCfg.Ledger.Backend),
		zap.Bool("fcm", runCfg.FCM.Enabled),
		zap.Bool("email", runCfg.Email.Enabled),
		zap.Bool("webhook", runCfg.Webhook.Enabled),
	)

	runError := peer.Run(ctx)
	closeError := peer.Close()
	return errs2.IgnoreCanceled(errs.Combine(runError, closeError))
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	valid, _ := fpath.IsValidSetupDir(setupDir)
	if !valid {
		return errs.New("notifier configuration already exists (%v)", setupDir)
	}

	return process.SaveConfig(cmd, filepath.Join(setupDir, "config.yaml"))
}

func cmdMigrate(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	db, err := notificationdb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		return errs.New("Error creating notification database connection: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	if err := db.MigrateToLatest(ctx); err != nil {
		return errs.New("Error creating tables for notification database: %+v", err)
	}
	log.Info("Notification database migrated")
	return nil
}

func cmdImportTemplates(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	file, err := os.Open(args[0])
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		err = errs.Combine(err, file.Close())
	}()

	seeds, err := templates.ReadSeeds(file)
	if err != nil {
		return err
	}

	db, err := openDatabase(cmd, log)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, db.Close())
	}()

	service := templates.NewService(log.Named("templates"), db.Templates())
	imported, err := service.Import(ctx, seeds)
	log.Info("Templates imported", zap.Int("imported", len(imported)), zap.Int("total", len(seeds)))
	return err
}

func cmdCleanup(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	queue, err := redisqueue.Open(ctx, log.Named("queue"), runCfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, queue.Close())
	}()

	jobID, err := client.New(log.Named("client"), queue, nil, nil, nil).CleanupInactive(ctx, runCfg.Cleanup.MaxAgeDays)
	if err != nil {
		return err
	}
	log.Info("Token cleanup enqueued", zap.String("job_id", jobID), zap.Int("max_age_days", runCfg.Cleanup.MaxAgeDays))
	return nil
}

func cmdQueueStats(cmd *cobra.Command, args []string) (err error) {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	queue, err := redisqueue.Open(ctx, log.Named("queue"), runCfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		err = errs.Combine(err, queue.Close())
	}()

	stats, err := queue.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info("Queue stats",
		zap.Int64("ready", stats.Ready),
		zap.Int64("delayed", stats.Delayed),
		zap.Int64("processing", stats.Processing),
		zap.Int64("dead", stats.Dead),
	)

	dead, err := queue.DeadLetters(ctx)
	if err != nil {
		return err
	}
	for id, cause := range dead {
		log.Info("Dead job", zap.String("job_id", id), zap.String("error", cause))
	}
	return nil
}

// openDatabase opens the notification database and checks that it is
// migrated.
func openDatabase(cmd *cobra.Command, log *zap.Logger) (notification.DB, error) {
	ctx, _ := process.Ctx(cmd)

	if runCfg.Database == "" || runCfg.Database == "postgres://" {
		log.Error("Database connection string is not properly configured")
		return nil, errs.New("Database connection string is not properly configured. Please set the --database flag or configure it in your config file.")
	}

	db, err := notificationdb.Open(ctx, log.Named("db"), runCfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		mon.Counter("notifier_cmd_database_connection_failed").Inc(1)
		return nil, errs.New("Error starting notification database: %+v", err)
	}
	return db, nil
}

func main() {
	logger, _, _ := process.NewLogger("notifier")
	zap.ReplaceGlobals(logger)

	process.ExecCustomDebug(rootCmd)
}
