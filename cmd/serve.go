package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	classvault "github.com/studistack/classvault/lib"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the backup admin HTTP server, optionally with a backup schedule",
	Example: `
  classvault serve --listen-addr :8743 --admin-token s3cret --backup-schedule "0 3 * * *"
`,
	Long: `Runs an HTTP server exposing backup and restore operations under
/admin/backup, protected by a bearer token. When --backup-schedule is set,
a cron scheduler triggers a full backup run on that schedule.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		engine := buildEngine(ctx)
		server := classvault.NewServer(engine, viper.GetString("admin-token"))

		runTimeout := viper.GetDuration("run-timeout")

		scheduler := cron.New()
		if schedule := viper.GetString("backup-schedule"); schedule != "" {
			_, err := scheduler.AddFunc(schedule, func() {
				runCtx, cancel := context.WithTimeout(context.Background(), runTimeout)
				defer cancel()

				if _, err := engine.RunBackup(runCtx, classvault.TriggerScheduled); err != nil {
					fmt.Printf("ERROR: scheduled backup: %s\n", err)
				}
			})
			errorCheck("parsing backup schedule", err)

			scheduler.Start()
			fmt.Printf("Scheduled backups enabled: %q\n", schedule)
		}

		httpServer := &http.Server{
			Addr:    viper.GetString("listen-addr"),
			Handler: server,
		}

		go func() {
			fmt.Printf("Serving on %s\n", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errorCheck("serving", err)
			}
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		fmt.Println("Shutting down")
		<-scheduler.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		errorCheck("shutting down", httpServer.Shutdown(shutdownCtx))
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", ":8743", "Address the admin HTTP server listens on")
	serveCmd.Flags().String("admin-token", "", "Bearer token protecting /admin/backup endpoints (empty disables auth)")
	serveCmd.Flags().String("backup-schedule", "", "Cron expression for scheduled backups (empty disables the scheduler)")
	serveCmd.Flags().Duration("run-timeout", 30*time.Minute, "Timeout applied to each scheduled backup run")

	for _, flag := range []string{"listen-addr", "admin-token", "backup-schedule", "run-timeout"} {
		if err := viper.BindPFlag(flag, serveCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
