package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	classvault "github.com/studistack/classvault/lib"
)

var (
	Version   = "No Version Provided"
	BuildHash = "No BuildHash Provided"
	BuildTime = "No BuildTime Provided"
)

var cfgFile string

var RootCmd = &cobra.Command{
	Use:   "classvault",
	Short: "Backup and restore engine for the studistack platform",
	Long: `Classvault captures full point-in-time backups of every record set in
the platform's document store, delivers them over the operator channel and
restores uploaded artifacts with an all-or-nothing replacement strategy.
Supports local artifact storage and Google Cloud Storage.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(backupCmd)
	RootCmd.AddCommand(restoreCmd)
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.classvault/config)")
	RootCmd.PersistentFlags().String("store-dsn", "mongodb://localhost:27017", "Document store DSN (mongodb:// or mem://)")
	RootCmd.PersistentFlags().String("store-db", "studistack", "Document store database name")
	RootCmd.PersistentFlags().String("storage", "", "Artifact storage base URL (ex: /var/backups/classvault or gs://mybackups/classvault)")
	RootCmd.PersistentFlags().StringSlice("record-sets", nil, "Record set kinds this deployment manages; restores skip artifact sets outside the list, an empty list trusts the artifact")
	RootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	RootCmd.PersistentFlags().Int64("max-attachment-bytes", classvault.DefaultMaxAttachmentBytes, "Largest artifact (bytes) delivered inline as an email attachment")
	RootCmd.PersistentFlags().Int64("compression-threshold-bytes", classvault.DefaultCompressionThresholdBytes, "Artifacts whose encoded size exceeds this many bytes are gzip compressed")
	RootCmd.PersistentFlags().Int("snapshot-workers", classvault.DefaultSnapshotWorkers, "Parallel record set readers during snapshot")
	RootCmd.PersistentFlags().String("restore-confirm-secret", "", "Shared secret a restore request must present")

	RootCmd.PersistentFlags().String("smtp-host", "localhost", "SMTP server host for operator notifications")
	RootCmd.PersistentFlags().Int("smtp-port", 25, "SMTP server port")
	RootCmd.PersistentFlags().String("smtp-username", "", "SMTP username (auth disabled when empty)")
	RootCmd.PersistentFlags().String("smtp-password", "", "SMTP password")
	RootCmd.PersistentFlags().String("mail-from", "classvault@localhost", "From address on operator notifications")
	RootCmd.PersistentFlags().String("mail-to", "", "Operator address receiving backup notifications")
	RootCmd.PersistentFlags().Uint("notify-attempts", 3, "Delivery attempts before a notification is abandoned")
	RootCmd.PersistentFlags().Duration("notify-backoff", 5*time.Second, "Base backoff between notification attempts")

	for _, flag := range []string{
		"store-dsn", "store-db", "storage", "record-sets", "verbose",
		"max-attachment-bytes", "compression-threshold-bytes", "snapshot-workers", "restore-confirm-secret",
		"smtp-host", "smtp-port", "smtp-username", "smtp-password", "mail-from", "mail-to",
		"notify-attempts", "notify-backoff",
	} {
		if err := viper.BindPFlag(flag, RootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".classvault" (without extension).
		viper.AddConfigPath(path.Join(home, ".classvault"))
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("classvault")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	setupLogging(viper.GetBool("verbose"))
}
