package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/viper"
	classvault "github.com/studistack/classvault/lib"
	"go.uber.org/zap"
)

func errorCheck(prefix string, err error) {
	if err != nil {
		fmt.Printf("ERROR: %s: %s\n", prefix, err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	config := zap.NewProductionConfig()
	if verbose {
		config = zap.NewDevelopmentConfig()
	}
	config.DisableStacktrace = true

	logger, err := config.Build()
	errorCheck("setting up logging", err)

	classvault.SetLogger(logger)
}

func buildDriver(ctx context.Context) classvault.Driver {
	dsn := viper.GetString("store-dsn")
	if strings.HasPrefix(dsn, "mem://") {
		return classvault.NewMemoryDriver(true)
	}

	driver, err := classvault.NewMongoDriver(ctx, dsn, viper.GetString("store-db"))
	errorCheck("connecting to document store", err)
	return driver
}

func buildNotifier() classvault.Notifier {
	smtp := classvault.NewSMTPNotifier(
		viper.GetString("smtp-host"),
		viper.GetInt("smtp-port"),
		viper.GetString("smtp-username"),
		viper.GetString("smtp-password"),
		viper.GetString("mail-from"),
		viper.GetString("mail-to"),
	)
	return classvault.NewRetryingNotifier(smtp, viper.GetUint("notify-attempts"), viper.GetDuration("notify-backoff"))
}

func buildEngine(ctx context.Context) *classvault.Engine {
	var store classvault.ArtifactStore
	if storageURL := viper.GetString("storage"); storageURL != "" {
		var err error
		store, err = classvault.SetupArtifactStore(ctx, storageURL)
		errorCheck("setting up artifact storage", err)
	}

	return classvault.NewEngine(buildDriver(ctx), store, buildNotifier(), classvault.Config{
		MaxAttachmentBytes:        viper.GetInt64("max-attachment-bytes"),
		CompressionThresholdBytes: viper.GetInt64("compression-threshold-bytes"),
		SnapshotWorkers:           viper.GetInt("snapshot-workers"),
		RestoreConfirmSecret:      viper.GetString("restore-confirm-secret"),
		RecordSets:                viper.GetStringSlice("record-sets"),
	})
}

func printYAML(v interface{}) {
	out, err := yaml.Marshal(v)
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(out))
}
