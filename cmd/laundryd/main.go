package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/laundromat/internal/daemon"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL            = "database-url"
	flagGRPCListenAddr         = "grpc-listen-addr"
	flagHTTPListenAddr         = "http-listen-addr"
	flagAllowedOrigins         = "allowed-origins"
	flagRequestTimeout         = "request-timeout"
	flagTickInterval           = "tick-interval"
	flagSeedFile               = "seed-file"
	flagSkipSeed               = "skip-seed"
	flagNotifyBeforeCompletion = "notify-before-completion"
	flagNotifyEnabled          = "notify-enabled"
	flagRedisAddr              = "redis-addr"
	flagRedisPassword          = "redis-password"
	flagRedisDB                = "redis-db"
	flagRedisChannelPrefix     = "redis-channel-prefix"
	flagAMQPURL                = "amqp-url"
	flagAMQPQueue              = "amqp-queue"
	flagKafkaBrokers           = "kafka-brokers"
	flagKafkaTopic             = "kafka-topic"
	envPrefix                  = "LAUNDRYD"
)

var configFlags = []string{
	flagDatabaseURL, flagGRPCListenAddr, flagHTTPListenAddr, flagAllowedOrigins, flagRequestTimeout,
	flagTickInterval, flagSeedFile, flagSkipSeed, flagNotifyBeforeCompletion, flagNotifyEnabled,
	flagRedisAddr, flagRedisPassword, flagRedisDB, flagRedisChannelPrefix, flagAMQPURL, flagAMQPQueue,
	flagKafkaBrokers, flagKafkaTopic,
}

func main() {
	// A missing .env file is fine; the environment and flags still apply.
	_ = godotenv.Load()
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "laundryd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := daemon.Config{}
	defaults := daemon.DefaultConfig()
	cmd := &cobra.Command{
		Use:           "laundryd",
		Short:         "Laundromat reservation tracker (gRPC + HTTP)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaults.DatabaseURL, "database url (postgres://, mysql://, sqlite:// or memory://)")
	cmd.Flags().String(flagGRPCListenAddr, defaults.GRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagHTTPListenAddr, defaults.HTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, strings.Join(defaults.AllowedOrigins, ","), "comma-separated list of allowed CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, defaults.RequestTimeout, "per-request timeout")
	cmd.Flags().Duration(flagTickInterval, defaults.TickInterval, "progress tick interval (at least 1s)")
	cmd.Flags().String(flagSeedFile, "", "YAML catalog seed; the built-in catalog is used when empty")
	cmd.Flags().Bool(flagSkipSeed, false, "do not seed the catalog on startup")
	cmd.Flags().Int(flagNotifyBeforeCompletion, defaults.NotifyBeforeCompletion, "minutes before completion to notify (0, 5, 10 or 15)")
	cmd.Flags().Bool(flagNotifyEnabled, defaults.NotifyEnabled, "deliver cycle notifications")
	cmd.Flags().String(flagRedisAddr, "", "redis address for notification pub/sub")
	cmd.Flags().String(flagRedisPassword, "", "redis password")
	cmd.Flags().Int(flagRedisDB, 0, "redis database index")
	cmd.Flags().String(flagRedisChannelPrefix, "", "redis channel prefix")
	cmd.Flags().String(flagAMQPURL, "", "AMQP url for the notification queue")
	cmd.Flags().String(flagAMQPQueue, "", "AMQP queue name")
	cmd.Flags().String(flagKafkaBrokers, "", "comma-separated kafka brokers")
	cmd.Flags().String(flagKafkaTopic, "", "kafka topic for notifications")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *daemon.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.AllowedOrigins = daemon.ParseList(v.GetString(flagAllowedOrigins))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.TickInterval = v.GetDuration(flagTickInterval)
	cfg.SeedFile = strings.TrimSpace(v.GetString(flagSeedFile))
	cfg.SkipSeed = v.GetBool(flagSkipSeed)
	cfg.NotifyBeforeCompletion = v.GetInt(flagNotifyBeforeCompletion)
	cfg.NotifyEnabled = v.GetBool(flagNotifyEnabled)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.RedisChannelPrefix = strings.TrimSpace(v.GetString(flagRedisChannelPrefix))
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPQueue = strings.TrimSpace(v.GetString(flagAMQPQueue))
	cfg.KafkaBrokers = daemon.ParseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(flagKafkaTopic))

	return cfg.Validate()
}
