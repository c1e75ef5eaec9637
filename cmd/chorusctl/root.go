package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/af-corp/chorus/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chorusctl",
	Short: "Administer a Chorus deployment",
	Long: `chorusctl creates and revokes API keys and applies database migrations.

The database is taken from --database-url, CHORUS_DATABASE_URL, DATABASE_URL,
or finally the database section of the server configuration in --config-dir.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "chorusctl config file (default: ./chorusctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	rootCmd.PersistentFlags().String("config-dir", "configs", "server configuration directory used when no database URL is set")
	rootCmd.PersistentFlags().String("redis", "", "Redis address for key cache invalidation")

	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("config_dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	viper.BindPFlag("redis", rootCmd.PersistentFlags().Lookup("redis"))
}

func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("chorusctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.chorus")
	}

	viper.SetEnvPrefix("CHORUS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config:", viper.ConfigFileUsed())
	}
}

// databaseURL resolves the DSN in flag, env, server config order.
func databaseURL() (string, error) {
	if dsn := viper.GetString("database_url"); dsn != "" {
		return dsn, nil
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn, nil
	}
	loader := config.NewLoader(viper.GetString("config_dir"), slog.New(slog.DiscardHandler))
	if err := loader.Load(); err != nil {
		return "", fmt.Errorf("load server config: %w", err)
	}
	return loader.Config().Database.DSN(), nil
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	dsn, err := databaseURL()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// redisClient returns nil when no address is configured or Redis is unreachable.
func redisClient(ctx context.Context) *redis.Client {
	addr := viper.GetString("redis")
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: redis %s unreachable, cached keys expire on their own: %v\n", addr, err)
		rdb.Close()
		return nil
	}
	return rdb
}
