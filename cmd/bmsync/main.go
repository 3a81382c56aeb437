package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sprucelab/bookmarksync/internal/crypto"
	"github.com/sprucelab/bookmarksync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bmsync",
	Short: "Encrypted bookmark sync",
	Long: `bmsync keeps a local bookmark tree and reconciles it with a sync
server. Titles and URLs are encrypted with a device-shared secret key
before they leave the machine; the server only ever sees ciphertext.

Run 'bmsync init' once to create the local database and generate a key,
then 'bmsync sync' to exchange changes with the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.bmsync.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database path (default ~/.bmsync/bookmarks.db)")
	rootCmd.PersistentFlags().String("server", "", "sync server base URL")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file with rotation")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to locate home directory: %w", err)
		}
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bmsync")
	}

	viper.SetEnvPrefix("BMSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default or flag.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}
	return nil
}

// dbPath resolves the database location from config, defaulting to
// ~/.bmsync/bookmarks.db.
func dbPath() (string, error) {
	if p := viper.GetString("db"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".bmsync", "bookmarks.db"), nil
}

// openStore opens the database and ensures the schema exists.
func openStore() (*store.SQLite, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// newCrypter builds the field crypter from the configured secret key.
func newCrypter() (crypto.Crypter, error) {
	key := viper.GetString("key")
	if key == "" {
		return nil, fmt.Errorf("no secret key configured; run 'bmsync init' or set BMSYNC_KEY")
	}
	return crypto.NewSecretBoxBase64(key)
}

// newLogger routes logs to the configured log file with rotation, or to
// stderr when none is set.
func newLogger() *log.Logger {
	var w io.Writer = os.Stderr
	if path := viper.GetString("log_file"); path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(w, "[bookmarks] ", log.LstdFlags)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
