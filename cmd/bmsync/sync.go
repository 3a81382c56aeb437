package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sprucelab/bookmarksync/internal/crypto"
	"github.com/sprucelab/bookmarksync/internal/provider"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local database and a config file",
	Long: `Create the local bookmark database, generate a secret key, and
write ~/.bmsync.yaml with the key and a fresh device ID.

An existing config file is left alone; re-running init only ensures the
database schema exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to locate home directory: %w", err)
		}
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = filepath.Join(home, ".bmsync.yaml")
		}
		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Printf("Config already exists at %s\n", cfgPath)
			return nil
		}

		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		path, err := dbPath()
		if err != nil {
			return err
		}
		cfg := map[string]string{
			"db":        path,
			"server":    viper.GetString("server"),
			"key":       key,
			"device_id": uuid.NewString(),
		}
		raw, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		if err := os.WriteFile(cfgPath, raw, 0600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		fmt.Printf("Initialized database at %s\n", path)
		fmt.Printf("Wrote config to %s\n", cfgPath)
		fmt.Println("Keep the secret key safe; the server cannot recover it.")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round against the server",
	Long: `Exchange changes with the sync server.

The first round pushes the whole tree and merges the server's tree into
the local one, unifying duplicates. Later rounds send only what changed
since the last acknowledged cursor and treat the server's folder listings
as authoritative.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := viper.GetString("server")
		if server == "" {
			return fmt.Errorf("no server configured; set 'server' in the config or pass --server")
		}
		crypter, err := newCrypter()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		view, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		cursor := view.Cursor

		p := provider.New(st, crypter, newLogger())
		client := newClient(server, viper.GetString("device_id"))

		if cursor == "" {
			if err := p.PrepareForFirstSync(ctx); err != nil {
				return err
			}
		}
		sent, err := p.FetchChangedObjects(ctx)
		if err != nil {
			return err
		}

		clientTime := time.Now()
		resp, err := client.Sync(ctx, cursor, sent)
		if err != nil {
			return err
		}

		var result *provider.RoundResult
		if cursor == "" {
			result, err = p.HandleInitialSyncResponse(ctx, resp.Entries, &clientTime, resp.Cursor)
		} else {
			result, err = p.HandleSyncResponse(ctx, sent, resp.Entries, &clientTime, resp.Cursor, provider.MergeAuthoritative)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Synced: sent %d, received %d, deleted %d\n",
			len(sent), len(resp.Entries), len(result.DeletedIDs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
}
