package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sprucelab/bookmarksync/internal/model"
	"github.com/sprucelab/bookmarksync/internal/store"
)

var (
	addParent string
	addFolder bool
)

var addCmd = &cobra.Command{
	Use:   "add TITLE [URL]",
	Short: "Add a bookmark or folder",
	Long: `Add a bookmark (title + URL) or, with --folder, an empty folder.

The new entry goes under the root unless --parent names another folder.
Examples:

  bmsync add "Example" https://example.com
  bmsync add --folder "Work"
  bmsync add --parent <folder-id> "Docs" https://docs.example.com`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addFolder && len(args) > 1 {
			return fmt.Errorf("folders take a title only")
		}
		if !addFolder && len(args) != 2 {
			return fmt.Errorf("bookmarks need a title and a URL")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		tx, err := st.Begin(ctx)
		if err != nil {
			return err
		}

		parent := addParent
		if parent == "" {
			parent = model.RootID
		}
		id := uuid.NewString()
		now := time.Now()
		if addFolder {
			_, err = tx.AddFolder(parent, id, args[0], now)
		} else {
			_, err = tx.AddBookmark(parent, id, args[0], args[1], now)
		}
		if err != nil {
			return err
		}
		if err := st.Commit(ctx, tx); err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print the bookmark tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tx, err := st.Begin(context.Background())
		if err != nil {
			return err
		}
		printTree(tx, model.RootID, "")
		return nil
	},
}

func printTree(tx *store.Tx, id, indent string) {
	n, ok := tx.Node(id)
	if !ok {
		return
	}
	switch {
	case id == model.RootID:
		fmt.Println("/")
	case n.IsFolder():
		fmt.Printf("%s%s/  [%s]\n", indent, n.Title, n.ID)
	default:
		star := ""
		if len(n.Favorites) > 0 {
			star = " *"
		}
		fmt.Printf("%s%s%s  %s  [%s]\n", indent, n.Title, star, n.URL, n.ID)
	}
	if !n.IsFolder() {
		return
	}
	for _, childID := range n.Children {
		printTree(tx, childID, indent+"  ")
	}
}

var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a bookmark or folder (and its contents)",
	Long: `Delete an entry by ID. Folders are deleted with everything inside.

The deletion is local-first: the entry disappears from the tree at once
and is removed for good after the next sync confirms it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		tx, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		if err := tx.MarkDeleted(args[0], time.Now()); err != nil {
			return err
		}
		return st.Commit(ctx, tx)
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite ID",
	Short: "Add a bookmark to the favorites",
	Long: `Add a bookmark to the favorites. Membership goes to the unified
favorites list and to this machine's desktop list; the bookmark stays
where it is in the tree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		tx, err := st.Begin(ctx)
		if err != nil {
			return err
		}
		containers := []string{model.FavoritesRootID, model.DesktopFavoritesRootID}
		if err := tx.Favorite(args[0], containers, time.Now()); err != nil {
			return err
		}
		return st.Commit(ctx, tx)
	},
}

// exportEntry is the YAML shape of one exported node.
type exportEntry struct {
	Title    string        `yaml:"title,omitempty"`
	URL      string        `yaml:"url,omitempty"`
	Favorite bool          `yaml:"favorite,omitempty"`
	Children []exportEntry `yaml:"children,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the bookmark tree as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tx, err := st.Begin(context.Background())
		if err != nil {
			return err
		}
		root := exportSubtree(tx, model.RootID)
		return yaml.NewEncoder(os.Stdout).Encode(root.Children)
	},
}

func exportSubtree(tx *store.Tx, id string) exportEntry {
	n, ok := tx.Node(id)
	if !ok {
		return exportEntry{}
	}
	e := exportEntry{
		Title:    n.Title,
		URL:      n.URL,
		Favorite: n.InFavorites(model.FavoritesRootID),
	}
	for _, childID := range n.Children {
		e.Children = append(e.Children, exportSubtree(tx, childID))
	}
	return e
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := dbPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No database found. Run 'bmsync init' first.")
			return nil
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		tx, err := st.Begin(context.Background())
		if err != nil {
			return err
		}

		var bookmarks, folders, dirty, pending int
		for _, n := range tx.Nodes() {
			if model.IsWellKnown(n.ID) {
				continue
			}
			if n.IsFolder() {
				folders++
			} else {
				bookmarks++
			}
			if n.Dirty() {
				dirty++
			}
			if n.PendingDeletion {
				pending++
			}
		}

		fmt.Printf("Database:  %s\n", path)
		fmt.Printf("Bookmarks: %d\n", bookmarks)
		fmt.Printf("Folders:   %d\n", folders)
		fmt.Printf("Unsynced:  %d (%d pending deletion)\n", dirty, pending)
		if tx.Cursor != "" {
			fmt.Printf("Cursor:    %s\n", tx.Cursor)
		} else {
			fmt.Printf("Cursor:    (never synced)\n")
		}
		if tx.LastSyncedAt != nil {
			fmt.Printf("Last sync: %s\n", tx.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addParent, "parent", "", "parent folder ID (default: root)")
	addCmd.Flags().BoolVar(&addFolder, "folder", false, "create a folder instead of a bookmark")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statusCmd)
}
