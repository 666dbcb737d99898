package main

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

// The store keeps a content-addressed index of bytecode programs in a
// local SQLite database, so deployed blobs can be identified by hash.

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the local bytecode store",
}

var storeAddCmd = &cobra.Command{
	Use:   "add [flags] <file.mrb>",
	Short: "Register a bytecode file in the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreAdd,
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered bytecode programs",
	Args:  cobra.NoArgs,
	RunE:  runStoreList,
}

func init() {
	storeCmd.PersistentFlags().String("db", "picovm-store.db", "store database path")
	storeAddCmd.Flags().String("name", "", "program name (default: file basename)")
	storeCmd.AddCommand(storeAddCmd)
	storeCmd.AddCommand(storeListCmd)
}

func openStore(cmd *cobra.Command) (*sql.DB, error) {
	path, _ := cmd.Flags().GetString("db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		sha256 TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		ireps INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return db, nil
}

func runStoreAdd(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(args[0])
	}

	rt, err := scratchRuntime()
	if err != nil {
		return err
	}
	irep, err := rt.LoadBytecode(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	ireps := irep.Count()
	rt.FreeIRep(irep)

	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	hash := sha256.Sum256(blob)
	_, err = db.Exec(
		`INSERT OR REPLACE INTO programs (name, sha256, size, ireps, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, hex.EncodeToString(hash[:]), len(blob), ireps, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	fmt.Printf("registered %s  sha256=%s  %d bytes, %d ireps\n",
		name, hex.EncodeToString(hash[:8]), len(blob), ireps)
	return nil
}

func runStoreList(cmd *cobra.Command, args []string) error {
	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT name, sha256, size, ireps, created_at FROM programs ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, hash, created string
		var size, ireps int
		if err := rows.Scan(&name, &hash, &size, &ireps, &created); err != nil {
			return err
		}
		fmt.Printf("%-24s %s  %6d bytes  %2d ireps  %s\n", name, hash[:16], size, ireps, created)
	}
	return rows.Err()
}
