// Copyright 2026 CheckoutFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/cobra"

	"checkoutfs/internal/overlay"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging helpers for the overlay",
}

var dumpExcludeFrom string

var debugDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump overlay inode records reachable from the root",
	Long: `Prints every directory record reachable from the root inode, depth
first, with the entries each one lists. Paths matching a gitignore-style
exclude file can be skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		excludeFile := dumpExcludeFrom
		if excludeFile == "" && cfg.ExcludeFile != "" {
			excludeFile = filepath.Join(checkoutDir, cfg.ExcludeFile)
		}

		var skip overlay.DumpFilter
		if excludeFile != "" {
			matcher, err := ignore.CompileIgnoreFile(excludeFile)
			if err != nil {
				return fmt.Errorf("failed to read exclude file %s: %w", excludeFile, err)
			}
			skip = func(path string, isDir bool) bool {
				return matcher.MatchesPath(path)
			}
		}

		ov := overlay.New(overlayPath(cfg))
		if err := ov.Initialize(cmd.Context()); err != nil {
			return err
		}
		defer ov.Close()

		out, err := ov.DumpInodes(overlay.RootInodeNumber, skip)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var debugRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Force allocator recovery by discarding the clean-shutdown marker",
	Long: `Deletes the next-inode-number file and reinitializes the overlay,
forcing the full recovery scan. Useful when the marker is suspected stale,
for example after restoring an overlay directory from a backup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := overlayPath(cfg)
		if err := overlay.DiscardShutdownMarker(dir); err != nil {
			return err
		}

		ov := overlay.New(dir)
		if err := ov.Initialize(cmd.Context()); err != nil {
			return err
		}
		max := ov.MaxInodeNumber()
		if err := ov.Close(); err != nil {
			return err
		}
		fmt.Printf("Recovery complete: max inode number %d\n", max)
		return nil
	},
}

func init() {
	debugDumpCmd.Flags().StringVar(&dumpExcludeFrom, "exclude-from", "",
		"gitignore-style file of paths to omit")
	debugCmd.AddCommand(debugDumpCmd)
	debugCmd.AddCommand(debugRecoverCmd)
	rootCmd.AddCommand(debugCmd)
}
