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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"checkoutfs/internal/common"
	"checkoutfs/internal/config"
	"checkoutfs/internal/objectstore"
	"checkoutfs/internal/overlay"
)

var initRootHash string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a checkout in the target directory",
	Long: `Creates the checkout config and an empty overlay. The overlay is
opened once and closed cleanly so the first real session starts fast.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := objectstore.HashFromHex(initRootHash); err != nil {
			return fmt.Errorf("invalid --root: %w", err)
		}
		if err := os.MkdirAll(checkoutDir, 0755); err != nil {
			return err
		}
		cfgPath := filepath.Join(checkoutDir, config.ConfigFileName)
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s: %w", cfgPath, common.ErrAlreadyInitialized)
		}

		cfg := &config.Config{RootHash: initRootHash}
		cfg.ApplyDefaults()
		if err := cfg.Save(checkoutDir); err != nil {
			return err
		}

		ov := overlay.New(overlayPath(cfg))
		if err := ov.Initialize(cmd.Context()); err != nil {
			return err
		}
		if err := ov.Close(); err != nil {
			return err
		}

		fmt.Printf("Initialized checkout at %s (root %s)\n", checkoutDir, initRootHash)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initRootHash, "root", "", "root tree hash to check out (hex)")
	initCmd.MarkFlagRequired("root")
	rootCmd.AddCommand(initCmd)
}
