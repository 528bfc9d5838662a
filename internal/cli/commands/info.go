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

	"github.com/spf13/cobra"

	"checkoutfs/internal/overlay"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show checkout and overlay status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ov := overlay.New(overlayPath(cfg))
		if err := ov.Initialize(cmd.Context()); err != nil {
			return err
		}
		defer ov.Close()

		fmt.Printf("Checkout:        %s\n", checkoutDir)
		fmt.Printf("Root hash:       %s\n", cfg.RootHash)
		fmt.Printf("Overlay:         %s\n", ov.Dir())
		fmt.Printf("Instance ID:     %s\n", ov.InstanceID())
		fmt.Printf("Max inode:       %d\n", ov.MaxInodeNumber())
		fmt.Printf("Clean shutdown:  %v\n", ov.HadCleanShutdown())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
