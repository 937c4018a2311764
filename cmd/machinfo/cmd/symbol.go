/*
Copyright © 2026 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/go-machinfo/internal/config"
	"github.com/blacktop/go-machinfo/internal/utils"
	"github.com/blacktop/go-machinfo/pkg/machinfo"
)

func init() {
	rootCmd.AddCommand(symbolCmd)
	symbolCmd.Flags().String("slide", "", "Load slide of the running image (hex or decimal)")
	symbolCmd.Flags().String("base", "", "Running __TEXT base address (hex or decimal)")
	symbolCmd.Flags().Int64("fat-offset", 0, "Byte offset to the 64-bit slice inside a fat container")
	symbolCmd.MarkZshCompPositionalArgumentFile(1, "kernel*")
}

// symbolCmd represents the symbol command
var symbolCmd = &cobra.Command{
	Use:           "symbol <image> <name>",
	Aliases:       []string{"sym"},
	Short:         "Resolve an exported symbol to its slid runtime address",
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		fatOffset, _ := cmd.Flags().GetInt64("fat-offset")
		slideStr, _ := cmd.Flags().GetString("slide")
		baseStr, _ := cmd.Flags().GetString("base")
		if slideStr != "" && baseStr != "" {
			return fmt.Errorf("--slide and --base are mutually exclusive")
		}

		var slide, base uint64
		var err error
		if slideStr != "" {
			if slide, err = utils.ConvertStrToInt(slideStr); err != nil {
				return fmt.Errorf("failed to parse --slide: %v", err)
			}
		}
		if baseStr != "" {
			if base, err = utils.ConvertStrToInt(baseStr); err != nil {
				return fmt.Errorf("failed to parse --base: %v", err)
			}
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		machoPath := filepath.Clean(args[0])
		name := args[1]

		mi := machinfo.New(machinfo.OSFilesystem{}, nil, &machinfo.Config{
			FatOffset:    fatOffset,
			MaxScanPages: conf.Scan.MaxPages,
		})
		defer mi.Deinit()

		if err := mi.GetRunningAddresses(0, 0); err != nil {
			return err
		}
		if err := mi.Init([]string{machoPath}); err != nil {
			return err
		}

		addr := mi.SolveSymbol(name)
		if addr == 0 {
			return fmt.Errorf("symbol %s not found in %s", name, machoPath)
		}

		// the descriptor was parsed with a zero slide, so addr is the
		// on-disk virtual address; re-base it onto the running position
		if base != 0 {
			addr = base + (addr - mi.DiskBase())
		} else {
			addr += slide
		}

		log.WithFields(log.Fields{
			"symbol": name,
			"image":  machoPath,
		}).Debug("solved")
		fmt.Println(utils.FormatAddress(addr))

		return nil
	},
}
