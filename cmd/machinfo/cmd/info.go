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
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blacktop/go-machinfo/internal/config"
	"github.com/blacktop/go-machinfo/internal/utils"
	"github.com/blacktop/go-machinfo/pkg/machinfo"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().Int64("fat-offset", 0, "Byte offset to the 64-bit slice inside a fat container")
	infoCmd.MarkZshCompPositionalArgumentFile(1, "kernel*")
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info <image>",
	Aliases:       []string{"i"},
	Short:         "Dump a kernel image's layout and build identifier",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		fatOffset, _ := cmd.Flags().GetInt64("fat-offset")

		machoPath := filepath.Clean(args[0])

		mi := machinfo.New(machinfo.OSFilesystem{}, nil, &machinfo.Config{
			FatOffset:    fatOffset,
			MaxScanPages: conf.Scan.MaxPages,
		})
		defer mi.Deinit()

		log.Info("Parsing kernel image")
		if err := mi.GetRunningAddresses(0, 0); err != nil {
			return err
		}
		if err := mi.Init([]string{machoPath}); err != nil {
			return err
		}
		utils.Indent(log.Debug, 2)(fmt.Sprintf("Read %s load commands", machoPath))

		bold := color.New(color.Bold).SprintFunc()
		if uuid, ok := mi.UUID(); ok {
			fmt.Printf("%s        %s\n", bold("UUID:"), uuid)
		}
		fmt.Printf("%s %#x\n", bold("__TEXT base:"), mi.DiskBase())
		fmt.Printf("%s %s\n", bold("__TEXT size:"), humanize.Bytes(mi.TextSize()))
		fmt.Printf("%s     %d\n", bold("symbols:"), mi.SymbolCount())

		return nil
	},
}
