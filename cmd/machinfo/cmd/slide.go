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

	"github.com/blacktop/go-machinfo/internal/utils"
	"github.com/blacktop/go-machinfo/pkg/machinfo"
)

func init() {
	rootCmd.AddCommand(slideCmd)
	slideCmd.Flags().String("base", "", "Running __TEXT base address (hex or decimal)")
	slideCmd.Flags().Int64("fat-offset", 0, "Byte offset to the 64-bit slice inside a fat container")
	slideCmd.MarkFlagRequired("base")
	slideCmd.MarkZshCompPositionalArgumentFile(1, "kernel*")
}

// slideCmd represents the slide command
var slideCmd = &cobra.Command{
	Use:           "slide <image>",
	Short:         "Compute the KASLR slide of a running image",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		fatOffset, _ := cmd.Flags().GetInt64("fat-offset")
		baseStr, _ := cmd.Flags().GetString("base")

		base, err := utils.ConvertStrToInt(baseStr)
		if err != nil {
			return fmt.Errorf("failed to parse --base: %v", err)
		}

		machoPath := filepath.Clean(args[0])

		mi := machinfo.New(machinfo.OSFilesystem{}, nil, &machinfo.Config{FatOffset: fatOffset})
		defer mi.Deinit()

		if err := mi.GetRunningAddresses(0, 0); err != nil {
			return err
		}
		if err := mi.Init([]string{machoPath}); err != nil {
			return err
		}

		fmt.Printf("%#x\n", base-mi.DiskBase())

		return nil
	},
}
