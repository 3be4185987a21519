// symcli is the interactive client for the symdb daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/symdb-dev/symdb/internal/protocol"
)

var sockPath string

var rootCmd = &cobra.Command{
	Use:   "symcli",
	Short: "Query the symdb daemon",
}

func client() *protocol.Client {
	return protocol.NewClient(sockPath)
}

// fail prints a response error and exits non-zero.
func fail(errStr string) {
	fmt.Fprintln(os.Stderr, "error:", errStr)
	os.Exit(1)
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME HOME",
	Short: "Create a project from a home directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.CreateProject(args[0], args[1])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		fmt.Println("created", args[0])
		return nil
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update NAME HOME",
	Short: "Change a project's home and rebuild",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.UpdateProject(args[0], args[1])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		fmt.Println("updated", args[0])
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a project and its database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.DeleteProject(args[0])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.ListProjects()
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, p := range rsp.Projects {
			fmt.Printf("%s\t%s\n", p.Name, p.HomeDir)
		}
		return nil
	},
}

var projectFilesCmd = &cobra.Command{
	Use:   "files NAME",
	Short: "List a project's indexed files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.ListProjectFiles(args[0])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, f := range rsp.Files {
			fmt.Println(f)
		}
		return nil
	},
}

var symbolCmd = &cobra.Command{
	Use:   "symbol",
	Short: "Symbol queries",
}

var symbolDefCmd = &cobra.Command{
	Use:   "definition PROJECT USR [PATH]",
	Short: "Show where a symbol is defined",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		hint := ""
		if len(args) == 3 {
			hint = args[2]
		}
		rsp, err := c.GetSymbolDefinition(args[0], args[1], hint)
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, l := range rsp.Locations {
			fmt.Printf("%s:%d:%d\n", l.Path, l.Line, l.Col)
		}
		return nil
	},
}

var symbolRefCmd = &cobra.Command{
	Use:   "reference PROJECT USR [PATH]",
	Short: "Show where a symbol is referenced",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		hint := ""
		if len(args) == 3 {
			hint = args[2]
		}
		rsp, err := c.GetSymbolReferences(args[0], args[1], hint)
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, l := range rsp.Locations {
			fmt.Printf("%s:%d:%d\n", l.Path, l.Line, l.Col)
		}
		return nil
	},
}

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "File queries",
}

var fileSymbolsCmd = &cobra.Command{
	Use:   "symbols PROJECT PATH",
	Short: "List the symbols a file defines",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.ListFileSymbols(args[0], args[1])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, s := range rsp.Symbols {
			fmt.Println(s)
		}
		return nil
	},
}

var fileReferCmd = &cobra.Command{
	Use:   "refer PROJECT PATH",
	Short: "List the symbols a file references",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.ListFileReferences(args[0], args[1])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		for _, ref := range rsp.References {
			for _, l := range ref.Locations {
				fmt.Printf("%s\t%d:%d\n", ref.Symbol, l.Line, l.Col)
			}
		}
		return nil
	},
}

var fileRebuildCmd = &cobra.Command{
	Use:   "rebuild PROJECT PATH",
	Short: "Reparse one file from scratch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		defer c.Close()
		rsp, err := c.RebuildFile(args[0], args[1])
		if err != nil {
			return err
		}
		if rsp.Error != "" {
			fail(rsp.Error)
		}
		fmt.Println("rebuild scheduled")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sockPath, "socket",
		protocol.DefaultSockPath, "daemon socket path")

	projectCmd.AddCommand(projectCreateCmd, projectUpdateCmd, projectDeleteCmd,
		projectListCmd, projectFilesCmd)
	symbolCmd.AddCommand(symbolDefCmd, symbolRefCmd)
	fileCmd.AddCommand(fileSymbolsCmd, fileReferCmd, fileRebuildCmd)
	rootCmd.AddCommand(projectCmd, symbolCmd, fileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
