// dexgraph is a CLI front end over the core packages: it only calls the
// public handle/iteration/lookup surface of vm, classloader, analysis,
// pointsto, and dot.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "dexgraph",
		Short: "A DEX/Dalvik static-analysis front end",
		Long:  "Loads DEX files into the core's class/method/field graphs and runs dataflow, call-graph, and points-to analyses over them.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newCallGraphCmd())
	rootCmd.AddCommand(newDotCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// prettyPrint is a json.Indent-based formatter for ad hoc structure dumps.
func prettyPrint(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "\t"); err != nil {
		return string(raw)
	}
	return pretty.String()
}
