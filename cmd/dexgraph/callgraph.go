package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dexgraph/dexgraph/analysis"
	"github.com/dexgraph/dexgraph/pointsto"
)

func newCallGraphCmd() *cobra.Command {
	var dexPaths []string
	var onTheFly bool

	cmd := &cobra.Command{
		Use:   "callgraph",
		Short: "Build and print a call graph",
		Long:  "Runs the cheap CHA builder, or the Andersen-style on-the-fly points-to engine with --onthefly, over every loaded method's code, printing caller -> callee edges.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := buildVM(dexPaths)
			if err != nil {
				return err
			}

			entryPoints := make([]int, len(v.Methods))
			for i := range v.Methods {
				entryPoints[i] = i
			}

			if onTheFly {
				engine := pointsto.New(v, &pointsto.Options{OnTheFly: true})
				if err := engine.Run(entryPoints); err != nil {
					return err
				}
				for _, edge := range engine.CallGraph {
					fmt.Printf("%s@%s -> %s%s\n", edge.CallerMethod, edge.Context, edge.CalleeMethod, virtualSuffix(edge.Virtual))
				}
				return nil
			}

			cg, err := analysis.BuildCHACallGraph(v, entryPoints)
			if err != nil {
				return err
			}
			for _, edge := range cg.Edges {
				fmt.Printf("%s -> %s\n", v.Methods[edge.Caller].Jvm, v.Methods[edge.Callee].Jvm)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dexPaths, "dex", nil, "DEX file path (repeatable)")
	cmd.Flags().BoolVar(&onTheFly, "onthefly", false, "use the on-the-fly points-to call graph instead of CHA")
	cmd.MarkFlagRequired("dex")
	return cmd
}

func virtualSuffix(virtual bool) string {
	if virtual {
		return " (virtual)"
	}
	return ""
}
