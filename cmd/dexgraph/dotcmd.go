package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dexgraph/dexgraph/dot"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/pointsto"
)

func newDotCmd() *cobra.Command {
	var dexPaths []string
	var kind string
	var classDesc string
	var methodName string
	var out string

	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Emit a Graphviz rendering of a graph",
		Long:  "Writes one of the class graph, one method's instruction graph, or an on-the-fly points-to engine's PAG as Graphviz DOT text.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, loader, err := buildVM(dexPaths)
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			switch kind {
			case "classes":
				return dot.WriteClassGraph(w, v)

			case "method":
				if classDesc == "" || methodName == "" {
					return fmt.Errorf("--class and --method are both required for --kind=method")
				}
				classJvm := hdl.JvmTypeHandle{Loader: loader, Descriptor: classDesc}
				methodIdx, ok := v.MethodByJvm(hdl.JvmMethodHandle{Type: classJvm, UniqueName: methodName})
				if !ok {
					return fmt.Errorf("method %s.%s not found under loader %s", classDesc, methodName, loader)
				}
				method := v.Methods[methodIdx]
				if method.Graph == nil {
					return fmt.Errorf("method %s.%s has no code item (abstract or native)", classDesc, methodName)
				}
				return dot.WriteInsnGraph(w, method.Graph)

			case "pag":
				entryPoints := make([]int, len(v.Methods))
				for i := range v.Methods {
					entryPoints[i] = i
				}
				engine := pointsto.New(v, &pointsto.Options{OnTheFly: true})
				if err := engine.Run(entryPoints); err != nil {
					return err
				}
				return dot.WritePAG(w, engine)

			default:
				return fmt.Errorf("unknown --kind %q (want classes, method, or pag)", kind)
			}
		},
	}
	cmd.Flags().StringSliceVar(&dexPaths, "dex", nil, "DEX file path (repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "classes", "graph to render: classes, method, or pag")
	cmd.Flags().StringVar(&classDesc, "class", "", "class type descriptor, required for --kind=method")
	cmd.Flags().StringVar(&methodName, "method", "", "unique method name, e.g. bar()V, required for --kind=method")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	cmd.MarkFlagRequired("dex")
	return cmd
}
