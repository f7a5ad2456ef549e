package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dexgraph/dexgraph/analysis/proptree"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/insn"
)

func newDumpCmd() *cobra.Command {
	var dexPaths []string
	var classDesc string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump a class, its methods, and their CFGs",
		Long:  "Loads the given DEX files and prints one class's fields and methods, indented as a tree (or flat JSON with --json).",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, loader, err := buildVM(dexPaths)
			if err != nil {
				return err
			}
			classIdx, ok := v.ClassByJvm(hdl.JvmTypeHandle{Loader: loader, Descriptor: classDesc})
			if !ok {
				return fmt.Errorf("class %s not found under loader %s", classDesc, loader)
			}
			class := v.Classes[classIdx]

			if asJSON {
				fmt.Println(prettyPrint(class))
				return nil
			}

			tree := proptree.New[any](class.Jvm.Descriptor, class)
			for _, fieldHdl := range append(append([]hdl.DexFieldHandle{}, class.StaticFields...), class.InstanceFields...) {
				fieldIdx, ok := v.FieldByDex(fieldHdl)
				if !ok {
					continue
				}
				tree.AddChild(v.Fields[fieldIdx].Jvm.UniqueName, v.Fields[fieldIdx])
			}
			for _, methodHdl := range append(append([]hdl.DexMethodHandle{}, class.Dtable...), class.Vtable...) {
				methodIdx, ok := v.MethodByDex(methodHdl)
				if !ok {
					continue
				}
				method := v.Methods[methodIdx]
				methodNode := tree.AddChild(method.Jvm.UniqueName, method)
				if method.Graph == nil {
					continue
				}
				for i, vtx := range method.Graph.Vertices {
					methodNode.AddChild(fmt.Sprintf("%d", i), insn.Info(vtx.Insn.Op).Mnemonic)
				}
			}

			tree.Walk(func(node *proptree.Tree[any], depth int) {
				fmt.Printf("%s%s\n", strings.Repeat("  ", depth), node.Name)
			})
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dexPaths, "dex", nil, "DEX file path (repeatable)")
	cmd.Flags().StringVar(&classDesc, "class", "", "class type descriptor, e.g. Lcom/example/Foo;")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw class vertex as JSON instead of a tree")
	cmd.MarkFlagRequired("dex")
	cmd.MarkFlagRequired("class")
	return cmd
}
