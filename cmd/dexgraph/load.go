package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/vm"
)

// buildVM opens and parses every path under one loader, then eagerly
// FindClass-es every class_def so counts and subsequent lookups see a
// fully-loaded class graph.
func buildVM(paths []string) (*vm.VM, hdl.ClassLoaderHandle, error) {
	v := vm.New(nil)
	loader := v.AddLoader("app")

	for _, path := range paths {
		file, err := dexfile.New(path, nil)
		if err != nil {
			return nil, hdl.ClassLoaderHandle{}, fmt.Errorf("parse %s: %w", path, err)
		}
		fileHdl := v.AddFile(loader, file)

		for i, cd := range file.ClassDefs {
			desc := file.TypeDescriptor(cd.ClassIdx)
			jvmHdl := hdl.JvmTypeHandle{Loader: loader, Descriptor: desc}
			if _, err := classloader.FindClass(v, jvmHdl, true); err != nil {
				return nil, hdl.ClassLoaderHandle{}, fmt.Errorf("%s: class_def[%d] (%s): %w", fileHdl, i, desc, err)
			}
		}
	}
	return v, loader, nil
}

func newLoadCmd() *cobra.Command {
	var dexPaths []string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a loader hierarchy and report class/method/field counts",
		Long:  "Parses one or more DEX files under a single class loader and eagerly resolves every declared class, printing the resulting graph sizes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, loader, err := buildVM(dexPaths)
			if err != nil {
				return err
			}
			fmt.Printf("loader %s: %d file(s), %d class(es), %d method(s), %d field(s)\n",
				loader, len(v.Loader(loader).Files), len(v.Classes), len(v.Methods), len(v.Fields))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dexPaths, "dex", nil, "DEX file path (repeatable)")
	cmd.MarkFlagRequired("dex")
	return cmd
}
