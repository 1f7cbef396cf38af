// Command slategen generates typed snapshot structs and resolvers from a
// slate schema file. It is meant for go:generate:
//
//	//go:generate go run slate/cmd/slategen --model schema.yaml --package models --out models_gen.go
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"slate/internal/codegen"
	"slate/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "slategen: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var modelPath, pkg, out string
	cmd := &cobra.Command{
		Use:           "slategen",
		Short:         "Generate snapshot types from a slate schema",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(modelPath, pkg, out, stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.Flags().StringVarP(&modelPath, "model", "m", "schema.yaml", "schema file (YAML)")
	cmd.Flags().StringVarP(&pkg, "package", "p", os.Getenv("GOPACKAGE"), "package clause of the generated file")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func run(modelPath, pkg, out string, stdout io.Writer) error {
	if pkg == "" {
		return errors.New("--package is required outside go:generate")
	}
	model, err := domain.LoadModel(modelPath)
	if err != nil {
		return err
	}
	src, err := codegen.Generate(model, codegen.Options{Package: pkg, Source: filepath.Base(modelPath)})
	if err != nil {
		return err
	}
	if out == "" {
		_, err = stdout.Write(src)
		return err
	}
	// Leave the file untouched when nothing changed so build caches stay warm.
	if prev, err := os.ReadFile(out); err == nil && bytes.Equal(prev, src) {
		return nil
	}
	return os.WriteFile(out, src, 0o644) // #nosec G306 -- generated source is not secret
}
