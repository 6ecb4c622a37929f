package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wirelang/wirec/compiler"
)

func main() {
	compileCmd := &cli.Command{
		Name:   "compile",
		Action: compileAct,
		Args:   cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("backend,b", "cpp", "backend to generate code with"),
			cli.NewFlag("output,o", ".", "output directory"),
		},
	}

	validateCmd := &cli.Command{
		Name:   "validate",
		Action: validateAct,
		Args:   cli.Args{},
	}

	dumpCmd := &cli.Command{
		Name:   "dump",
		Action: dumpAct,
		Args:   cli.Args{},
	}

	app := &cli.Command{
		Name:        "wirec",
		Description: "wirec compiles binary format schemas into codec libraries",
		Commands: []*cli.Command{
			compileCmd,
			validateCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	backend := c.String("backend")
	outDir := c.String("output")

	for _, a := range c.Args {
		file, err := compiler.CompileFile(ctx, a, backend)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		out := filepath.Join(outDir, file.Path)

		err = os.MkdirAll(outDir, 0o755)
		if err != nil {
			return errors.Wrap(err, "create output dir")
		}

		err = os.WriteFile(out, file.Data, 0o644)
		if err != nil {
			return errors.Wrap(err, "write %v", out)
		}

		fmt.Printf("generated %s\n", out)
	}

	return nil
}

func validateAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		err := compiler.ValidateFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "validate %v", a)
		}
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		text, err := os.ReadFile(a)
		if err != nil {
			return errors.Wrap(err, "read file")
		}

		y, err := compiler.Dump(ctx, text)
		if err != nil {
			return errors.Wrap(err, "dump %v", a)
		}

		fmt.Printf("%s", y)
	}

	return nil
}
