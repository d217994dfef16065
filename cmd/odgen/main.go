// Command odgen is the build-time code generator from spec §4.10: it reads
// a declarative device configuration and writes a Go source file exposing a
// BuildOD function that constructs the described object dictionary at
// runtime.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/canofirmware/nodestack/pkg/codegen"
	"github.com/canofirmware/nodestack/pkg/devconfig"
)

func main() {
	inPath := flag.String("i", "", "device configuration YAML path")
	outPath := flag.String("o", "", "output Go source path")
	pkgName := flag.String("pkg", "device", "package name for the generated file")
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: odgen -i device.yaml -o device_gen.go [-pkg device]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "odgen: reading %s: %v\n", *inPath, err)
		os.Exit(1)
	}

	cfg, err := devconfig.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "odgen: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "odgen: %v\n", err)
		os.Exit(1)
	}

	out, err := codegen.Generate(*pkgName, data, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "odgen: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "odgen: writing %s: %v\n", *outPath, err)
		os.Exit(1)
	}
}
