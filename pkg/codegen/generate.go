package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"text/template"

	"github.com/canofirmware/nodestack/pkg/devconfig"
)

// Generate renders a Go source file for package pkgName that embeds cfg's
// original YAML and exposes a BuildOD() function calling back into Build.
// This is the literal output of the "build-time tool" spec §4.10 describes;
// it stays a thin wrapper around Build rather than re-emitting the object
// construction logic as text; a generated main package only ever needs one
// call, and keeping the logic itself in Go source (not text/template
// strings) means it can be tested directly without running the generator.
func Generate(pkgName string, yamlSource []byte, cfg *devconfig.DeviceConfig) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := generateTemplate.Execute(&buf, templateData{
		PackageName: pkgName,
		YAMLLiteral: string(yamlSource),
		VendorName:  cfg.VendorName,
		NumRPDO:     cfg.NumRPDO,
		NumTPDO:     cfg.NumTPDO,
		ObjectCount: len(cfg.Objects),
	}); err != nil {
		return nil, fmt.Errorf("codegen: render: %w", err)
	}

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("codegen: gofmt generated source: %w", err)
	}
	return out, nil
}

type templateData struct {
	PackageName string
	YAMLLiteral string
	VendorName  string
	NumRPDO     uint8
	NumTPDO     uint8
	ObjectCount int
}

var generateTemplate = template.Must(template.New("device").Parse(`// Code generated by odgen from a device configuration. DO NOT EDIT.

package {{.PackageName}}

import (
	"log/slog"

	"github.com/canofirmware/nodestack/pkg/codegen"
	"github.com/canofirmware/nodestack/pkg/devconfig"
)

// deviceYAML is the exact device configuration this file was generated
// from (vendor {{.VendorName}}, {{.NumRPDO}} RPDO, {{.NumTPDO}} TPDO, {{.ObjectCount}} application objects).
var deviceYAML = []byte(` + "`{{.YAMLLiteral}}`" + `)

// BuildOD re-parses the embedded device configuration and constructs the
// object dictionary and PDO instances it describes.
func BuildOD(logger *slog.Logger, persistSupported bool) (*codegen.Result, error) {
	cfg, err := devconfig.Parse(deviceYAML)
	if err != nil {
		return nil, err
	}
	return codegen.Build(logger, cfg, persistSupported)
}
`))
