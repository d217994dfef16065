// Command nodestack-demo is a worked example wiring a generated object
// dictionary (via pkg/codegen) to a loopback candriver.Bus, looping
// Node.Process on a coarse tick in the spirit of the teacher's
// examples/basic. It is an example consumer of the stack, not a spec'd
// frontend: no NMT master, no SDO client, no persistence backing store are
// provided, matching the Non-goals this spec carries through.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	canopen "github.com/canofirmware/nodestack"
	"github.com/canofirmware/nodestack/pkg/candriver"
	"github.com/canofirmware/nodestack/pkg/codegen"
	"github.com/canofirmware/nodestack/pkg/devconfig"
	"github.com/canofirmware/nodestack/pkg/node"
)

// memSectionStore backs a bootloader section with a plain byte buffer,
// standing in for whatever flash driver a real application would supply.
type memSectionStore struct {
	data []byte
}

func (m *memSectionStore) Erase() bool       { m.data = nil; return true }
func (m *memSectionStore) Write(data []byte) { m.data = append(m.data, data...) }
func (m *memSectionStore) Finalize() bool    { return true }

const exampleDeviceYAML = `
vendor_name: example-vendor
vendor_number: 1
product_code: 1
revision_number: 1
serial_number: 1
software_version: "0.1.0"
hardware_version: "rev-a"
heartbeat_ms: 1000
auto_start: true
num_rpdo: 1
num_tpdo: 1
bootloader_sections:
  - name: firmware
    size_bytes: 131072
objects:
  - index: 0x2000
    parameter_name: Counter
    object_type: var
    var:
      data_type: uint32
      access_type: rw
      pdo_mapping: tpdo
      default_value: "0"
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := devconfig.Parse([]byte(exampleDeviceYAML))
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodestack-demo:", err)
		os.Exit(1)
	}

	result, err := codegen.Build(logger, cfg, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodestack-demo:", err)
		os.Exit(1)
	}

	for _, section := range result.BootloaderSections {
		section.RegisterCallbacks(&memSectionStore{})
	}

	bus := candriver.NewLoopbackBus()
	n := node.New(logger, node.Config{
		Dict:          result.Dict,
		FlagSync:      result.FlagSync,
		Identity1018:  result.Identity1018,
		Heartbeat1017: result.Heartbeat1017,
		AutoStart:     result.AutoStart,
		SaveTrigger:   result.SaveTrigger,
		TPDOs:         result.TPDOs,
		RPDOs:         result.RPDOs,
		NodeId:        1,
	})

	bus.Subscribe(n.Deliver)
	send := func(f canopen.Frame) error { return bus.Publish(f) }

	n.Boot(send)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if err := n.Process(1000, send); err != nil {
			logger.Error("process tick failed", "error", err)
		}
		if result.BootloaderInfo != nil && result.BootloaderInfo.ResetRequested() {
			logger.Info("bootloader reset requested")
			result.BootloaderInfo.ClearResetRequest()
		}
	}
}
