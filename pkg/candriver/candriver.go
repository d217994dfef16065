// Package candriver provides the external CAN driver boundary spec §6 and
// §1 describe as out of scope ("the CAN physical driver... provides
// send/receive primitives") but whose *interface* the stack depends on.
//
// It mirrors the teacher's own Bus/FrameHandler split in bus.go and
// bus_manager.go: a Bus is anything that can Publish a frame and deliver
// received frames to a Subscribe'd handler. LoopbackBus is a virtual,
// in-process Bus good enough for tests and the example binary. SocketCANBus
// wraps github.com/brutella/can's Bus, translating between our wire-level
// canopen.Frame and can.Frame at the boundary, giving that teacher
// dependency a concrete, exercised home without claiming to implement a
// real hardware backend.
package candriver

import (
	"sync"

	"github.com/brutella/can"

	canopen "github.com/canofirmware/nodestack"
)

// Bus is the send/receive primitive Node.Process and Node.Deliver are
// built around. Implementations must not block Publish on Subscribe
// handlers taking long.
type Bus interface {
	Publish(f canopen.Frame) error
	Subscribe(handler func(canopen.Frame))
}

// LoopbackBus delivers every published frame back to its own subscribers,
// the way a single-node bench setup or an integration test exercises the
// stack without real hardware.
type LoopbackBus struct {
	mu       sync.Mutex
	handlers []func(canopen.Frame)
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

func (b *LoopbackBus) Subscribe(handler func(canopen.Frame)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *LoopbackBus) Publish(f canopen.Frame) error {
	b.mu.Lock()
	handlers := append([]func(canopen.Frame){}, b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
	return nil
}

// SocketCANBus adapts a github.com/brutella/can Bus (a real SocketCAN
// interface on Linux) to the Bus interface above. Construction is the
// caller's responsibility (can.NewBusForInterfaceWithName plus
// bus.ConnectAndPublish in its own goroutine, as the brutella/can README
// documents); this type only does frame translation and subscription
// bookkeeping, matching the division of labour the teacher's BusManager
// keeps between itself and the underlying can.Bus.
type SocketCANBus struct {
	bus      *can.Bus
	mu       sync.Mutex
	handlers []func(canopen.Frame)
}

// NewSocketCANBus wraps an already-constructed brutella/can Bus and
// registers itself as its single frame handler.
func NewSocketCANBus(bus *can.Bus) *SocketCANBus {
	d := &SocketCANBus{bus: bus}
	bus.SubscribeFunc(d.dispatch)
	return d
}

func (d *SocketCANBus) dispatch(frm can.Frame) {
	f := fromCanFrame(frm)
	d.mu.Lock()
	handlers := append([]func(canopen.Frame){}, d.handlers...)
	d.mu.Unlock()
	for _, h := range handlers {
		h(f)
	}
}

func (d *SocketCANBus) Subscribe(handler func(canopen.Frame)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

func (d *SocketCANBus) Publish(f canopen.Frame) error {
	return d.bus.Publish(toCanFrame(f))
}

func toCanFrame(f canopen.Frame) can.Frame {
	frm := can.Frame{ID: f.ID, Length: f.DLC, Data: f.Data}
	if f.RTR {
		frm.ID |= 0x40000000 // CAN_RTR_FLAG, per the teacher's driver.go constant
	}
	return frm
}

func fromCanFrame(frm can.Frame) canopen.Frame {
	const rtrFlag = 0x40000000
	const sffMask = 0x000007FF
	return canopen.Frame{
		ID:   frm.ID & sffMask,
		RTR:  frm.ID&rtrFlag != 0,
		DLC:  frm.Length,
		Data: frm.Data,
	}
}
