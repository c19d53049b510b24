// Package hwaccel implements the pluggable hardware-decode acceleration
// layer described in spec §4.5: a per-backend Accelerator abstraction,
// a capability probe, and the Auto fallback order across backends.
//
// Grounded on original_source/src/decoder/hardware_accel.h's
// HardwareAccel class (init/setupDecoder/getHWFrame/transferFrameToHost/
// getSupportedHWAccelTypes), translated from a single concrete class
// wrapping libavutil/hwcontext into a Go interface with one value per
// backend, per DESIGN NOTES §9's "trait/interface with per-backend
// implementations, type-tag the handle before adoption" guidance. No
// concrete GPU backend is implemented here (Non-goal: "any specific
// hardware acceleration backend"); Enumerate reports only compile-time
// capability, and Create returns ErrUnavailable for everything until a
// real backend is registered via Register.
package hwaccel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Type identifies a hardware acceleration backend (spec §6 HWAccelType).
type Type string

const (
	TypeNone         Type = "none"
	TypeAuto         Type = "auto"
	TypeDXVA2        Type = "dxva2"
	TypeD3D11VA      Type = "d3d11va"
	TypeCUDA         Type = "cuda"
	TypeVAAPI        Type = "vaapi"
	TypeVDPAU        Type = "vdpau"
	TypeQSV          Type = "qsv"
	TypeVideoToolbox Type = "videotoolbox"
)

// AutoPriority is the fallback order Auto probes in, per spec §6:
// "D3D11VA -> DXVA2 -> CUDA -> QSV -> VAAPI -> VDPAU -> VideoToolbox".
var AutoPriority = []Type{
	TypeD3D11VA, TypeDXVA2, TypeCUDA, TypeQSV, TypeVAAPI, TypeVDPAU, TypeVideoToolbox,
}

// ErrUnavailable is returned by Create when no registered backend for the
// requested type can initialize a device (absent driver, absent GPU, or no
// backend registered for that Type at all).
var ErrUnavailable = errors.New("hwaccel: backend unavailable")

// Info describes one probed backend, returned from Enumerate.
type Info struct {
	Type        Type
	Name        string
	Description string
	Available   bool
}

// Accelerator is the per-backend contract a concrete hardware accelerator
// implements (spec §4.5).
type Accelerator interface {
	Type() Type
	// SetupDecoder prepares a decode context to emit frames in this
	// backend's hardware pixel format. codecCtx is an opaque handle owned
	// by the caller (the underlying reisen/libav decode context).
	SetupDecoder(codecCtx any) error
	// TransferToHost copies a hardware-resident frame into system memory.
	// hwFrame/swFrame are opaque handles understood by the concrete
	// backend and the decoder driving it.
	TransferToHost(hwFrame any) (swFrame any, err error)
	DeviceName() string
	DeviceIndex() int
	Close() error
}

// Factory constructs an Accelerator for a given device index, invoking the
// caller-supplied HWContextCallbacks.Create hook for the actual hardware
// context creation (spec §6 HWContextCallbacks).
type Factory func(deviceIndex int, create func(Type, int) (any, error)) (Accelerator, error)

var (
	registryMu sync.RWMutex
	registry   = map[Type]Factory{}
)

// Register installs a Factory for a backend type. Concrete backends call
// this from an init() in a build-tag-gated file; none ship in this module.
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

func registered(t Type) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[t]
	return f, ok
}

// maxConcurrentProbes bounds how many backend probes Enumerate runs in
// parallel, so probing a machine with many candidate backends doesn't spin
// up unbounded device-open attempts at once.
const maxConcurrentProbes = 4

// Enumerate reports every backend this build knows about, probing each for
// availability concurrently (bounded by maxConcurrentProbes).
func Enumerate(ctx context.Context) []Info {
	registryMu.RLock()
	types := make([]Type, 0, len(registry)+1)
	for t := range registry {
		types = append(types, t)
	}
	registryMu.RUnlock()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	infos := make([]Info, len(types))
	sem := semaphore.NewWeighted(maxConcurrentProbes)
	var wg sync.WaitGroup
	for i, t := range types {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				infos[i] = Info{Type: t, Name: string(t), Available: false}
				return
			}
			defer sem.Release(1)
			infos[i] = probe(ctx, t)
		}()
	}
	wg.Wait()
	return infos
}

func probe(ctx context.Context, t Type) Info {
	_, ok := registered(t)
	return Info{
		Type:        t,
		Name:        string(t),
		Description: fmt.Sprintf("%s hardware decode backend", t),
		Available:   ok,
	}
}

// Create initializes an Accelerator for the given type. TypeAuto walks
// AutoPriority in order and returns the first backend that initializes
// successfully; any other type attempts only that one backend.
func Create(t Type, deviceIndex int, createCtx func(Type, int) (any, error)) (Accelerator, error) {
	if t == TypeNone {
		return nil, nil
	}
	if t != TypeAuto {
		return createOne(t, deviceIndex, createCtx)
	}
	var lastErr error = ErrUnavailable
	for _, candidate := range AutoPriority {
		acc, err := createOne(candidate, deviceIndex, createCtx)
		if err == nil {
			return acc, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func createOne(t Type, deviceIndex int, createCtx func(Type, int) (any, error)) (Accelerator, error) {
	factory, ok := registered(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, t)
	}
	return factory(deviceIndex, createCtx)
}
