// Package device parses inference-device specifications and enumerates the
// targets the engine can run on.
//
// The accepted grammar is:
//
//	best | gpu | gpu:<uint> | cpu | cpu:<uint>
//
// An empty specification is equivalent to "cpu". This build has no GPU
// inference path: "gpu" specs parse successfully, but constructing an engine
// on one fails, and ListHardwareDevices reports CPU targets only.
package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/xaionaro-go/enhancer/pkg/status"
)

type Kind int

const (
	KindCPU Kind = iota
	KindGPU
	KindBest
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindGPU:
		return "gpu"
	case KindBest:
		return "best"
	default:
		return fmt.Sprintf("unknown-device-kind-%d", int(k))
	}
}

// Spec is a parsed device specification.
type Spec struct {
	Kind Kind

	// NumThreads is the requested amount of CPU worker threads;
	// 0 means the engine default. Meaningful only for KindCPU.
	NumThreads int

	// Index is the requested GPU index. Meaningful only for KindGPU;
	// HasIndex reports whether an index was given explicitly ("gpu:0"
	// as opposed to "gpu").
	Index    int
	HasIndex bool
}

// Parse parses a device specification string. Unrecognized specifications
// fail with an INVALID_ARGUMENT status.
func Parse(spec string) (Spec, error) {
	if spec == "" {
		return Spec{Kind: KindCPU}, nil
	}

	name, arg, hasArg := strings.Cut(spec, ":")
	switch name {
	case "best":
		if hasArg {
			return Spec{}, status.Errorf(status.KindInvalidArgument, "device specification %q: \"best\" does not accept an argument", spec)
		}
		return Spec{Kind: KindBest}, nil
	case "cpu":
		if !hasArg {
			return Spec{Kind: KindCPU}, nil
		}
		numThreads, err := parseUint(spec, arg)
		if err != nil {
			return Spec{}, err
		}
		if numThreads == 0 {
			return Spec{}, status.Errorf(status.KindInvalidArgument, "device specification %q: the amount of threads cannot be zero", spec)
		}
		return Spec{Kind: KindCPU, NumThreads: numThreads}, nil
	case "gpu":
		if !hasArg {
			return Spec{Kind: KindGPU}, nil
		}
		index, err := parseUint(spec, arg)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindGPU, Index: index, HasIndex: true}, nil
	default:
		return Spec{}, status.Errorf(status.KindInvalidArgument, "unrecognized device specification %q", spec)
	}
}

func parseUint(spec, arg string) (int, error) {
	v, err := strconv.ParseUint(arg, 10, 31)
	if err != nil {
		return 0, status.Errorf(status.KindInvalidArgument, "device specification %q: %q is not an unsigned integer", spec, arg)
	}
	return int(v), nil
}

func (s Spec) String() string {
	switch s.Kind {
	case KindCPU:
		if s.NumThreads > 0 {
			return fmt.Sprintf("cpu:%d", s.NumThreads)
		}
		return "cpu"
	case KindGPU:
		if s.HasIndex {
			return fmt.Sprintf("gpu:%d", s.Index)
		}
		return "gpu"
	default:
		return s.Kind.String()
	}
}

// Threads resolves the effective amount of worker threads for the spec.
func (s Spec) Threads() int {
	if s.Kind == KindCPU && s.NumThreads > 0 {
		return s.NumThreads
	}
	return defaultThreads()
}

func defaultThreads() int {
	numCPU := runtime.NumCPU()
	if numCPU < 1 {
		return 1
	}
	return numCPU
}

// ListHardwareDevices enumerates the device identifiers accepted by the
// engine constructor, in preference order. The returned slice is freshly
// allocated on every call; the caller owns it.
func ListHardwareDevices() []string {
	devices := []string{"best", "cpu"}
	for numThreads := 1; numThreads <= defaultThreads(); numThreads++ {
		devices = append(devices, fmt.Sprintf("cpu:%d", numThreads))
	}
	return devices
}
