// Package device provides the execution context the kernels are dispatched
// onto: a host device, FIFO command streams and completion events.
package device

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/samcharles93/actkernel/internal/logger"
)

// Info describes the device the kernels run on.
type Info struct {
	Index    int      `json:"index"`
	Name     string   `json:"name"`
	Arch     string   `json:"arch"`
	OS       string   `json:"os"`
	Workers  int      `json:"workers"`
	Features []string `json:"features"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s/%s, %d workers, %s)", i.Name, i.OS, i.Arch, i.Workers, strings.Join(i.Features, ","))
}

// Probe reports the host CPU's int8-relevant SIMD features.
func Probe() Info {
	var feats []string
	add := func(ok bool, name string) {
		if ok {
			feats = append(feats, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
		add(cpu.X86.HasAVX512BW, "avx512bw")
		add(cpu.X86.HasAVX512VNNI, "avx512vnni")
		add(cpu.X86.HasAVXVNNI, "avxvnni")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasASIMDDP, "asimddp")
		add(cpu.ARM64.HasI8MM, "i8mm")
		add(cpu.ARM64.HasSVE, "sve")
	}
	if len(feats) == 0 {
		feats = []string{"generic"}
	}
	return Info{
		Name:     "host",
		Arch:     runtime.GOARCH,
		OS:       runtime.GOOS,
		Workers:  runtime.GOMAXPROCS(0),
		Features: feats,
	}
}

// Device is an opened execution device. Only index 0 exists.
type Device struct {
	info Info
	log  logger.Logger

	streamMu   sync.Mutex
	nextStream int
}

// Open returns the device at index. A nil logger discards.
func Open(index int, log logger.Logger) (*Device, error) {
	if index != 0 {
		return nil, &Error{Op: "open", Err: fmt.Errorf("no device with index %d", index)}
	}
	if log == nil {
		log = logger.Discard()
	}
	info := Probe()
	info.Index = index
	return &Device{info: info, log: log.With("device", index)}, nil
}

func (d *Device) Info() Info { return d.info }

// String renders the device the way the host framework names it.
func (d *Device) String() string {
	return fmt.Sprintf("host:%d", d.info.Index)
}
