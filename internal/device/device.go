package device

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Backend identifies the accelerator used for training.
type Backend string

const (
	MPS  Backend = "mps"
	CUDA Backend = "cuda"
	CPU  Backend = "cpu"
)

// Facts are the raw platform observations a profile is derived from. They are
// kept separate from Profile so profile selection stays a pure function.
type Facts struct {
	OS   string
	Arch string

	HasMPS  bool
	HasCUDA bool
}

// Profile holds the device-dependent training defaults. BF16 and FP16 are
// never both true.
type Profile struct {
	Backend Backend

	BF16 bool
	FP16 bool

	DefaultBatchSize      int
	GradientCheckpointing bool
}

// Detect gathers platform facts once at startup. It never fails; missing
// accelerators simply leave the corresponding flags false.
func Detect() Facts {
	facts := Facts{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	// MPS ships with Apple Silicon Macs.
	facts.HasMPS = facts.OS == "darwin" && facts.Arch == "arm64"

	// A usable CUDA stack always comes with the nvidia-smi tool.
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		facts.HasCUDA = true
	}

	return facts
}

// ProfileFor maps platform facts to training defaults. MPS is preferred over
// CUDA, CPU is the fallback.
func ProfileFor(facts Facts) Profile {
	switch {
	case facts.HasMPS:
		return Profile{
			Backend:               MPS,
			BF16:                  false, // MPS doesn't support bf16
			FP16:                  false, // fp16 can be unstable on MPS
			DefaultBatchSize:      2,
			GradientCheckpointing: true,
		}
	case facts.HasCUDA:
		return Profile{
			Backend:               CUDA,
			BF16:                  true,
			FP16:                  false,
			DefaultBatchSize:      4,
			GradientCheckpointing: false,
		}
	default:
		return Profile{
			Backend:               CPU,
			BF16:                  false,
			FP16:                  false,
			DefaultBatchSize:      1,
			GradientCheckpointing: true,
		}
	}
}

// ErrNotMacOS is returned by CheckAppleSilicon on non-Mac hosts, where the
// MLX toolchain cannot run.
var ErrNotMacOS = fmt.Errorf("MLX requires macOS with Apple Silicon (M1/M2/M3/M4)")

// CheckAppleSilicon gates the LoRA variant: fatal off macOS, warning on Intel
// Macs where MLX runs but slowly.
func CheckAppleSilicon(facts Facts, w io.Writer) error {
	if facts.OS != "darwin" {
		return ErrNotMacOS
	}

	if facts.Arch != "arm64" {
		fmt.Fprintln(w, "WARNING: Not running on Apple Silicon")
		fmt.Fprintln(w, "MLX works best on Apple Silicon (M1/M2/M3/M4).")
		fmt.Fprintln(w, "Performance on Intel Macs will be limited.")
	}

	return nil
}
