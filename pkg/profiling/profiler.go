// Package profiling captures runtime profiles around a CLI command.
package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// ProfileType represents the type of profiling to perform
type ProfileType string

const (
	CPUProfile       ProfileType = "cpu"
	MemoryProfile    ProfileType = "memory"
	BlockProfile     ProfileType = "block"
	MutexProfile     ProfileType = "mutex"
	GoroutineProfile ProfileType = "goroutine"
	TraceProfile     ProfileType = "trace"
)

// ParseTypes parses a comma-separated list of profile types. "all" selects
// every type.
func ParseTypes(s string) ([]ProfileType, error) {
	var types []ProfileType
	for _, part := range strings.Split(s, ",") {
		switch t := ProfileType(strings.TrimSpace(strings.ToLower(part))); t {
		case "":
		case "all":
			return []ProfileType{CPUProfile, MemoryProfile, BlockProfile, MutexProfile, GoroutineProfile, TraceProfile}, nil
		case CPUProfile, MemoryProfile, BlockProfile, MutexProfile, GoroutineProfile, TraceProfile:
			types = append(types, t)
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown profile type %q", part)
		}
	}
	return types, nil
}

// Config contains configuration for profiling
type Config struct {
	Types     []ProfileType
	OutputDir string
	// BlockProfileRate and MutexProfileFraction apply when the matching
	// profile is requested; zero means 1
	BlockProfileRate     int
	MutexProfileFraction int
}

// Profiler writes one file per requested profile into the output directory.
type Profiler struct {
	config    Config
	logger    *zap.Logger
	stamp     string
	startTime time.Time
	cpuFile   *os.File
	traceFile *os.File
	files     []string
}

// NewProfiler creates a new profiler instance
func NewProfiler(config Config, logger *zap.Logger) *Profiler {
	if config.OutputDir == "" {
		config.OutputDir = "./profiles"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{config: config, logger: logger}
}

func (p *Profiler) wants(t ProfileType) bool {
	for _, have := range p.config.Types {
		if have == t {
			return true
		}
	}
	return false
}

func (p *Profiler) create(name string) (*os.File, error) {
	filename := filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%s", name, p.stamp))
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile file").
			WithDetail("path", filename)
	}
	p.files = append(p.files, filename)
	return f, nil
}

// Start begins the continuous profiles (CPU and execution trace) and enables
// block and mutex sampling.
func (p *Profiler) Start() error {
	p.startTime = time.Now()
	p.stamp = p.startTime.Format("20060102_150405")
	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile directory").
			WithDetail("path", p.config.OutputDir)
	}

	if p.wants(BlockProfile) {
		runtime.SetBlockProfileRate(max(p.config.BlockProfileRate, 1))
	}
	if p.wants(MutexProfile) {
		runtime.SetMutexProfileFraction(max(p.config.MutexProfileFraction, 1))
	}

	if p.wants(CPUProfile) {
		f, err := p.create("cpu.prof")
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profiling")
		}
		p.cpuFile = f
	}
	if p.wants(TraceProfile) {
		f, err := p.create("trace.out")
		if err != nil {
			p.stopContinuous()
			return err
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			p.stopContinuous()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start tracing")
		}
		p.traceFile = f
	}

	p.logger.Info("profiling started",
		zap.String("output_dir", p.config.OutputDir),
		zap.Any("types", p.config.Types))
	return nil
}

func (p *Profiler) stopContinuous() {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}
	if p.traceFile != nil {
		trace.Stop()
		_ = p.traceFile.Close()
		p.traceFile = nil
	}
}

// Stop ends profiling, writes the snapshot profiles and returns the files
// written.
func (p *Profiler) Stop() ([]string, error) {
	p.stopContinuous()

	snapshots := []struct {
		typ  ProfileType
		name string
	}{
		{MemoryProfile, "heap"},
		{BlockProfile, "block"},
		{MutexProfile, "mutex"},
		{GoroutineProfile, "goroutine"},
	}
	var firstErr error
	for _, s := range snapshots {
		if !p.wants(s.typ) {
			continue
		}
		if err := p.writeSnapshot(s.name); err != nil {
			p.logger.Error("failed to save profile", zap.String("profile", s.name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if p.wants(BlockProfile) {
		runtime.SetBlockProfileRate(0)
	}
	if p.wants(MutexProfile) {
		runtime.SetMutexProfileFraction(0)
	}

	fields := []zap.Field{
		zap.Duration("duration", time.Since(p.startTime)),
		zap.Strings("files", p.files),
	}
	if rss, err := residentMemory(); err == nil {
		fields = append(fields, zap.Uint64("rss_bytes", rss))
	}
	p.logger.Info("profiling completed", fields...)
	return p.files, firstErr
}

// residentMemory reports the resident set size of the current process.
func residentMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

func (p *Profiler) writeSnapshot(name string) error {
	f, err := p.create(name + ".prof")
	if err != nil {
		return err
	}
	defer f.Close()

	if name == "heap" {
		runtime.GC()
	}
	if err := pprof.Lookup(name).WriteTo(f, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write profile").
			WithDetail("profile", name)
	}
	return nil
}
