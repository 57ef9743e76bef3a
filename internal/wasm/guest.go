package wasm

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/wasm/abiv2"
)

// guest is a loaded plugin that answers one JSON request per call.
type guest interface {
	// call sends req to export and decodes the ok payload into resp, which
	// may be nil when the payload is ignored.
	call(ctx context.Context, export string, req, resp any) error
	has(export string) bool
	close(ctx context.Context) error
}

// hostHooks receive the host imports called by the guest.
type hostHooks struct {
	log      func(level uint32, msg string)
	incStats func(metric abiv2.Metric, delta int64)
}

type runtimeConfig struct {
	MemoryLimitPages uint32
	Cache            wazero.CompilationCache
}

// result is the envelope every guest export returns.
type result struct {
	Ok  json.RawMessage `json:"ok"`
	Err string          `json:"err,omitempty"`
}

type moduleGuest struct {
	runtime   wazero.Runtime
	module    api.Module
	alloc     api.Function
	allocArgs int
	version   string
}

// instantiate compiles wasmBytes in a fresh runtime, checks the declared ABI
// version and links the WASI and host imports.
func instantiate(ctx context.Context, wasmBytes []byte, cfg runtimeConfig, hooks hostHooks) (*moduleGuest, error) {
	rcfg := wazero.NewRuntimeConfig().WithCustomSections(true)
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.Cache != nil {
		rcfg = rcfg.WithCompilationCache(cfg.Cache)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, rcfg)

	g, err := link(ctx, runtime, wasmBytes, hooks)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	return g, nil
}

func link(ctx context.Context, runtime wazero.Runtime, wasmBytes []byte, hooks hostHooks) (*moduleGuest, error) {
	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fdw.PluginFault("compile package", err)
	}
	version, err := declaredVersion(compiled)
	if err != nil {
		return nil, err
	}
	if err := abiv2.CheckVersion(version); err != nil {
		return nil, err
	}
	if len(compiled.ExportedMemories()) == 0 {
		return nil, fdw.PluginFault("package exports no memory", nil)
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fdw.PluginFault("instantiate wasi", err)
	}
	if err := instantiateHost(ctx, runtime, hooks); err != nil {
		return nil, fdw.PluginFault("instantiate host module", err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("guest").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fdw.PluginFault("instantiate package", err)
	}

	g := &moduleGuest{runtime: runtime, module: module, version: version}
	if g.alloc = module.ExportedFunction("cabi_realloc"); g.alloc == nil {
		g.alloc = module.ExportedFunction("alloc")
	}
	if g.alloc == nil {
		return nil, fdw.PluginFault("package exports neither cabi_realloc nor alloc", nil)
	}
	g.allocArgs = len(g.alloc.Definition().ParamTypes())
	for _, name := range abiv2.RequiredExports {
		if !g.has(name) {
			return nil, fdw.PluginFault("package does not export "+name, nil)
		}
	}
	return g, nil
}

func declaredVersion(compiled wazero.CompiledModule) (string, error) {
	for _, section := range compiled.CustomSections() {
		if section.Name() == abiv2.VersionSection {
			return strings.TrimSpace(string(section.Data())), nil
		}
	}
	return "", fdw.PluginFault("package declares no "+abiv2.VersionSection+" section", nil)
}

func instantiateHost(ctx context.Context, runtime wazero.Runtime, hooks hostHooks) error {
	_, err := runtime.NewHostModuleBuilder(abiv2.HostModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, level, ptr, length uint32) {
			data, ok := m.Memory().Read(ptr, length)
			if !ok {
				Logger().Warn("guest log out of range", zap.Uint32("ptr", ptr), zap.Uint32("len", length))
				return
			}
			if hooks.log != nil {
				hooks.log(level, string(data))
			}
		}).
		Export("log").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, metric uint32, delta int64) {
			if hooks.incStats != nil {
				hooks.incStats(abiv2.Metric(metric), delta)
			}
		}).
		Export("inc_stats").
		Instantiate(ctx)
	return err
}

func (g *moduleGuest) has(export string) bool {
	return g.module.ExportedFunction(export) != nil
}

func (g *moduleGuest) call(ctx context.Context, export string, req, resp any) error {
	fn := g.module.ExportedFunction(export)
	if fn == nil {
		return fdw.PluginFault("package does not export "+export, nil)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fdw.PluginFault("encode "+export+" request", err)
	}
	ptr, err := g.write(ctx, payload)
	if err != nil {
		return err
	}
	out, err := fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return fdw.PluginFault("call "+export, err)
	}
	if len(out) != 1 {
		return fdw.PluginFault(fmt.Sprintf("%s returned %d values", export, len(out)), nil)
	}
	outPtr, outLen := uint32(out[0]>>32), uint32(out[0])
	view, ok := g.module.Memory().Read(outPtr, outLen)
	if !ok {
		return fdw.PluginFault(fmt.Sprintf("%s result out of range", export), nil)
	}
	data := bytes.Clone(view)
	if post := g.module.ExportedFunction(abiv2.PostReturnPrefix + export); post != nil {
		if _, err := post.Call(ctx, out[0]); err != nil {
			return fdw.PluginFault("call "+abiv2.PostReturnPrefix+export, err)
		}
	}
	return decodeResult(export, data, resp)
}

// write copies payload into memory allocated by the guest.
func (g *moduleGuest) write(ctx context.Context, payload []byte) (uint32, error) {
	size := uint64(len(payload))
	var (
		out []uint64
		err error
	)
	if g.allocArgs == 4 {
		out, err = g.alloc.Call(ctx, 0, 0, 1, size)
	} else {
		out, err = g.alloc.Call(ctx, size)
	}
	if err != nil {
		return 0, fdw.PluginFault("allocate guest memory", err)
	}
	if len(out) != 1 {
		return 0, fdw.PluginFault("guest allocator returned no pointer", nil)
	}
	ptr := uint32(out[0])
	if !g.module.Memory().Write(ptr, payload) {
		return 0, fdw.PluginFault("guest allocation out of range", nil)
	}
	return ptr, nil
}

func (g *moduleGuest) close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

func decodeResult(export string, data []byte, resp any) error {
	var env result
	if err := json.Unmarshal(data, &env); err != nil {
		return fdw.PluginFault("decode "+export+" result", err)
	}
	if env.Err != "" {
		return fdw.PluginFault(export+": "+env.Err, nil)
	}
	if resp == nil || len(env.Ok) == 0 || string(env.Ok) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Ok, resp); err != nil {
		return fdw.PluginFault("decode "+export+" result", err)
	}
	return nil
}
