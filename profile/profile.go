// Package profile implements the instruction-counter ingestion hook:
// external callers (an OpenGL visualizer, a JDWP transport sampling
// profiler) drive the core with batches of raw (byte-offset, increment)
// samples collected against an on-device ODEX, and this package turns
// each sample into a (method, instruction-graph vertex) pair whose
// Counter it bumps.
package profile

import (
	"github.com/dexgraph/dexgraph/classloader"
	"github.com/dexgraph/dexgraph/dexerr"
	"github.com/dexgraph/dexgraph/dexfile"
	"github.com/dexgraph/dexgraph/hdl"
	"github.com/dexgraph/dexgraph/vm"
)

// Sample is one raw profiler hit: byteOffset is measured from the start
// of the DEX image (for an ODEX, the DEX embedded at its dex_off),
// matching FindInsn's convention; Increment is the
// counter delta to add (almost always 1, but batched samples may
// pre-aggregate repeat hits).
type Sample struct {
	ByteOffset uint32
	Increment  uint64
}

// Result reports what Ingest actually did with a batch, so a caller can
// surface per-sample diagnostics without Ingest aborting the whole batch
// over one bad offset: AnalysisPrecondition is a logged, skip-and-continue
// diagnostic, not fatal.
type Result struct {
	File    hdl.DexFileHandle
	Applied int
	Skipped int
}

// Ingest registers odexPath as a new DEX file under appLoader and
// applies every sample in samples against it. apkPath is recorded only
// for the caller's own bookkeeping —
// the core never reads the APK itself, only the already-extracted ODEX.
func Ingest(v *vm.VM, appLoader hdl.ClassLoaderHandle, apkPath, odexPath string, samples []Sample) (Result, error) {
	log := v.Log()

	file, err := dexfile.New(odexPath, nil)
	if err != nil {
		return Result{}, dexerr.Wrap(dexerr.MalformedDex, "profile: parse odex "+odexPath, err)
	}
	fileHdl := v.AddFile(appLoader, file)
	log.Debugf("profile: ingesting %d samples for apk=%s odex=%s -> %s", len(samples), apkPath, odexPath, fileHdl)

	res := Result{File: fileHdl}
	for _, s := range samples {
		if err := applySample(v, fileHdl, file, s); err != nil {
			log.Warnf("profile: skipping sample at offset %d: %v", s.ByteOffset, err)
			res.Skipped++
			continue
		}
		res.Applied++
	}
	return res, nil
}

// applySample resolves one sample's byte offset to a (method, insn)
// pair and adds its increment to that instruction vertex's Counter.
func applySample(v *vm.VM, fileHdl hdl.DexFileHandle, file *dexfile.File, s Sample) error {
	methodIdx, insnOffset, err := file.FindInsn(s.ByteOffset)
	if err != nil {
		return err
	}
	return incrementCounter(v, fileHdl, file, methodIdx, insnOffset, s.Increment)
}

// incrementCounter adds increment to the Counter of the instruction
// vertex at insnOffset within (fileHdl, methodIdx)'s graph, loading the
// owning method on demand.
func incrementCounter(v *vm.VM, fileHdl hdl.DexFileHandle, file *dexfile.File, methodIdx uint16, insnOffset uint32, increment uint64) error {
	methodVertex, err := ownerMethod(v, fileHdl, file, methodIdx)
	if err != nil {
		return err
	}
	if methodVertex.Graph == nil {
		return dexerr.New(dexerr.AnalysisPrecondition, "sample targets an abstract/native method with no code item")
	}

	for i := 1; i < methodVertex.Graph.ExitIdx(); i++ {
		vertex := &methodVertex.Graph.Vertices[i]
		if vertex.Offset == insnOffset {
			vertex.Counter += increment
			return nil
		}
	}
	return dexerr.New(dexerr.AnalysisPrecondition, "no instruction-graph vertex at the resolved offset")
}

// ownerMethod returns the method vertex for (fileHdl, methodIdx),
// loading its declaring class on demand if this is the first sample to
// touch it: profile batches commonly arrive before every method they
// reference has been analysis-visited.
func ownerMethod(v *vm.VM, fileHdl hdl.DexFileHandle, file *dexfile.File, methodIdx uint16) (*vm.MethodVertex, error) {
	dexHdl := hdl.DexMethodHandle{File: fileHdl, Idx: methodIdx}
	if idx, ok := v.MethodByDex(dexHdl); ok {
		return v.Methods[idx], nil
	}

	if int(methodIdx) >= len(file.Methods) {
		return nil, dexerr.New(dexerr.InvalidHandle, "method_id index out of range")
	}
	desc := file.TypeDescriptor(uint32(file.Methods[methodIdx].ClassIdx))
	jvmHdl := hdl.JvmTypeHandle{Loader: fileHdl.Loader, Descriptor: desc}
	if _, err := classloader.FindClass(v, jvmHdl, true); err != nil {
		return nil, err
	}

	idx, ok := v.MethodByDex(dexHdl)
	if !ok {
		return nil, dexerr.New(dexerr.NotFound, "method not found after loading its declaring class")
	}
	return v.Methods[idx], nil
}
