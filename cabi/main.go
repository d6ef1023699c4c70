// Package main builds the C shared library:
//
//	go build -buildmode=c-shared -o libsphractal.so ./cabi
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/Jon-Ting/sphractal/boxcount"
	"github.com/Jon-Ting/sphractal/detector"
	_ "github.com/Jon-Ting/sphractal/gpu"
	"github.com/Jon-Ting/sphractal/pipeline"
)

func errJSON(msg string) *C.char {
	return C.CString(fmt.Sprintf(`{"error": %q}`, msg))
}

var (
	lastErrMu sync.Mutex
	lastErr   string
)

func setLastError(err error) {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = err.Error()
}

// boxCount runs the pipeline and records the error message for
// SphractalLastError.
func boxCount(opts pipeline.Options, in, out string) int {
	err := pipeline.Run(opts, in, out)
	setLastError(err)
	return pipeline.StatusOf(err)
}

// SphractalBoxCount box-counts the 3D grid of edge m whose occupied indices
// are listed in inPath and writes the counts to outPath. It runs on the GPU
// and falls back to the sequential CPU reducer when no adapter is available.
// It returns 0 on success or a nonzero status code.
//
//export SphractalBoxCount
func SphractalBoxCount(m C.int, inPath, outPath *C.char) C.int {
	opts := pipeline.Options{
		Edge:      int(m),
		Dim:       3,
		Backend:   "gpu",
		Fallback:  "cpu",
		GroupSize: boxcount.DefaultGroupSize,
	}
	return C.int(boxCount(opts, C.GoString(inPath), C.GoString(outPath)))
}

// SphractalBoxCountWith runs on the named backend with no fallback, so a
// missing adapter for "gpu" returns the no-GPU status.
//
//export SphractalBoxCountWith
func SphractalBoxCountWith(m, dim C.int, backend *C.char, tpb C.int, inPath, outPath *C.char) C.int {
	opts := pipeline.Options{
		Edge:      int(m),
		Dim:       int(dim),
		Backend:   C.GoString(backend),
		GroupSize: int(tpb),
	}
	return C.int(boxCount(opts, C.GoString(inPath), C.GoString(outPath)))
}

// SphractalLastError returns the message of the last failed call, or an
// empty string. Free the result with FreeSphractalString.
//
//export SphractalLastError
func SphractalLastError() *C.char {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return C.CString(lastErr)
}

//export SphractalDetect
func SphractalDetect() *C.char {
	out, err := detector.DetectJSON()
	if err != nil {
		return errJSON(err.Error())
	}
	return C.CString(out)
}

//export FreeSphractalString
func FreeSphractalString(str *C.char) {
	C.free(unsafe.Pointer(str))
}

func main() {}
