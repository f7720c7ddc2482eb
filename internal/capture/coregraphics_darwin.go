//go:build darwin

package capture

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>
#include <dlfcn.h>
#include <stdlib.h>

typedef struct {
    void*  data;
    size_t size;
    int    width;
    int    height;
    size_t bytesPerRow;
} FrameData;

// CGWindowListCreateImage is unavailable in the macOS 15 SDK headers but still
// present in the CoreGraphics dylib. Load it dynamically.
typedef CGImageRef (*CGWindowListCreateImageFunc)(
    CGRect screenBounds,
    uint32_t listOption,
    uint32_t windowID,
    uint32_t imageOption
);

static CGWindowListCreateImageFunc getCGWindowListCreateImage(void) {
    static CGWindowListCreateImageFunc fn = NULL;
    if (!fn) {
        fn = (CGWindowListCreateImageFunc)dlsym(RTLD_DEFAULT, "CGWindowListCreateImage");
    }
    return fn;
}

static FrameData grabDisplay(CGDirectDisplayID displayID) {
    FrameData result = {0};

    CGWindowListCreateImageFunc fn = getCGWindowListCreateImage();
    if (!fn) {
        return result;
    }

    // kCGWindowListOptionOnScreenOnly = 1, kCGNullWindowID = 0, kCGWindowImageDefault = 0
    CGImageRef image = fn(CGDisplayBounds(displayID), 1, 0, 0);
    if (!image) {
        return result;
    }

    result.width       = (int)CGImageGetWidth(image);
    result.height      = (int)CGImageGetHeight(image);
    result.bytesPerRow = result.width * 4;
    result.size        = result.bytesPerRow * result.height;
    result.data        = malloc(result.size);
    if (!result.data) {
        CGImageRelease(image);
        result.size = 0;
        return result;
    }

    CGColorSpaceRef cs = CGColorSpaceCreateDeviceRGB();
    CGContextRef ctx = CGBitmapContextCreate(result.data, result.width, result.height,
        8, result.bytesPerRow, cs, kCGImageAlphaPremultipliedLast);
    CGContextDrawImage(ctx, CGRectMake(0, 0, result.width, result.height), image);
    CGContextRelease(ctx);
    CGColorSpaceRelease(cs);
    CGImageRelease(image);

    return result;
}

static void releaseFrameData(void* data) {
    free(data);
}

static int hasScreenRecording(void) {
    return CGPreflightScreenCaptureAccess();
}

static int requestScreenRecording(void) {
    return CGRequestScreenCaptureAccess();
}
*/
import "C"

import (
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"
)

// ErrScreenRecordingDenied is returned when the process lacks the macOS
// Screen Recording permission.
var ErrScreenRecordingDenied = errors.New("screen recording permission not granted")

// CGSource grabs a display through CoreGraphics.
type CGSource struct {
	displayID C.CGDirectDisplayID
}

// NewCGSource opens the display at displayIndex (0 = main display). If Screen
// Recording permission is missing it triggers the system prompt and returns
// ErrScreenRecordingDenied; the process has to be restarted after granting.
func NewCGSource(displayIndex int) (*CGSource, error) {
	if C.hasScreenRecording() == 0 {
		C.requestScreenRecording()
		return nil, ErrScreenRecordingDenied
	}

	if displayIndex == 0 {
		return &CGSource{displayID: C.CGMainDisplayID()}, nil
	}

	var displays [16]C.CGDirectDisplayID
	var count C.uint32_t
	C.CGGetActiveDisplayList(16, &displays[0], &count)
	if displayIndex < 0 || displayIndex >= int(count) {
		return nil, fmt.Errorf("display index %d out of range (have %d displays)", displayIndex, count)
	}
	return &CGSource{displayID: displays[displayIndex]}, nil
}

// Capture grabs the display once.
func (s *CGSource) Capture() (*Frame, error) {
	fd := C.grabDisplay(s.displayID)
	if fd.data == nil {
		return nil, ErrNoFrame
	}
	defer C.releaseFrameData(fd.data)

	w := int(fd.width)
	h := int(fd.height)
	n := int(fd.size)

	pix := make([]byte, n)
	copy(pix, unsafe.Slice((*byte)(fd.data), n))

	return &Frame{
		Image: &image.RGBA{
			Pix:    pix,
			Stride: int(fd.bytesPerRow),
			Rect:   image.Rect(0, 0, w, h),
		},
		Timestamp: time.Now(),
	}, nil
}

// NewScreenSource returns the platform display source.
func NewScreenSource(displayIndex int) (Source, error) {
	s, err := NewCGSource(displayIndex)
	if err != nil {
		return nil, err
	}
	return s, nil
}
