// Package bypass implements the cache bypass policies used by the
// benchmark phases. a policy guarantees that a flushed write is on the
// medium and tries to make reads come from the device rather than the
// host page cache. write durability is mandatory; read bypass is best
// effort and reported through Status.
package bypass

import (
	"os"
)

// Mode names the mechanism a read open ended up using
type Mode string

const (
	// ModeDirect reads bypass the page cache (O_DIRECT, FILE_FLAG_NO_BUFFERING)
	ModeDirect Mode = "direct"

	// ModeNoCache reads are not cached by the kernel (darwin F_NOCACHE)
	ModeNoCache Mode = "nocache"

	// ModeDropped the file's cached pages were evicted, reads are buffered
	ModeDropped Mode = "dropped"

	// ModeReopen the file was only closed and reopened
	ModeReopen Mode = "reopen"

	// ModeBuffered no bypass was requested
	ModeBuffered Mode = "buffered"
)

// Status describes how well a read open honoured the bypass request
type Status struct {
	Mode     Mode   // mechanism in effect
	Degraded bool   // true when reads may be served from host memory
	Reason   string // why the preferred mechanism was not used
}

// Options tune a policy
type Options struct {
	Direct bool // request cache bypass; false selects the buffered policy
	OSync  bool // open the write file with O_SYNC
}

// Policy is the capability set the benchmark phases depend on
type Policy interface {
	// Name identifies the implementation
	Name() string

	// OpenWrite creates or truncates path for the write phase
	OpenWrite(path string) (*os.File, error)

	// Flush commits file data and metadata to the device, including the
	// device's own write cache where the platform supports it
	Flush(f *os.File) error

	// OpenRead opens path for the read phase, bypassing the page cache if possible
	OpenRead(path string, chunkSize int) (*os.File, Status, error)

	// ReadBuffer returns a buffer of chunkSize bytes suitable for OpenRead's file
	ReadBuffer(chunkSize int) []byte
}

// New returns the policy for this platform, or the buffered policy when
// opts.Direct is false
func New(opts Options) Policy {
	if !opts.Direct {
		return NewBuffered(opts)
	}
	return newPlatformPolicy(opts)
}

// openWrite creates or truncates path for writing
func openWrite(path string, osync bool) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if osync {
		flags |= os.O_SYNC
	}
	return os.OpenFile(path, flags, 0644)
}
