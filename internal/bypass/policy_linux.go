//go:build linux

package bypass

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

// linuxPolicy reads with O_DIRECT and falls back to evicting the file
// from the page cache with posix_fadvise
type linuxPolicy struct {
	opts Options
}

func newPlatformPolicy(opts Options) Policy {
	return &linuxPolicy{opts: opts}
}

func (p *linuxPolicy) Name() string { return "linux" }

func (p *linuxPolicy) OpenWrite(path string) (*os.File, error) {
	return openWrite(path, p.opts.OSync)
}

// Flush calls fsync, which also issues a cache flush to devices with a
// volatile write cache
func (p *linuxPolicy) Flush(f *os.File) error {
	return f.Sync()
}

func (p *linuxPolicy) OpenRead(path string, chunkSize int) (*os.File, Status, error) {
	// evict first so that even the fallback starts cold
	dropErr := dropPageCache(path)

	var reason string
	if chunkSize%directio.BlockSize == 0 {
		f, err := directio.OpenFile(path, os.O_RDONLY, 0)
		if err == nil {
			return f, Status{Mode: ModeDirect}, nil
		}
		if os.IsNotExist(err) {
			return nil, Status{}, err
		}
		reason = fmt.Sprintf("direct io unavailable: %v", err)
	} else {
		reason = fmt.Sprintf("chunk size %d is not a multiple of %d", chunkSize, directio.BlockSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Status{}, err
	}

	mode := ModeDropped
	if dropErr != nil {
		mode = ModeReopen
		reason = fmt.Sprintf("%s; cache drop failed: %v", reason, dropErr)
	}
	return f, Status{Mode: mode, Degraded: true, Reason: reason}, nil
}

func (p *linuxPolicy) ReadBuffer(chunkSize int) []byte {
	if chunkSize%directio.BlockSize == 0 {
		return directio.AlignedBlock(chunkSize)
	}
	return make([]byte, chunkSize)
}

// dropPageCache asks the kernel to discard the cached pages of path.
// dirty pages are not dropped, so the file must have been flushed.
func dropPageCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED); err != nil {
		return fmt.Errorf("fadvise: %w", err)
	}
	return nil
}
