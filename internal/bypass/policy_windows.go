//go:build windows

package bypass

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// windowsPolicy reads with FILE_FLAG_NO_BUFFERING
type windowsPolicy struct {
	opts Options
}

func newPlatformPolicy(opts Options) Policy {
	return &windowsPolicy{opts: opts}
}

func (p *windowsPolicy) Name() string { return "windows" }

// OpenWrite maps OSync to FILE_FLAG_WRITE_THROUGH
func (p *windowsPolicy) OpenWrite(path string) (*os.File, error) {
	return openWrite(path, p.opts.OSync)
}

// Flush calls FlushFileBuffers, which also flushes the device cache
func (p *windowsPolicy) Flush(f *os.File) error {
	return f.Sync()
}

func (p *windowsPolicy) OpenRead(path string, chunkSize int) (*os.File, Status, error) {
	var reason string
	if chunkSize%directio.BlockSize == 0 {
		f, err := directio.OpenFile(path, os.O_RDONLY, 0)
		if err == nil {
			return f, Status{Mode: ModeDirect}, nil
		}
		if os.IsNotExist(err) {
			return nil, Status{}, err
		}
		reason = fmt.Sprintf("unbuffered io unavailable: %v", err)
	} else {
		reason = fmt.Sprintf("chunk size %d is not a multiple of %d", chunkSize, directio.BlockSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Status{}, err
	}
	return f, Status{Mode: ModeReopen, Degraded: true, Reason: reason}, nil
}

func (p *windowsPolicy) ReadBuffer(chunkSize int) []byte {
	if chunkSize%directio.BlockSize == 0 {
		return directio.AlignedBlock(chunkSize)
	}
	return make([]byte, chunkSize)
}
