//go:build darwin

package bypass

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"
)

// darwinPolicy uses F_NOCACHE for both phases
type darwinPolicy struct {
	opts Options
}

func newPlatformPolicy(opts Options) Policy {
	return &darwinPolicy{opts: opts}
}

func (p *darwinPolicy) Name() string { return "darwin" }

func (p *darwinPolicy) OpenWrite(path string) (*os.File, error) {
	f, err := openWrite(path, p.opts.OSync)
	if err != nil {
		return nil, err
	}

	// keep written pages out of the unified buffer cache; best effort
	_, _ = unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1)
	return f, nil
}

// Flush relies on os.File.Sync, which issues F_FULLFSYNC on darwin and
// so commits the drive's write cache as well
func (p *darwinPolicy) Flush(f *os.File) error {
	return f.Sync()
}

func (p *darwinPolicy) OpenRead(path string, chunkSize int) (*os.File, Status, error) {
	f, err := directio.OpenFile(path, os.O_RDONLY, 0)
	if err == nil {
		return f, Status{Mode: ModeNoCache}, nil
	}
	if os.IsNotExist(err) {
		return nil, Status{}, err
	}
	reason := fmt.Sprintf("F_NOCACHE unavailable: %v", err)

	f, err = os.Open(path)
	if err != nil {
		return nil, Status{}, err
	}
	return f, Status{Mode: ModeReopen, Degraded: true, Reason: reason}, nil
}

func (p *darwinPolicy) ReadBuffer(chunkSize int) []byte {
	return directio.AlignedBlock(chunkSize)
}
