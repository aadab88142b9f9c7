//go:build !linux && !darwin && !windows

package bypass

import "os"

// portablePolicy has no bypass mechanism; it closes and reopens the file
// and reports the read phase as degraded
type portablePolicy struct {
	opts Options
}

func newPlatformPolicy(opts Options) Policy {
	return &portablePolicy{opts: opts}
}

func (p *portablePolicy) Name() string { return "portable" }

func (p *portablePolicy) OpenWrite(path string) (*os.File, error) {
	return openWrite(path, p.opts.OSync)
}

func (p *portablePolicy) Flush(f *os.File) error {
	return f.Sync()
}

func (p *portablePolicy) OpenRead(path string, chunkSize int) (*os.File, Status, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Status{}, err
	}
	return f, Status{Mode: ModeReopen, Degraded: true, Reason: "no cache bypass on this platform"}, nil
}

func (p *portablePolicy) ReadBuffer(chunkSize int) []byte {
	return make([]byte, chunkSize)
}
