/*
   Copyright The DeepGrep Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package zpipe

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/containerd/log"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/deepgrep/deepgrep/metrics"
	"github.com/deepgrep/deepgrep/zstream"
)

const defaultBlockSize = 64 * 1024

// Option configures a Stage.
type Option func(*Stage)

// WithSeparator sets the string joining nested member names into a
// logical path. Defaults to ":".
func WithSeparator(sep string) Option {
	return func(s *Stage) {
		s.sep = sep
	}
}

// WithBlockSize sets the producer's block buffer size.
func WithBlockSize(n int) Option {
	return func(s *Stage) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithSourceOptions passes options through to the decompression source
// on every open.
func WithSourceOptions(opts ...zstream.Option) Option {
	return func(s *Stage) {
		s.srcOpts = opts
	}
}

// Stage strips one compression layer from an input, or demultiplexes
// one container format, and hands the result to its consumer through a
// pipe. See the package documentation for the full protocol.
type Stage struct {
	mu           sync.Mutex
	pipeReady    *sync.Cond // producer waits for an armed write end
	pipeClosed   *sync.Cond // consumer waits for the producer to finish/park
	streamReopen *sync.Cond // producer waits for the next Start
	memberReady  *sync.Cond // consumer waits for a published member name

	// protocol flags, guarded by mu
	quit       bool
	stop       bool
	waiting    bool
	parked     bool
	assigned   bool
	extracting bool
	compressed bool
	reopened   bool

	// pipe halves; nil marks a closed half. pr is retained so Cancel can
	// unblock a producer mid-write.
	pw *io.PipeWriter
	pr *io.PipeReader

	memberName   string
	memberOffset int64

	next    *Stage
	chained bool

	spawned bool
	spawns  int
	done    chan struct{}

	// producer state, written by Start under mu while the worker is parked
	src      *zstream.Source
	chainIn  io.ReadCloser
	prefix   string
	pathname string
	log      *logrus.Entry

	id        xid.ID
	sep       string
	blockSize int
	srcOpts   []zstream.Option
	opts      []Option
	br        *bufio.Reader
	buf       []byte
	hdr       [512]byte
}

// New creates an idle Stage. The worker goroutine is spawned lazily by
// the first Start.
func New(opts ...Option) *Stage {
	s := &Stage{
		id:        xid.New(),
		sep:       ":",
		blockSize: defaultBlockSize,
		opts:      opts,
	}
	for _, o := range opts {
		o(s)
	}
	s.pipeReady = sync.NewCond(&s.mu)
	s.pipeClosed = sync.NewCond(&s.mu)
	s.streamReopen = sync.NewCond(&s.mu)
	s.memberReady = sync.NewCond(&s.mu)
	s.log = log.L.WithField("stage", s.id.String())
	s.br = bufio.NewReaderSize(nil, s.blockSize)
	s.buf = make([]byte, s.blockSize)
	return s
}

// Start begins decompressing a new input and returns the read end of
// the first member's pipe. depth is the number of compression layers to
// strip; values above one chain further stages, each reading from the
// pipe of the one below. The previous input must be exhausted or
// canceled first. A failure to initialize the source is logged and
// returned; the input should then be treated as having nothing to
// search.
func (s *Stage) Start(ctx context.Context, depth int, pathname string, in io.Reader) (io.ReadCloser, error) {
	if depth < 1 {
		depth = 1
	}
	logger := log.G(ctx).WithFields(logrus.Fields{
		"stage": s.id.String(),
		"path":  pathname,
	})
	if !s.chained {
		metrics.ChainDepth.Observe(float64(depth))
	}

	srcIn := in
	prefix := ""
	var chainIn io.ReadCloser
	if depth > 1 {
		if s.next == nil {
			s.next = New(s.opts...)
			s.next.chained = true
		}
		rc, err := s.next.Start(ctx, depth-1, pathname, in)
		if err != nil {
			return nil, err
		}
		s.next.waitAssigned()
		prefix = s.next.MemberName()
		srcIn = rc
		chainIn = rc
	}

	// The worker owns the source and producer fields while running; a
	// canceled pass may still be unwinding, so wait for the park.
	s.awaitParked()

	hint := prefix
	if hint == "" {
		hint = pathname
	}
	openOpts := append([]zstream.Option{zstream.WithPathname(hint)}, s.srcOpts...)
	var err error
	if s.src == nil {
		s.src, err = zstream.Open(srcIn, openOpts...)
	} else {
		err = s.src.Reopen(srcIn, openOpts...)
	}
	if err != nil {
		logger.WithError(err).Warn("cannot open decompression source")
		if s.next != nil {
			s.next.Cancel()
		}
		return nil, err
	}

	s.mu.Lock()
	s.compressed = s.src.Decompressing() || (s.next != nil && s.next.Compressed())
	s.prefix = prefix
	s.pathname = pathname
	s.chainIn = chainIn
	s.log = logger
	s.stop = false
	s.assigned = false
	s.extracting = false
	s.memberName = ""
	s.memberOffset = 0
	pr, pw := io.Pipe()
	s.pr, s.pw = pr, pw
	if !s.spawned {
		s.spawned = true
		s.spawns++
		s.done = make(chan struct{})
		metrics.WorkerSpawns.Inc()
		go s.run()
	} else {
		s.reopened = true
		// The worker is committed to waking; clear waiting now so chain
		// parents calling waitAssigned between here and the wakeup do
		// not mistake the stage for parked.
		s.waiting = false
		s.streamReopen.Broadcast()
	}
	s.mu.Unlock()
	return pr, nil
}

// OpenNext asks for the next member of the current input. The consumer
// must have closed the previous read end. It blocks until the producer
// has finished the prior member, then re-arms the pipe and returns its
// read end; io.EOF means the member set is exhausted. For stages that
// feed another stage it additionally waits until the member's name is
// published, so MemberName is valid at return.
func (s *Stage) OpenNext(pathname string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.spawned {
		return nil, io.EOF
	}
	for !s.waiting && !s.stop && !s.quit {
		s.pipeClosed.Wait()
	}
	s.assigned = false
	s.memberName = ""
	s.memberOffset = 0
	if !s.extracting || s.stop || s.quit {
		return nil, io.EOF
	}
	pr, pw := io.Pipe()
	s.pr, s.pw = pr, pw
	s.pipeReady.Signal()
	if s.chained {
		for !s.assigned && s.extracting && !s.stop && !s.quit {
			s.memberReady.Wait()
		}
		if !s.assigned {
			pr.Close()
			return nil, io.EOF
		}
	}
	return pr, nil
}

// MemberName returns the logical path of the member currently flowing
// through the pipe. For a stage read directly by a search worker it is
// valid once the member's first Read has returned (including EOF). An
// empty string marks a bare stream with no archive structure.
func (s *Stage) MemberName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberName
}

// MemberOffset returns the compressed input offset at which the current
// member was found, captured when its name was published. It is an
// advisory value: zero for bare streams, and relative to the enclosing
// member for chained stages.
func (s *Stage) MemberOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberOffset
}

// Compressed reports whether this stage or any stage below it in the
// chain is actually removing a compression layer.
func (s *Stage) Compressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compressed
}

// Spawns counts worker goroutine creations over the stage's lifetime.
// A reused stage keeps it at one.
func (s *Stage) Spawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns
}

// Cancel requests the producer to unwind at its next safe point without
// writing further data, and propagates down the chain. It is not an
// error path; Join still applies afterwards.
func (s *Stage) Cancel() {
	s.mu.Lock()
	s.stop = true
	if s.pr != nil {
		s.pr.CloseWithError(ErrStopped)
	}
	s.pipeReady.Broadcast()
	s.pipeClosed.Broadcast()
	s.memberReady.Broadcast()
	s.mu.Unlock()
	if s.next != nil {
		s.next.Cancel()
	}
}

// Join tears the stage down: chain link first, then this stage's
// worker. A worker mid-extraction finishes its current input before
// exiting, so call Cancel first to unwind early. Join is idempotent and
// leaves the stage restartable.
func (s *Stage) Join() {
	if s.next != nil {
		s.next.Join()
	}
	s.mu.Lock()
	s.quit = true
	s.streamReopen.Broadcast()
	s.pipeReady.Broadcast()
	spawned := s.spawned
	done := s.done
	s.mu.Unlock()
	if spawned {
		<-done
	}
	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
	s.mu.Lock()
	s.spawned = false
	s.quit = false
	s.mu.Unlock()
}

// run is the worker goroutine: one extract pass per input, then park
// until the next Start or Join.
func (s *Stage) run() {
	defer close(s.done)
	for {
		s.extract()
		s.mu.Lock()
		s.extracting = false
		if s.chained {
			s.memberReady.Broadcast()
		}
		if s.pw != nil {
			s.pw.Close()
			s.pw = nil
		}
		s.waiting = true
		s.parked = true
		s.pipeClosed.Broadcast()
		for !s.reopened && !s.quit {
			s.streamReopen.Wait()
		}
		s.reopened = false
		s.parked = false
		s.waiting = false
		quit := s.quit
		s.mu.Unlock()
		if quit {
			return
		}
	}
}

// awaitParked blocks until the worker sits parked between inputs, so
// producer-owned state can be rewritten without racing an unwinding
// pass.
func (s *Stage) awaitParked() {
	s.mu.Lock()
	for s.spawned && !s.parked && !s.quit {
		s.pipeClosed.Wait()
	}
	s.mu.Unlock()
}

// waitAssigned blocks until the stage publishes a member name for the
// current input, or finishes the input without one. It reports whether
// a name was assigned.
func (s *Stage) waitAssigned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.assigned && !(s.waiting && !s.extracting) && !s.stop && !s.quit {
		s.memberReady.Wait()
	}
	return s.assigned
}

// stopped is the producer's cancellation check, honored at every
// header, member, and write boundary.
func (s *Stage) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop || s.quit
}

// setExtracting marks that the current input has container structure,
// so more members may follow the current one.
func (s *Stage) setExtracting(v bool) {
	s.mu.Lock()
	s.extracting = v
	s.mu.Unlock()
}

// assign publishes the current member's logical path. It always
// happens before the member's first write. The input offset is
// captured here, while the producer owns the source.
func (s *Stage) assign(name string) {
	off := s.src.InputOffset()
	s.mu.Lock()
	s.memberName = name
	s.memberOffset = off
	s.assigned = true
	s.memberReady.Broadcast()
	s.mu.Unlock()
}

// awaitPipe blocks until a write end is armed by the consumer. It
// reports false when the stage is stopping instead. The first member
// of an input finds the pipe already armed by Start.
func (s *Stage) awaitPipe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = true
	s.pipeClosed.Broadcast()
	for s.pw == nil && !s.stop && !s.quit {
		s.pipeReady.Wait()
	}
	s.waiting = false
	return s.pw != nil && !s.stop && !s.quit
}

// closeMember signals end of member to the consumer by closing the
// write end.
func (s *Stage) closeMember() {
	s.mu.Lock()
	if s.pw != nil {
		s.pw.Close()
		s.pw = nil
	}
	s.pipeClosed.Broadcast()
	s.mu.Unlock()
}

// writeBody pushes member content to the consumer. It reports false
// once the consumer has stopped reading.
func (s *Stage) writeBody(b []byte) bool {
	s.mu.Lock()
	pw := s.pw
	s.mu.Unlock()
	if pw == nil {
		return false
	}
	n, err := pw.Write(b)
	metrics.PipeBytes.Add(float64(n))
	return err == nil
}
