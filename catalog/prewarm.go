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

package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/containerd/log"
	"golang.org/x/time/rate"

	"github.com/deepgrep/deepgrep/zpipe"
)

const (
	defaultPrewarmRate   = 32 // archives per second
	defaultQueueSize     = 1024
	defaultSilencePeriod = 2 * time.Second
)

type PrewarmOption func(*Prewarmer) error

// WithRate caps how many archives are indexed per second.
func WithRate(perSecond int) PrewarmOption {
	return func(p *Prewarmer) error {
		if perSecond <= 0 {
			return fmt.Errorf("prewarm rate must be positive, got %d", perSecond)
		}
		p.perSecond = perSecond
		return nil
	}
}

// WithQueueSize bounds the number of queued paths.
func WithQueueSize(size int) PrewarmOption {
	return func(p *Prewarmer) error {
		p.queueSize = size
		return nil
	}
}

// WithDepth sets the decompression chain depth used while indexing.
func WithDepth(depth int) PrewarmOption {
	return func(p *Prewarmer) error {
		p.depth = depth
		return nil
	}
}

// WithSilencePeriod sets how long Pause quiets the prewarmer.
func WithSilencePeriod(period time.Duration) PrewarmOption {
	return func(p *Prewarmer) error {
		p.silencePeriod = period
		return nil
	}
}

// WithStageOptions forwards options to the pipeline stage the indexer
// drives.
func WithStageOptions(opts ...zpipe.Option) PrewarmOption {
	return func(p *Prewarmer) error {
		p.stageOpts = opts
		return nil
	}
}

// A Prewarmer indexes archives into the catalog in the background at a
// bounded pace, so interactive searches find warm member lists.
type Prewarmer struct {
	catalog *Catalog

	perSecond     int
	queueSize     int
	depth         int
	silencePeriod time.Duration
	stageOpts     []zpipe.Option

	limiter *rate.Limiter

	// Paths are added to the channel and picked up in Run.
	workQueue chan string
	closeChan chan struct{}
	pauseChan chan struct{}
}

// NewPrewarmer prepares a Prewarmer over cat. Run must be called for
// queued paths to be indexed.
func NewPrewarmer(cat *Catalog, opts ...PrewarmOption) (*Prewarmer, error) {
	p := &Prewarmer{
		catalog:       cat,
		perSecond:     defaultPrewarmRate,
		queueSize:     defaultQueueSize,
		depth:         1,
		silencePeriod: defaultSilencePeriod,
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	p.limiter = rate.NewLimiter(rate.Limit(p.perSecond), 1)
	p.workQueue = make(chan string, p.queueSize)
	p.closeChan = make(chan struct{})
	p.pauseChan = make(chan struct{})
	return p, nil
}

// Add queues path for background indexing. A full queue drops the path;
// a missed prewarm only costs a later cache miss.
func (p *Prewarmer) Add(path string) bool {
	select {
	case p.workQueue <- path:
		return true
	default:
		return false
	}
}

// Pause quiets the prewarmer for the silence period on its next
// iteration, so a foreground search gets the disk to itself.
func (p *Prewarmer) Pause() {
	select {
	case p.pauseChan <- struct{}{}:
	default:
	}
}

// Close stops Run once the queued backlog is indexed. Paths added
// after Close may be dropped.
func (p *Prewarmer) Close() error {
	close(p.closeChan)
	return nil
}

// Run services the queue until Close or context end. One archive is
// indexed per rate token, so a large tree trickles in without starving
// searches.
func (p *Prewarmer) Run(ctx context.Context) error {
	for {
		p.pause(ctx)

		select {
		case <-p.closeChan:
			return p.drain(ctx)
		case <-ctx.Done():
			return nil
		case path := <-p.workQueue:
			if err := p.Index(ctx, path); err != nil {
				log.G(ctx).WithError(err).WithField("path", path).Warn("prewarm indexing failed")
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("prewarm: error while waiting for rate limiter: %w", err)
		}
	}
}

// drain finishes the backlog after Close. The rate limit still applies.
func (p *Prewarmer) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-p.workQueue:
			if err := p.Index(ctx, path); err != nil {
				log.G(ctx).WithError(err).WithField("path", path).Warn("prewarm indexing failed")
			}
			if err := p.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("prewarm: error while waiting for rate limiter: %w", err)
			}
		default:
			return nil
		}
	}
}

func (p *Prewarmer) pause(ctx context.Context) {
	needPause := false
loop:
	for {
		select {
		case <-p.pauseChan:
			needPause = true
		default:
			break loop
		}
	}
	if needPause {
		log.G(ctx).WithField("silencePeriod", p.silencePeriod).Debug("search in progress, pausing the prewarmer for silence period")
		select {
		case <-time.After(p.silencePeriod):
		case <-ctx.Done():
		case <-p.closeChan:
		}
	}
}

// Index drives a full pipeline pass over one file and records what it
// finds. Files with no compression layer stay out of the catalog. It
// is also the synchronous path used when building the catalog
// directly, without the queue.
func (p *Prewarmer) Index(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	// Already recorded under this identity.
	if _, err := p.catalog.Members(path, info); err == nil {
		return nil
	}

	st := zpipe.New(p.stageOpts...)
	defer st.Join()
	rc, err := st.Start(ctx, p.depth, path, f)
	if err != nil {
		return err
	}
	var members []Member
	for {
		if _, err := io.Copy(io.Discard, rc); err != nil {
			rc.Close()
			st.Cancel()
			return err
		}
		rc.Close()
		if name := st.MemberName(); name != "" {
			members = append(members, Member{Name: name, Offset: st.MemberOffset()})
		}
		if rc, err = st.OpenNext(path); err != nil {
			break
		}
	}
	if !st.Compressed() {
		return nil
	}
	return p.catalog.RecordMembers(path, info, true, members)
}
