// Package logfetch runs one goroutine per active log stream, forwarding
// batches of lines onto a channel the agent manager drains, and
// stopping every such goroutine in one shot when the collection session
// ends.
package logfetch

import (
	"context"
	"sync"

	"github.com/cuemby/ankagent/pkg/log"
)

// Fetcher produces the next batch of log lines from one source (typically
// a logcollector.LineCollector wrapping a connector's FetchLogs stream).
// ok is false once the source is exhausted and no further batches will
// ever be produced.
type Fetcher interface {
	NextLines() (lines []string, ok bool)
}

// Receiver is the read side of one fetcher's forwarded lines. ReadLines
// blocks until the next batch arrives or the fetcher is done, returning
// ok=false in the latter case — mirroring a Rust bounded(1) mpsc receiver
// reporting channel closure.
type Receiver struct {
	lines <-chan []string
}

// ReadLines waits for the next batch of lines. ok is false once the
// fetcher backing this receiver has been exhausted or the runner has been
// stopped.
func (r Receiver) ReadLines() (lines []string, ok bool) {
	lines, ok = <-r.lines
	return lines, ok
}

// Runner drives a set of Fetchers, one goroutine each, until every
// fetcher runs dry or Stop is called. It is the counterpart to the
// log-fetching side of a log request: the agent manager starts one Runner
// per logs request it receives from the server.
type Runner struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartCollectingLogs spawns one goroutine per fetcher, each forwarding
// batches of lines onto its own capacity-1 channel, and returns the
// running Runner alongside one Receiver per fetcher in the same order.
// The capacity-1 channel means a slow receiver applies backpressure all
// the way back to the fetcher's NextLines call, just as the bounded
// channel in the original log_channel implementation does.
func StartCollectingLogs(fetchers []Fetcher) (*Runner, []Receiver) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{cancel: cancel}
	logger := log.WithComponent("logfetch")

	receivers := make([]Receiver, len(fetchers))
	for i, fetcher := range fetchers {
		lines := make(chan []string, 1)
		receivers[i] = Receiver{lines: lines}

		r.wg.Add(1)
		go func(fetcher Fetcher, lines chan<- []string) {
			defer r.wg.Done()
			defer close(lines)
			for {
				batch, ok := fetcher.NextLines()
				if !ok {
					return
				}
				select {
				case lines <- batch:
				case <-ctx.Done():
					return
				}
			}
		}(fetcher, lines)
	}

	logger.Debug().Int("fetcher_count", len(fetchers)).Msg("started log fetching goroutines")
	return r, receivers
}

// Stop cancels every still-running fetcher goroutine and waits for them to
// exit, the equivalent of the original runner aborting its join handles
// when dropped.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}
