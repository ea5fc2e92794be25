package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/standardbeagle/lsi/internal/debug"
	"github.com/standardbeagle/lsi/internal/search"
	"github.com/standardbeagle/lsi/internal/types"
)

// findLimit caps the matches printed per query.
const findLimit = 20

// shell is the interactive command surface. It reads one command per line;
// a running find is interrupted by whatever line arrives next, which is then
// dispatched as its own command.
type shell struct {
	engine *search.Engine
	sup    *search.Supervisor
	out    io.Writer
}

func newShell(engine *search.Engine, sup *search.Supervisor, out io.Writer) *shell {
	return &shell{engine: engine, sup: sup, out: out}
}

// run dispatches commands until stdin closes, the context is cancelled, or
// the stop command arrives.
func (s *shell) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(s.out, "lsi ready; type 'help' for commands")

	var pending *string
	for {
		var line string
		if pending != nil {
			line, pending = *pending, nil
		} else {
			select {
			case <-ctx.Done():
				return
			case l, ok := <-lines:
				if !ok {
					return
				}
				line = l
			}
		}

		next, quit := s.dispatch(ctx, line, lines)
		if quit {
			return
		}
		pending = next
	}
}

// dispatch executes one command. It returns a pending line when the command
// was interrupted by new input, and quit when the shell should exit.
func (s *shell) dispatch(ctx context.Context, line string, lines <-chan string) (pending *string, quit bool) {
	trimmed := strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(trimmed, " ")

	switch cmd {
	case "":
		debug.SetEnabled(false)
		fmt.Fprintln(s.out, "trace logging disabled")

	case "find":
		return s.find(ctx, strings.TrimSpace(rest), lines), false

	case "status":
		s.printStatus(ctx)

	case "enable-logging":
		debug.SetEnabled(true)
		fmt.Fprintln(s.out, "trace logging enabled")

	case "gc":
		runtime.GC()
		s.printMemory()

	case "memory":
		s.printMemory()

	case "error":
		s.sup.ForceFailure(errors.New("failure forced from shell"))
		fmt.Fprintln(s.out, "forced a failure; the index will restart")

	case "help":
		s.printHelp()

	case "stop":
		return nil, true

	default:
		fmt.Fprintf(s.out, "unknown command %q; type 'help'\n", cmd)
	}
	return nil, false
}

// find streams up to findLimit verified matches, abandoning the query as
// soon as another line arrives on stdin.
func (s *shell) find(ctx context.Context, query string, lines <-chan string) (pending *string) {
	findCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		// The incomplete warning goes ahead of the stream, so the
		// reader sees it before any possibly-partial results.
		st := s.engine.IndexStatus(findCtx)
		if st.IsBroken || st.InitialSyncTime == nil || st.HandledModifications != st.TotalModifications {
			fmt.Fprintf(s.out, "warning: %s\n", search.WarnIncomplete)
		}

		shown := 0
		start := time.Now()
		warns, err := s.engine.Find(findCtx, query, func(r types.SearchResult) bool {
			shown++
			fmt.Fprintf(s.out, "%s:%d: %s\n", r.Path, r.LineNo, r.Line)
			return shown < findLimit
		})

		if warns.After != "" {
			fmt.Fprintf(s.out, "warning: %s\n", warns.After)
		}
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(s.out, "search interrupted")
		case err != nil:
			fmt.Fprintf(s.out, "search failed: %v\n", err)
		default:
			fmt.Fprintf(s.out, "%d match(es) in %s\n", shown, time.Since(start).Round(time.Millisecond))
		}
	}()

	select {
	case <-done:
		return nil
	case line, ok := <-lines:
		if !ok {
			// End of input: let the running query finish.
			<-done
			return nil
		}
		cancel()
		<-done
		return &line
	case <-ctx.Done():
		cancel()
		<-done
		return nil
	}
}

func (s *shell) printStatus(ctx context.Context) {
	st := s.engine.IndexStatus(ctx)

	fmt.Fprintf(s.out, "indexed files:   %d\n", st.IndexedFiles)
	fmt.Fprintf(s.out, "known tokens:    %d\n", st.KnownTokens)
	fmt.Fprintf(s.out, "modifications:   %d/%d handled\n", st.HandledModifications, st.TotalModifications)
	if st.WatcherStartTime != nil {
		fmt.Fprintf(s.out, "watcher started: +%s\n", st.WatcherStartTime.Round(time.Millisecond))
	}
	if st.InitialSyncTime != nil {
		fmt.Fprintf(s.out, "initial sync:    %s\n", st.InitialSyncTime.Round(time.Millisecond))
	} else {
		fmt.Fprintln(s.out, "initial sync:    in progress")
	}
	if st.IsBroken {
		fmt.Fprintln(s.out, "state:           BROKEN (restarting; results will be empty)")
	}
}

func (s *shell) printMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Fprintf(s.out, "heap alloc:  %.1f MB\n", float64(m.HeapAlloc)/(1<<20))
	fmt.Fprintf(s.out, "heap sys:    %.1f MB\n", float64(m.HeapSys)/(1<<20))
	fmt.Fprintf(s.out, "gc cycles:   %d\n", m.NumGC)
	fmt.Fprintf(s.out, "goroutines:  %d\n", runtime.NumGoroutine())
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `commands:
  find <query>    stream up to 20 matches (any input interrupts)
  status          show index status
  enable-logging  turn trace logging on
  <empty line>    turn trace logging off
  gc              run a garbage collection and report memory
  memory          report memory usage
  error           force an index failure (tests the restart path)
  help            this list
  stop            shut down and exit
`)
}
