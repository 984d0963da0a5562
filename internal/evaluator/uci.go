package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"

	"github.com/roach88/chessbench/internal/predict"
)

// engineProcess is the part of *uci.Engine the evaluator drives.
type engineProcess interface {
	Run(cmds ...uci.Cmd) error
	SearchResults() uci.SearchResults
	Close() error
}

// UCI drives an external UCI engine.
//
// The engine process is started lazily on first use and runs at most one
// search at a time. A search is capped by the caller's deadline through
// movetime, so the engine stops on its own when the evaluation times out.
// An abandoned search keeps the engine until it finishes; calls made in the
// meantime wait for it (or time out) rather than starting another process.
type UCI struct {
	path  string
	start func(path string) (engineProcess, error)

	// slot is held from the start of a search until the engine is idle again.
	slot chan struct{}

	mu     sync.Mutex
	engine engineProcess
	closed bool
}

// NewUCI creates an evaluator for the engine binary at path.
func NewUCI(path string) *UCI {
	return &UCI{path: path, start: startUCI, slot: make(chan struct{}, 1)}
}

func startUCI(path string) (engineProcess, error) {
	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("start uci engine %s: %w", path, err)
	}
	if err := eng.Run(uci.CmdUCI, uci.CmdIsReady); err != nil {
		eng.Close()
		return nil, fmt.Errorf("uci handshake: %w", err)
	}
	slog.Info("uci engine started", "path", path)
	return eng, nil
}

type searchResult struct {
	ev  predict.Evaluation
	err error
}

// Evaluate implements predict.Evaluator.
func (u *UCI) Evaluate(ctx context.Context, fen string, opts predict.EvalOptions) (predict.Evaluation, error) {
	game, err := positionFromFEN(fen)
	if err != nil {
		return predict.Evaluation{}, err
	}
	pos := game.Position()

	select {
	case u.slot <- struct{}{}:
	case <-ctx.Done():
		slog.Warn("uci engine busy with an abandoned search", "path", u.path, "error", ctx.Err())
		return predict.Evaluation{}, ctx.Err()
	}

	eng, err := u.acquire()
	if err != nil {
		<-u.slot
		return predict.Evaluation{}, err
	}

	goCmd := uci.CmdGo{Depth: opts.Depth}
	if deadline, ok := ctx.Deadline(); ok {
		goCmd.MoveTime = max(time.Until(deadline), time.Millisecond)
	}

	done := make(chan searchResult, 1)
	go func() {
		defer func() { <-u.slot }()
		r := search(eng, pos, goCmd)
		if r.err != nil {
			eng.Close()
		} else {
			u.release(eng)
		}
		done <- r
	}()

	select {
	case r := <-done:
		return r.ev, r.err
	case <-ctx.Done():
		slog.Warn("uci search outlived its deadline", "path", u.path, "error", ctx.Err())
		return predict.Evaluation{}, ctx.Err()
	}
}

func search(eng engineProcess, pos *chess.Position, goCmd uci.CmdGo) searchResult {
	if err := eng.Run(uci.CmdUCINewGame, uci.CmdPosition{Position: pos}, goCmd); err != nil {
		return searchResult{err: fmt.Errorf("uci search: %w", err)}
	}
	info := eng.SearchResults().Info
	cp, mate := whitePerspective(pos.Turn(), info.Score.CP, info.Score.Mate)
	ev := predict.Evaluation{Score: cp, DepthReached: info.Depth}
	if mate != 0 {
		ev.IsMate = true
		ev.MateIn = mate
		ev.Score = MateScore
		if mate < 0 {
			ev.Score = -MateScore
		}
	}
	return searchResult{ev: ev}
}

// acquire takes ownership of the idle engine, starting one if needed.
// Callers hold the slot.
func (u *UCI) acquire() (engineProcess, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, fmt.Errorf("uci evaluator closed")
	}
	if u.engine != nil {
		eng := u.engine
		u.engine = nil
		return eng, nil
	}
	return u.start(u.path)
}

// release returns eng to the idle slot.
func (u *UCI) release(eng engineProcess) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed || u.engine != nil {
		eng.Close()
		return
	}
	u.engine = eng
}

// Close stops the idle engine. A search still running closes its engine
// when it finishes.
func (u *UCI) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.engine == nil {
		return nil
	}
	err := u.engine.Close()
	u.engine = nil
	return err
}
