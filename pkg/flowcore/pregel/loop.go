package pregel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/observability"
)

// errStopped ends a run whose stream consumer stopped reading.
var errStopped = errors.New("stream consumer stopped")

// loop is the state of one run.
type loop struct {
	p      *Pregel
	s      settings
	logger *zap.Logger
	emit   func(Chunk) bool
	modes  map[StreamMode]bool

	// cfg addresses the thread and its latest checkpoint.
	cfg   checkpoint.Config
	cp    *checkpoint.Checkpoint
	chans map[string]channels.Channel
	mv    map[string]managed.Value

	step        int
	stop        int
	steps       int
	interrupted bool

	puts   errgroup.Group
	putCtx context.Context
}

// run executes one run, calling emit for every chunk of the selected
// stream modes. emit returning false stops the run without error.
func (p *Pregel) run(ctx context.Context, input any, s settings, emit func(Chunk) bool) (err error) {
	if err := p.validateRun(s); err != nil {
		return err
	}
	threadID := s.threadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	l := &loop{
		p:      p,
		s:      s,
		logger: s.logger.With(zap.String("flow", s.name)),
		emit:   emit,
		modes:  map[StreamMode]bool{},
		cfg:    checkpoint.Config{ThreadID: threadID, ThreadTS: s.threadTS},
		putCtx: context.WithoutCancel(ctx),
	}
	for _, m := range s.modes {
		l.modes[m] = true
	}
	l.puts.SetLimit(1)

	ctx, span := s.spans.StartRunSpan(ctx, s.name, threadID)
	start := time.Now()
	defer func() {
		// Checkpoints already handed to the saver are always awaited.
		if perr := l.puts.Wait(); perr != nil && (err == nil || errors.Is(err, errStopped)) {
			err = perr
		}
		if errors.Is(err, errStopped) {
			err = nil
		}
		elapsed := time.Since(start)
		ms := float64(elapsed.Microseconds()) / 1000
		if err != nil {
			observability.LogRunError(l.logger, threadID, err, ms, l.step)
		} else {
			observability.LogRunComplete(l.logger, threadID, ms, l.steps, l.interrupted)
		}
		s.metrics.RecordRun(ctx, err == nil, elapsed)
		s.spans.EndSpanWithError(span, err)
	}()

	release, err := l.setup(ctx, input != nil)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	observability.LogRunStart(l.logger, threadID, input == nil)
	return l.loop(ctx, input)
}

// setup restores the thread's latest checkpoint and enters scoped channels
// and managed values. The returned function releases them.
func (l *loop) setup(ctx context.Context, hasInput bool) (func() error, error) {
	var saved *checkpoint.Saved
	if saver := l.s.saver; saver != nil {
		got, err := saver.Get(ctx, l.cfg)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			l.cfg.ThreadTS = ""
		case err != nil:
			return nil, &CheckpointError{Op: "get", Step: -1, Err: err}
		default:
			saved = got
		}
	}

	l.cp, l.step = checkpoint.Empty(), -1
	if saved != nil {
		l.cp = saved.Checkpoint.Copy()
		l.step = saved.Metadata.Step + 1
		l.cfg = saved.Config
	}
	chans, err := l.p.restore(l.cp)
	if err != nil {
		return nil, err
	}
	l.chans = chans

	first := l.step
	if hasInput {
		first++
	}
	l.stop = first + l.s.recursionLimit

	var releases []func() error
	release := func() error {
		var errs []error
		for i := len(releases) - 1; i >= 0; i-- {
			errs = append(errs, releases[i]())
		}
		return errors.Join(errs...)
	}

	for _, name := range slices.Sorted(maps.Keys(chans)) {
		scoped, ok := chans[name].(channels.Scoped)
		if !ok {
			continue
		}
		r, err := scoped.Enter(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("channel %s: %w", name, err), release())
		}
		releases = append(releases, r)
	}

	l.mv = make(map[string]managed.Value, len(l.p.managed))
	scope := managed.Scope{Saver: l.s.saver, Config: l.cfg, Stop: l.stop}
	for _, name := range slices.Sorted(maps.Keys(l.p.managed)) {
		v, err := l.p.managed[name](ctx, scope)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("managed value %s: %w", name, err), release())
		}
		l.mv[name] = v
		if c, ok := v.(io.Closer); ok {
			releases = append(releases, c.Close)
		}
	}
	return release, nil
}

func (l *loop) loop(ctx context.Context, input any) error {
	if input != nil {
		if err := l.applyInput(ctx, input); err != nil {
			return err
		}
	} else {
		// Resuming: proceed past the interrupt that stopped the last run.
		l.cp.VersionsSeen[interruptKey] = maps.Clone(l.cp.ChannelVersions)
	}

	for ; ; l.step++ {
		executing := l.step < l.stop
		tasks, err := l.p.prepare(ctx, l.cp, l.chans, l.mv, l.step, executing)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		if !executing {
			return &RecursionError{Limit: l.s.recursionLimit, Step: l.step}
		}
		if shouldInterrupt(l.cp, l.s.interruptBefore, tasks) {
			l.interrupt("before", tasks)
			return nil
		}
		if err := l.tick(ctx, tasks); err != nil {
			return err
		}
		if shouldInterrupt(l.cp, l.s.interruptAfter, tasks) {
			l.interrupt("after", tasks)
			return nil
		}
	}
}

// applyInput discards the tasks left over by the previous run, writes the
// input and takes the input checkpoint.
func (l *loop) applyInput(ctx context.Context, input any) error {
	discarded, err := l.p.prepare(ctx, l.cp, l.chans, nil, l.step, false)
	if err != nil {
		return err
	}
	writes, err := l.s.input.inputWrites(input)
	if err != nil {
		return fmt.Errorf("%w: input: %v", ErrConfiguration, err)
	}
	if len(writes) == 0 {
		return fmt.Errorf("%w: input maps to none of %s", ErrConfiguration, l.s.input)
	}

	in := &task{name: "input", node: &Node{}, writes: writes}
	l.cp.PendingSends = nil
	written, err := apply(l.cp, l.chans, append(discarded, in), l.nextVersion)
	if err != nil {
		return err
	}
	if err := l.emitValues(written); err != nil {
		return err
	}
	if err := l.put(checkpoint.SourceInput, map[string]any{"input": input}); err != nil {
		return err
	}
	l.step++
	return nil
}

// tick executes one step: run the tasks, apply their writes, checkpoint.
func (l *loop) tick(ctx context.Context, tasks []*task) (err error) {
	start := time.Now()
	ctx, span := l.s.spans.StartStepSpan(ctx, l.step)
	defer func() {
		l.s.spans.EndSpanWithError(span, err)
	}()

	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.name
	}
	observability.LogStepStart(l.logger, l.step, names)
	if l.s.debug {
		l.logger.Info("step plan", zap.Int("step", l.step), zap.Strings("tasks", names))
	}
	for _, t := range tasks {
		if t.node.Hidden() {
			continue
		}
		err := l.debugEvent(DebugTask, TaskPayload{ID: t.id, Name: t.name, Input: t.input, Triggers: t.triggers})
		if err != nil {
			return err
		}
	}

	done, err := l.execute(ctx, tasks)
	if err != nil {
		return err
	}
	for _, t := range done {
		if t.node.Hidden() {
			continue
		}
		if err := l.debugEvent(DebugTaskResult, TaskResultPayload{ID: t.id, Name: t.name, Result: t.queued()}); err != nil {
			return err
		}
	}

	l.cp.PendingSends = nil
	written, err := apply(l.cp, l.chans, done, l.nextVersion)
	if err != nil {
		return fmt.Errorf("step %d: %w", l.step, err)
	}
	l.steps++
	l.s.metrics.RecordStep(ctx, len(done), time.Since(start))

	if err := l.emitValues(written); err != nil {
		return err
	}
	return l.put(checkpoint.SourceLoop, nodeWrites(done, l.s.output))
}

// execute runs tasks concurrently and returns them in completion order.
// The first failure cancels the others.
func (l *loop) execute(ctx context.Context, tasks []*task) ([]*task, error) {
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if l.s.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, l.s.stepTimeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	g, gctx := errgroup.WithContext(stepCtx)
	if l.s.maxWorkers > 0 {
		g.SetLimit(l.s.maxWorkers)
	}
	done := make(chan *task, len(tasks))
	result := make(chan error, 1)
	go func() {
		for _, t := range tasks {
			g.Go(func() error {
				if err := l.runTask(gctx, t); err != nil {
					return err
				}
				done <- t
				return nil
			})
		}
		result <- g.Wait()
	}()

	finished := make([]*task, 0, len(tasks))
	finish := func(t *task) error {
		finished = append(finished, t)
		if t.node.Hidden() {
			return nil
		}
		if v, ok := update(t, l.s.output); ok {
			return l.send(StreamUpdates, map[string]any{t.name: v})
		}
		return nil
	}

	for {
		select {
		case t := <-done:
			if err := finish(t); err != nil {
				cancel()
				<-result
				return nil, err
			}
		case err := <-result:
			if err != nil {
				return nil, l.stepError(ctx, stepCtx, err)
			}
			for {
				select {
				case t := <-done:
					if err := finish(t); err != nil {
						return nil, err
					}
				default:
					return finished, nil
				}
			}
		case <-stepCtx.Done():
			if ctx.Err() == nil {
				// The tasks still running are abandoned to their cancelled context.
				return nil, &StepTimeoutError{Step: l.step, Timeout: l.s.stepTimeout}
			}
			<-result
			return nil, ctx.Err()
		}
	}
}

func (l *loop) stepError(ctx, stepCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return &StepTimeoutError{Step: l.step, Timeout: l.s.stepTimeout}
	}
	return err
}

// runTask invokes the node of t and its writers. Panics become errors.
func (l *loop) runTask(ctx context.Context, t *task) (err error) {
	ctx, span := l.s.spans.StartTaskSpan(ctx, t.name, t.id)
	start := time.Now()
	observability.LogTaskStart(l.logger, t.name, t.id)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Node: t.name, Value: r, Stack: string(debug.Stack())}
		}
		elapsed := time.Since(start)
		if err != nil {
			err = &TaskError{Step: t.step, Node: t.name, TaskID: t.id, Err: err}
			observability.LogTaskError(l.logger, t.name, t.id, err)
		} else {
			observability.LogTaskComplete(l.logger, t.name, t.id, float64(elapsed.Microseconds())/1000, len(t.queued()))
		}
		l.s.metrics.RecordTask(ctx, t.name, elapsed, err)
		l.s.spans.EndSpanWithError(span, err)
	}()

	kw := l.kwargs(t)
	out := t.input
	if !t.node.Bound.IsZero() {
		if out, err = t.node.Bound.Invoke(ctx, t.input, kw); err != nil {
			return err
		}
	}
	for _, w := range t.node.Writers {
		if err := w.Write(ctx, out, kw); err != nil {
			return err
		}
	}
	if l.s.debug {
		l.logger.Info("task writes",
			zap.Int("step", t.step),
			zap.String("node", t.name),
			zap.Any("writes", t.queued()),
		)
	}
	return nil
}

// kwargs returns the keyword arguments of t: the run's kwargs plus the
// task-local send, read and task entries.
func (l *loop) kwargs(t *task) module.Kwargs {
	kw := module.Kwargs{
		KeySend:   l.p.writeFunc(t),
		KeyRead:   l.p.readFunc(l.chans, t),
		KeyTask:   t.info(),
		KeyLogger: observability.EnrichLogger(l.logger, l.cfg.ThreadID, t.step, t.name, t.id),
	}
	if l.s.saver != nil {
		kw[KeyCheckpointer] = l.s.saver
	}
	return module.Merge(l.s.kwargs, kw)
}

// writeFunc returns the WriteFunc queuing writes on t.
func (p *Pregel) writeFunc(t *task) WriteFunc {
	return func(writes ...Write) error {
		writes = slices.Clone(writes)
		for i, w := range writes {
			if w.Channel != Tasks {
				if _, ok := p.channels[w.Channel]; !ok {
					return fmt.Errorf("%w: unknown channel %q", channels.ErrInvalidUpdate, w.Channel)
				}
				continue
			}
			var send Send
			switch v := w.Value.(type) {
			case Send:
				send = v
			case *Send:
				send = *v
			default:
				return fmt.Errorf("%w: %s accepts Send packets, got %T", channels.ErrInvalidUpdate, Tasks, w.Value)
			}
			if _, ok := p.nodes[send.Node]; !ok {
				return fmt.Errorf("%w: send to unknown node %q", channels.ErrInvalidUpdate, send.Node)
			}
			writes[i].Value = send
		}
		t.queue(writes)
		return nil
	}
}

// readFunc returns the ReadFunc of t over chans.
func (p *Pregel) readFunc(chans map[string]channels.Channel, t *task) ReadFunc {
	return func(keys Keys, fresh bool) (any, error) {
		view := chans
		if fresh {
			var err error
			if view, err = overlay(chans, t.queued()); err != nil {
				return nil, err
			}
		}
		return read(view, keys)
	}
}

func (l *loop) nextVersion(current int, channel string) int {
	if l.s.saver != nil {
		return l.s.saver.NextVersion(current, channel)
	}
	return current + 1
}

func (l *loop) interrupt(when string, tasks []*task) {
	l.interrupted = true
	var names []string
	for _, t := range tasks {
		if !t.node.Hidden() {
			names = append(names, t.name)
		}
	}
	observability.LogInterrupt(l.logger, l.cfg.ThreadID, l.step, when, names)
}

// put stamps the current checkpoint and hands a copy to the saver in the
// background. Puts of one run are serialized.
func (l *loop) put(source checkpoint.Source, writes map[string]any) error {
	if err := snapshot(l.cp, l.chans); err != nil {
		return err
	}
	md := checkpoint.Metadata{Source: source, Step: l.step, Writes: writes, Extra: maps.Clone(l.s.tags)}

	if saver := l.s.saver; saver != nil {
		parent, cp, step := l.cfg, l.cp.Copy(), l.step
		l.cfg = checkpoint.Config{ThreadID: parent.ThreadID, ThreadTS: cp.ID}
		l.puts.Go(func() error {
			_, err := saver.Put(l.putCtx, parent, cp, md)
			l.s.metrics.RecordCheckpoint(l.putCtx, string(source), err)
			if err != nil {
				observability.LogCheckpointError(l.logger, parent.ThreadID, step, err)
				return &CheckpointError{Op: "put", Step: step, Err: err}
			}
			observability.LogCheckpoint(l.logger, parent.ThreadID, cp.ID, string(source), step)
			return nil
		})
	}

	if !l.modes[StreamDebug] {
		return nil
	}
	values, _ := read(l.chans, l.s.output)
	return l.debugEvent(DebugCheckpoint, CheckpointPayload{Config: l.cfg, Values: values, Metadata: md})
}

// emitValues emits the output channels when any of them was written.
func (l *loop) emitValues(written []string) error {
	if !l.modes[StreamValues] {
		return nil
	}
	touched := false
	for _, c := range l.s.output.Names() {
		if slices.Contains(written, c) {
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}
	v, err := read(l.chans, l.s.output)
	if errors.Is(err, channels.ErrEmptyChannel) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.send(StreamValues, v)
}

func (l *loop) debugEvent(kind string, payload any) error {
	if !l.modes[StreamDebug] {
		return nil
	}
	return l.send(StreamDebug, DebugEvent{Type: kind, Step: l.step, Timestamp: time.Now().UTC(), Payload: payload})
}

func (l *loop) send(mode StreamMode, data any) error {
	if !l.modes[mode] {
		return nil
	}
	if !l.emit(Chunk{Mode: mode, Data: data}) {
		return errStopped
	}
	return nil
}
