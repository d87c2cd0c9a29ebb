package molt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"moltpfp/internal/domain"
	"moltpfp/internal/history"
	"moltpfp/internal/infra"
)

// State is a step of the molt cycle.
type State string

const (
	StateIdle       State = "idle"
	StateGuarding   State = "guarding"
	StateReflecting State = "reflecting"
	StateGenerating State = "generating"
	StateUploading  State = "uploading"
	StateLogging    State = "logging"
	StateComplete   State = "complete"
	StateAborted    State = "aborted"
	StateFailed     State = "failed"
)

// ReasonAlreadyMoltedToday is the CycleResult.Reason of a guarded cycle.
const ReasonAlreadyMoltedToday = "already_molted_today"

// Generator produces an image URL for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

// ImageFetcher downloads the generated image.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// UploadSink publishes the new avatar and returns the remote response.
type UploadSink interface {
	Upload(ctx context.Context, data []byte, filename string) (json.RawMessage, error)
}

// CycleRequest asks for one molt.
type CycleRequest struct {
	// Force skips the once-per-day guard.
	Force       bool
	Mood        string
	RecentTasks string
}

// CycleResult is the outcome of Execute. Exactly one of Reason and Error is
// set when Success is false.
type CycleResult struct {
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DayNumber  int    `json:"dayNumber,omitempty"`
	Reflection string `json:"reflection,omitempty"`
	Prompt     string `json:"-"`
	ImageURL   string `json:"imageUrl,omitempty"`
	State      State  `json:"-"`
}

// Controller runs molt cycles. Calls to Execute on one controller are
// serialized; the history store serializes across controllers and processes.
type Controller struct {
	mu sync.Mutex

	store     history.Store
	generator Generator
	fetcher   ImageFetcher
	sink      UploadSink

	reflect ReflectionFunc
	prompt  PromptBuilder
	now     func() time.Time
	logger  *infra.Logger
}

// ControllerOption tunes a Controller.
type ControllerOption func(*Controller)

// WithReflection replaces the reflection source.
func WithReflection(fn ReflectionFunc) ControllerOption {
	return func(c *Controller) { c.reflect = fn }
}

// WithPromptBuilder replaces the prompt template.
func WithPromptBuilder(fn PromptBuilder) ControllerOption {
	return func(c *Controller) { c.prompt = fn }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the controller logger.
func WithLogger(l *infra.Logger) ControllerOption {
	return func(c *Controller) { c.logger = infra.OrDiscard(l) }
}

// NewController wires a controller. Reflection and prompt default to
// DefaultTheme.
func NewController(store history.Store, generator Generator, fetcher ImageFetcher, sink UploadSink, opts ...ControllerOption) *Controller {
	theme := DefaultTheme()
	c := &Controller{
		store:     store,
		generator: generator,
		fetcher:   fetcher,
		sink:      sink,
		reflect:   theme.Reflector(nil),
		prompt:    theme.PromptBuilder(""),
		now:       time.Now,
		logger:    infra.OrDiscard(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs one molt cycle. It never returns an error: every failure,
// panics included, is reported in the result.
func (c *Controller) Execute(ctx context.Context, req CycleRequest) (res CycleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res.State = StateIdle
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("state", string(res.State)).Msg("molt: cycle panicked")
			res = c.fail(res, fmt.Errorf("internal error during %s: %v", res.State, r))
		}
	}()

	now := c.now()

	c.enter(&res, StateGuarding)
	log, err := c.store.List(ctx)
	if err != nil {
		return c.fail(res, fmt.Errorf("read history: %w", err))
	}
	if !req.Force && domain.MoltedOn(log, now) {
		return c.abort(res)
	}
	day := len(log) + 1

	c.enter(&res, StateReflecting)
	res.Reflection = c.reflect(ReflectionContext{Mood: req.Mood, RecentTasks: req.RecentTasks, DayNumber: day})
	c.logger.Debug().Str("reflection", res.Reflection).Msg("molt: reflection")

	c.enter(&res, StateGenerating)
	prompt := c.prompt(res.Reflection)
	res.Prompt = prompt.Text
	url, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return c.fail(res, err)
	}
	res.ImageURL = url

	c.enter(&res, StateUploading)
	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return c.fail(res, err)
	}
	upload, err := c.sink.Upload(ctx, data, fmt.Sprintf("molt-%d.png", c.now().UnixMilli()))
	if err != nil {
		return c.fail(res, err)
	}

	c.enter(&res, StateLogging)
	var guard domain.Guard
	if !req.Force {
		guard = domain.OncePerDay(now)
	}
	record, err := c.store.Append(ctx, domain.MoltEntry{
		Reflection:   res.Reflection,
		Prompt:       res.Prompt,
		ImageURL:     url,
		UploadResult: upload,
	}, guard)
	if errors.Is(err, domain.ErrAlreadyMoltedToday) {
		return c.abort(res)
	}
	if err != nil {
		return c.fail(res, fmt.Errorf("log molt: %w", err))
	}

	res.DayNumber = record.DayNumber
	res.Success = true
	c.enter(&res, StateComplete)
	return res
}

func (c *Controller) enter(res *CycleResult, state State) {
	res.State = state
	c.logger.Info().Str("state", string(state)).Int("day", res.DayNumber).Msg("molt: state")
}

func (c *Controller) abort(res CycleResult) CycleResult {
	res.Success = false
	res.Reason = ReasonAlreadyMoltedToday
	c.enter(&res, StateAborted)
	return res
}

func (c *Controller) fail(res CycleResult, err error) CycleResult {
	c.logger.Error().Err(err).Str("state", string(res.State)).Msg("molt: cycle failed")
	res.Success = false
	res.Error = err.Error()
	res.DayNumber = 0
	res.State = StateFailed
	return res
}
