// File: cmd/replay.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/histcore/api/schemas"
	"github.com/xkilldash9x/histcore/internal/browser/history"
	"github.com/xkilldash9x/histcore/internal/browser/navigable"
	"github.com/xkilldash9x/histcore/internal/browser/navigation"
	"github.com/xkilldash9x/histcore/internal/bus"
	"github.com/xkilldash9x/histcore/internal/config"
	"github.com/xkilldash9x/histcore/internal/constellation"
	"github.com/xkilldash9x/histcore/internal/observability"
	"github.com/xkilldash9x/histcore/internal/store"
)

// Scenario is a scripted browsing session for one traversable.
type Scenario struct {
	Traversable string         `yaml:"traversable"`
	URL         string         `yaml:"url"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one operation of a scenario.
//
// Ops sent as script messages: load, abort, fragment, push_state,
// replace_state, back, forward and reload. Ops that go through the
// Navigation API of the top-level document: navigate, nav_back, nav_forward,
// nav_reload and traverse_to (Index is the target entry index).
type ScenarioStep struct {
	Op       string `yaml:"op"`
	URL      string `yaml:"url,omitempty"`
	Behavior string `yaml:"behavior,omitempty"`
	State    any    `yaml:"state,omitempty"`
	Steps    int    `yaml:"steps,omitempty"`
	Index    int    `yaml:"index,omitempty"`
	// ExpectError marks a step that must fail; the replay continues.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

type replayOptions struct {
	save    bool
	restore string
}

func newReplayCmd(provider storeProvider) *cobra.Command {
	var opts replayOptions

	replayCmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scripted browsing session and print its session history",
		Long: `Runs the steps of a YAML scenario against a fresh traversable, or one
restored from the snapshot store, and prints the resulting session history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			return runReplay(ctx, observability.GetLogger(), cfg, sc, opts, provider, cmd.OutOrStdout())
		},
	}

	replayCmd.Flags().BoolVar(&opts.save, "save", false, "Save the final session history to the snapshot store")
	replayCmd.Flags().StringVar(&opts.restore, "restore", "", "Start from the stored snapshot of this traversable instead of the scenario URL")
	replayCmd.Flags().String("store", "", "Snapshot store driver (none, sqlite, postgres)")
	replayCmd.Flags().String("sqlite-path", "", "Path of the SQLite snapshot database")
	replayCmd.Flags().Int("max-entries", 0, "Cap on session history entries per traversable (0 is unlimited)")
	return replayCmd
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return parseScenario(data)
}

func parseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Traversable == "" {
		sc.Traversable = uuid.NewString()
	}
	if sc.URL == "" {
		sc.URL = "about:blank"
	}
	for i, st := range sc.Steps {
		if _, ok := stepOps[st.Op]; !ok {
			return nil, fmt.Errorf("step %d: unknown op %q", i, st.Op)
		}
	}
	return &sc, nil
}

// replaySession is the state one replay runs against.
type replaySession struct {
	logger *zap.Logger
	cfg    config.Interface
	c      *constellation.Constellation
	t      *navigable.Traversable
	nav    *navigation.Navigation
}

type stepFunc func(s *replaySession, ctx context.Context, st ScenarioStep) error

var stepOps = map[string]stepFunc{
	"load":          (*replaySession).load,
	"abort":         (*replaySession).abort,
	"fragment":      (*replaySession).fragment,
	"push_state":    (*replaySession).pushState,
	"replace_state": (*replaySession).replaceState,
	"back":          (*replaySession).back,
	"forward":       (*replaySession).forward,
	"reload":        (*replaySession).reload,
	"navigate":      (*replaySession).navigate,
	"nav_back":      (*replaySession).navBack,
	"nav_forward":   (*replaySession).navForward,
	"nav_reload":    (*replaySession).navReload,
	"traverse_to":   (*replaySession).traverseTo,
}

func runReplay(ctx context.Context, logger *zap.Logger, cfg config.Interface, sc *Scenario, opts replayOptions, provider storeProvider, out io.Writer) error {
	logger = logger.With(zap.String("traversable_id", sc.Traversable))

	var repo store.Repository
	if opts.save || opts.restore != "" {
		r, cleanup, err := openStore(ctx, cfg, provider)
		if err != nil {
			return err
		}
		defer cleanup()
		repo = r
	}

	b := bus.New(logger, cfg.Bus().BufferSize)
	defer b.Shutdown()
	c := constellation.New(logger, b, cfg.History())
	defer func() {
		if err := c.Shutdown(); err != nil {
			logger.Warn("Constellation shutdown failed", zap.Error(err))
		}
	}()

	t, err := openTraversable(ctx, logger, cfg, c, repo, sc, opts.restore)
	if err != nil {
		return err
	}

	doc, err := navigation.NewDocument(t, t.Root().ID(), logger)
	if err != nil {
		return err
	}
	nav, err := navigation.New(logger, doc,
		navigation.WithMaxStateBytes(cfg.History().MaxStateBytes),
		navigation.WithEntryCacheSize(cfg.History().EntryCacheSize))
	if err != nil {
		return err
	}
	nav.Start(ctx)
	defer nav.Stop()

	s := &replaySession{logger: logger, cfg: cfg, c: c, t: t, nav: nav}
	for i, st := range sc.Steps {
		err := stepOps[st.Op](s, ctx, st)
		if err == nil {
			err = s.barrier(ctx)
		}
		switch {
		case err != nil && st.ExpectError:
			logger.Debug("Step failed as expected", zap.Int("step", i), zap.String("op", st.Op), zap.Error(err))
		case err != nil:
			return fmt.Errorf("step %d (%s): %w", i, st.Op, err)
		case st.ExpectError:
			return fmt.Errorf("step %d (%s): expected an error", i, st.Op)
		}
	}

	if err := printSession(out, t, nav); err != nil {
		return err
	}

	if opts.save {
		snap := t.Snapshot()
		if err := repo.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		logger.Info("Saved session snapshot", zap.Int("entries", len(snap.Entries)))
	}
	return nil
}

// openTraversable starts the scenario's traversable, either fresh or from
// the stored snapshot of restoreID.
func openTraversable(ctx context.Context, logger *zap.Logger, cfg config.Interface, c *constellation.Constellation, repo store.Repository, sc *Scenario, restoreID string) (*navigable.Traversable, error) {
	if restoreID == "" {
		return c.Open(ctx, sc.Traversable, sc.URL)
	}
	snap, err := repo.LoadSnapshot(ctx, restoreID)
	if err != nil {
		return nil, err
	}
	// The restored history continues under the scenario's id.
	snap.TraversableID = sc.Traversable
	t, err := navigable.Restore(logger, snap, navigable.WithMaxEntries(cfg.History().MaxEntries))
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", restoreID, err)
	}
	if err := c.Add(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// barrier waits until everything queued so far has run, first on the
// traversal queue and then on the Navigation API's task source, which the
// traversal queue feeds.
func (s *replaySession) barrier(ctx context.Context) error {
	noop := func(context.Context) {}
	if err := s.t.Queue().Do(ctx, "replay barrier", noop); err != nil {
		return err
	}
	return s.nav.TaskSource().Do(ctx, "replay barrier", noop)
}

func (s *replaySession) send(ctx context.Context, msgType schemas.MessageType, payload interface{}) error {
	return s.c.Handle(ctx, bus.Message{ID: uuid.NewString(), Type: msgType, Payload: payload})
}

func (s *replaySession) state(st ScenarioStep) ([]byte, error) {
	return history.SerializeState(st.State, s.cfg.History().MaxStateBytes)
}

func (s *replaySession) load(ctx context.Context, st ScenarioStep) error {
	state, err := s.state(st)
	if err != nil {
		return err
	}
	return s.send(ctx, schemas.MessageLoadURL, schemas.LoadURLMessage{
		TraversableID: s.t.ID(),
		Load:          schemas.LoadData{URL: st.URL, NavigationAPIState: state},
		Behavior:      schemas.NavigationHistoryBehavior(st.Behavior),
	})
}

func (s *replaySession) abort(ctx context.Context, _ ScenarioStep) error {
	return s.send(ctx, schemas.MessageAbortLoadURL, schemas.AbortLoadURLMessage{TraversableID: s.t.ID()})
}

func (s *replaySession) fragment(ctx context.Context, st ScenarioStep) error {
	return s.send(ctx, schemas.MessageNavigatedToFragment, schemas.NavigatedToFragmentMessage{
		TraversableID: s.t.ID(),
		URL:           st.URL,
		Behavior:      schemas.NavigationHistoryBehavior(st.Behavior),
	})
}

func (s *replaySession) historyState(ctx context.Context, msgType schemas.MessageType, st ScenarioStep) error {
	state, err := s.state(st)
	if err != nil {
		return err
	}
	return s.send(ctx, msgType, schemas.HistoryStateMessage{
		TraversableID: s.t.ID(),
		StateID:       schemas.HistoryStateID(uuid.NewString()),
		URL:           st.URL,
		State:         state,
	})
}

func (s *replaySession) pushState(ctx context.Context, st ScenarioStep) error {
	return s.historyState(ctx, schemas.MessagePushHistoryState, st)
}

func (s *replaySession) replaceState(ctx context.Context, st ScenarioStep) error {
	return s.historyState(ctx, schemas.MessageReplaceHistoryState, st)
}

func stepsOrOne(st ScenarioStep) int {
	if st.Steps <= 0 {
		return 1
	}
	return st.Steps
}

func (s *replaySession) back(ctx context.Context, st ScenarioStep) error {
	return s.send(ctx, schemas.MessageTraverseHistory, schemas.TraverseHistoryMessage{
		TraversableID: s.t.ID(),
		Direction:     schemas.Back(stepsOrOne(st)),
	})
}

func (s *replaySession) forward(ctx context.Context, st ScenarioStep) error {
	return s.send(ctx, schemas.MessageTraverseHistory, schemas.TraverseHistoryMessage{
		TraversableID: s.t.ID(),
		Direction:     schemas.Forward(stepsOrOne(st)),
	})
}

func (s *replaySession) reload(ctx context.Context, _ ScenarioStep) error {
	doc, err := navigation.NewDocument(s.t, s.t.Root().ID(), s.logger)
	if err != nil {
		return err
	}
	var reloadErr error
	if err := s.t.Queue().Do(ctx, "replay reload", func(ctx context.Context) {
		reloadErr = doc.Reload(ctx)
	}); err != nil {
		return err
	}
	return reloadErr
}

// await waits for the finished promise of a Navigation API call.
func (s *replaySession) await(ctx context.Context, res navigation.Result) error {
	if timeout := s.cfg.History().TraversalTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := res.Finished.Await(ctx)
	return err
}

func (s *replaySession) navigate(ctx context.Context, st ScenarioStep) error {
	return s.await(ctx, s.nav.Navigate(st.URL, navigation.NavigateOptions{
		State:   st.State,
		History: schemas.NavigationHistoryBehavior(st.Behavior),
	}))
}

func (s *replaySession) navBack(ctx context.Context, _ ScenarioStep) error {
	return s.await(ctx, s.nav.Back(navigation.Options{}))
}

func (s *replaySession) navForward(ctx context.Context, _ ScenarioStep) error {
	return s.await(ctx, s.nav.Forward(navigation.Options{}))
}

func (s *replaySession) navReload(ctx context.Context, st ScenarioStep) error {
	return s.await(ctx, s.nav.Reload(navigation.ReloadOptions{State: st.State}))
}

func (s *replaySession) traverseTo(ctx context.Context, st ScenarioStep) error {
	entries := s.nav.Entries()
	if st.Index < 0 || st.Index >= len(entries) {
		return fmt.Errorf("no navigation entry at index %d (have %d)", st.Index, len(entries))
	}
	return s.await(ctx, s.nav.TraverseTo(entries[st.Index].Key(), navigation.Options{}))
}

func printSession(out io.Writer, t *navigable.Traversable, nav *navigation.Navigation) error {
	active := t.Root().ActiveEntry()
	fmt.Fprintf(out, "traversable %s: current step %d, %d used steps\n", t.ID(), t.CurrentStep(), len(t.GetAllUsedHistorySteps()))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tSTEP\tDOCUMENT\tKEY\tURL")
	for _, e := range t.Entries() {
		marker := ""
		if e == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", marker, e.Step, e.DocumentID(), e.NavigationAPIKey, e.URLString())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if nav.HasEntriesAndEventsDisabled() {
		fmt.Fprintln(out, "navigation API: entries disabled")
		return nil
	}
	fmt.Fprintf(out, "navigation API: index %d of %d, canGoBack=%t canGoForward=%t\n",
		nav.CurrentEntryIndex(), len(nav.Entries()), nav.CanGoBack(), nav.CanGoForward())
	return nil
}
