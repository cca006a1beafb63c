// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/teracyte/liveview/lib/auth"
	"github.com/teracyte/liveview/lib/poll"
	"github.com/teracyte/liveview/lib/secret"
)

// Authenticator signs in with a username and password. *auth.Manager
// implements it.
type Authenticator interface {
	Login(ctx context.Context, username string, password *secret.Buffer) (auth.Credential, error)
}

// Engine is the poll loop the live screen drives. *poll.Engine
// implements it.
type Engine interface {
	Start()
	RefreshNow(ctx context.Context) (poll.Outcome, error)
	Updates() <-chan poll.Update
	SessionExpired() <-chan struct{}
}

// Screen identifies which screen is shown.
type Screen int

const (
	// ScreenLogin collects credentials.
	ScreenLogin Screen = iota
	// ScreenLive shows the current frame, its analysis, and history.
	ScreenLive
)

const (
	// DefaultLoginTimeout bounds one sign-in attempt.
	DefaultLoginTimeout = 15 * time.Second

	// noticeFadeDelay is how long a manual refresh result stays in the
	// status bar.
	noticeFadeDelay = 5 * time.Second
)

// Config holds configuration for creating a Model.
type Config struct {
	// Auth and Engine are required.
	Auth   Authenticator
	Engine Engine

	// Username pre-fills the login form.
	Username string

	// LoggedIn starts on the live screen, for sessions established
	// before the program started (a configured password file).
	LoggedIn bool

	// LoginTimeout defaults to DefaultLoginTimeout.
	LoginTimeout time.Duration
}

// updateMsg carries one engine Update into the message loop.
type updateMsg struct {
	update poll.Update
}

// sessionStartedMsg is sent once the engine is running. expired is the
// one-shot expiry channel of that run.
type sessionStartedMsg struct {
	expired <-chan struct{}
}

// sessionExpiredMsg is sent when the current run ends in expiry.
type sessionExpiredMsg struct{}

type loginResultMsg struct {
	credential auth.Credential
	err        error
}

type refreshResultMsg struct {
	outcome poll.Outcome
	err     error
}

type noticeFadeMsg struct {
	generation int
}

// Model is the top-level bubbletea model for the live viewer.
type Model struct {
	auth         Authenticator
	engine       Engine
	theme        Theme
	keys         KeyMap
	loginTimeout time.Duration
	startLive    bool

	// Terminal dimensions (set by WindowSizeMsg).
	width  int
	height int
	ready  bool

	screen Screen

	// Login form.
	username   textinput.Model
	password   textinput.Model
	loggingIn  bool
	loginError string

	// Live screen.
	state      poll.State
	hasState   bool
	starting   bool
	refreshing bool
	history    viewport.Model

	// cursor indexes the selected history entry. selectedID pins the
	// selection to an image as new entries arrive at the head, unless
	// the cursor sits on the head and nothing is being inspected.
	cursor     int
	selectedID string
	inspecting bool

	// Status bar notices. Each fade carries the generation it was
	// scheduled for, so a newer notice is not cleared early.
	notice           string
	noticeIsError    bool
	noticeGeneration int
	logNotice        string
	logLevel         slog.Level
	logGeneration    int
}

// NewModel creates the viewer model.
func NewModel(config Config) Model {
	username := textinput.New()
	username.Prompt = "Username: "
	username.Placeholder = "operator"
	username.CharLimit = 128
	username.SetValue(config.Username)

	password := textinput.New()
	password.Prompt = "Password: "
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 256

	if config.Username == "" {
		username.Focus()
	} else {
		password.Focus()
	}

	loginTimeout := config.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = DefaultLoginTimeout
	}

	model := Model{
		auth:         config.Auth,
		engine:       config.Engine,
		theme:        DefaultTheme,
		keys:         DefaultKeyMap,
		loginTimeout: loginTimeout,
		startLive:    config.LoggedIn,
		screen:       ScreenLogin,
		username:     username,
		password:     password,
		history:      viewport.New(0, 0),
	}
	model.applyInputStyles()
	if config.LoggedIn {
		model.screen = ScreenLive
		model.starting = true
	}
	return model
}

// Screen returns the screen currently shown.
func (model Model) Screen() Screen { return model.screen }

// Init implements tea.Model. Starts listening for engine updates and,
// when the session already exists, starts the engine.
func (model Model) Init() tea.Cmd {
	commands := []tea.Cmd{listenForUpdate(model.engine.Updates())}
	if model.startLive {
		commands = append(commands, startSession(model.engine))
	} else {
		commands = append(commands, textinput.Blink)
	}
	return tea.Batch(commands...)
}

// listenForUpdate blocks until the engine publishes, then delivers the
// Update as an updateMsg. A closed channel ends listening.
func listenForUpdate(channel <-chan poll.Update) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-channel
		if !ok {
			return nil
		}
		return updateMsg{update: update}
	}
}

// startSession starts the engine. Start may wait for an expired run to
// wind down, so it runs off the event loop.
func startSession(engine Engine) tea.Cmd {
	return func() tea.Msg {
		engine.Start()
		return sessionStartedMsg{expired: engine.SessionExpired()}
	}
}

func waitForExpiry(expired <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-expired
		return sessionExpiredMsg{}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		if model.screen == ScreenLogin {
			return model.handleLoginKeys(message)
		}
		return model.handleLiveKeys(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.updateLayout()

	case updateMsg:
		model.state = message.update.State
		model.hasState = true
		model.starting = false
		model.syncHistory()
		return model, listenForUpdate(model.engine.Updates())

	case sessionStartedMsg:
		model.screen = ScreenLive
		return model, waitForExpiry(message.expired)

	case sessionExpiredMsg:
		model.screen = ScreenLogin
		model.refreshing = false
		model.loginError = poll.OverlayExpired
		model.password.Reset()
		model.username.Blur()
		return model, tea.Batch(model.password.Focus(), textinput.Blink)

	case loginResultMsg:
		model.loggingIn = false
		if message.err != nil {
			model.loginError = loginErrorText(message.err)
			return model, nil
		}
		model.loginError = ""
		model.starting = true
		return model, startSession(model.engine)

	case refreshResultMsg:
		model.refreshing = false
		if errors.Is(message.err, context.Canceled) || message.outcome == poll.OutcomeSessionExpired {
			return model, nil
		}
		text, isError := refreshNoticeText(message.outcome, message.err)
		return model, model.setNotice(text, isError)

	case noticeFadeMsg:
		if message.generation == model.noticeGeneration {
			model.notice = ""
		}

	case logRecordMsg:
		model.logNotice = message.Summary
		model.logLevel = message.Level
		model.logGeneration++
		generation := model.logGeneration
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{generation: generation}
		})

	case logRecordFadeMsg:
		if message.generation == model.logGeneration {
			model.logNotice = ""
		}

	default:
		if model.screen == ScreenLogin {
			return model.updateInputs(message)
		}
	}
	return model, nil
}

func (model Model) handleLoginKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Cancel):
		return model, tea.Quit

	case model.loggingIn:
		return model, nil

	case key.Matches(message, model.keys.NextField), key.Matches(message, model.keys.PreviousField):
		return model, model.toggleField()

	case key.Matches(message, model.keys.Submit):
		if model.username.Focused() && model.password.Value() == "" {
			return model, model.toggleField()
		}
		return model.submitLogin()
	}
	return model.updateInputs(message)
}

// updateInputs forwards a message to the focused field.
func (model Model) updateInputs(message tea.Msg) (tea.Model, tea.Cmd) {
	var command tea.Cmd
	if model.username.Focused() {
		model.username, command = model.username.Update(message)
	} else {
		model.password, command = model.password.Update(message)
	}
	return model, command
}

func (model *Model) toggleField() tea.Cmd {
	if model.username.Focused() {
		model.username.Blur()
		return model.password.Focus()
	}
	model.password.Blur()
	return model.username.Focus()
}

// submitLogin validates the form and runs the sign-in off the event
// loop. The password leaves the text field as soon as it is copied into
// a secret buffer.
func (model Model) submitLogin() (tea.Model, tea.Cmd) {
	username := model.username.Value()
	if username == "" {
		model.loginError = "Username is required"
		return model, nil
	}
	password, err := secret.NewFromString(model.password.Value())
	model.password.Reset()
	if errors.Is(err, secret.ErrEmpty) {
		model.loginError = "Password is required"
		return model, nil
	}
	if err != nil {
		model.loginError = err.Error()
		return model, nil
	}

	model.loggingIn = true
	model.loginError = ""
	authenticator, timeout := model.auth, model.loginTimeout
	return model, func() tea.Msg {
		defer password.Close()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		credential, err := authenticator.Login(ctx, username, password)
		return loginResultMsg{credential: credential, err: err}
	}
}

func loginErrorText(err error) string {
	var authError *auth.AuthError
	if errors.As(err, &authError) &&
		(authError.StatusCode == http.StatusUnauthorized || authError.StatusCode == http.StatusForbidden) {
		return "Invalid username or password"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Sign-in timed out"
	}
	return err.Error()
}

func (model Model) handleLiveKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Refresh):
		if model.refreshing {
			return model, nil
		}
		model.refreshing = true
		model.notice = "Fetching data..."
		model.noticeIsError = false
		model.noticeGeneration++
		engine := model.engine
		return model, func() tea.Msg {
			outcome, err := engine.RefreshNow(context.Background())
			return refreshResultMsg{outcome: outcome, err: err}
		}

	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-max(1, model.history.Height))
	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(max(1, model.history.Height))

	case key.Matches(message, model.keys.Inspect):
		if len(model.state.History) > 0 {
			model.inspecting = !model.inspecting
		}
	case key.Matches(message, model.keys.Back):
		model.inspecting = false
	}
	return model, nil
}

// moveCursor moves the history selection by delta entries, clamped to
// the list, and scrolls it into view.
func (model *Model) moveCursor(delta int) {
	count := len(model.state.History)
	if count == 0 {
		return
	}
	model.cursor = min(max(model.cursor+delta, 0), count-1)
	model.selectedID = model.state.History[model.cursor].ImageID
	model.syncHistory()
}

// selectedEntry returns the history entry under the cursor.
func (model Model) selectedEntry() (poll.HistoryEntry, bool) {
	if model.cursor < 0 || model.cursor >= len(model.state.History) {
		return poll.HistoryEntry{}, false
	}
	return model.state.History[model.cursor], true
}

// refreshNoticeText is the concise status-bar text for a manual
// refresh. Details go to the log.
func refreshNoticeText(outcome poll.Outcome, err error) (string, bool) {
	if errors.Is(err, poll.ErrBusy) {
		return "Refresh already in progress", false
	}
	switch outcome {
	case poll.OutcomeValid:
		return "Updated successfully", false
	case poll.OutcomeNoChange:
		if err != nil {
			return "Error: " + err.Error(), true
		}
		return "No new image", false
	case poll.OutcomePendingResult:
		return poll.StatusFetching, false
	case poll.OutcomeMismatchedCorrelation:
		return poll.StatusWaiting, false
	case poll.OutcomeInvalid:
		return "Error: " + err.Error(), true
	case poll.OutcomeTransientFailure:
		if errors.Is(err, context.DeadlineExceeded) {
			return "Error: refresh timed out", true
		}
		return "Error: " + err.Error(), true
	}
	return fmt.Sprintf("Refresh finished: %s", outcome), false
}

func (model *Model) setNotice(text string, isError bool) tea.Cmd {
	model.notice = text
	model.noticeIsError = isError
	model.noticeGeneration++
	generation := model.noticeGeneration
	return tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{generation: generation}
	})
}
